package faceapi

import (
	"context"
	"fmt"
)

// Detect submits an image to POST /detect-face. Detected faces are paired
// with the stored face records of the response so each carries its server id.
func (c *Client) Detect(ctx context.Context, file File) (*DetectionResult, error) {
	result, err := doPostMultipart[DetectionResult](ctx, c, "detect-face", file)
	if err != nil {
		return nil, err
	}
	if len(result.StoredFaces) == len(result.Faces) {
		for i := range result.Faces {
			if result.Faces[i].ID == 0 {
				result.Faces[i].ID = result.StoredFaces[i].ID
			}
		}
	}
	return result, nil
}

// History retrieves the face detection history in server order.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	result, err := doGetJSON[[]HistoryEntry](ctx, c, "faces")
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// LinkFaceToContact associates a stored face with a contact.
func (c *Client) LinkFaceToContact(ctx context.Context, faceID, contactID int) (*Ack, error) {
	body := struct {
		ContactID int `json:"contact_id"`
	}{ContactID: contactID}
	return doPostJSON[Ack](ctx, c, fmt.Sprintf("faces/%d/link-contact", faceID), body)
}
