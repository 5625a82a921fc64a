package faceapi

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kozaktomas/facelink/internal/apperr"
)

// ScanDirectory asks the server to scan a directory it can read.
func (c *Client) ScanDirectory(ctx context.Context, directory string) (*ScanResult, error) {
	body := struct {
		Directory string `json:"directory"`
	}{Directory: directory}
	return doPostJSON[ScanResult](ctx, c, "photos/scan", body)
}

// ScanFile uploads a single photo to be scanned.
func (c *Client) ScanFile(ctx context.Context, file File) (*ScanResult, error) {
	return doPostMultipart[ScanResult](ctx, c, "photos/scan", file)
}

// LinkPhotoToFace associates a photo with a face.
func (c *Client) LinkPhotoToFace(ctx context.Context, photoID, faceID int) (*Ack, error) {
	body := struct {
		FaceID int `json:"face_id"`
	}{FaceID: faceID}
	return doPostJSON[Ack](ctx, c, fmt.Sprintf("photos/%d/link-face", photoID), body)
}

// OrganizePhotos retrieves the server's grouping of photos by identity.
func (c *Client) OrganizePhotos(ctx context.Context) ([]FaceGroup, error) {
	result, err := doGetJSON[organizeResponse](ctx, c, "photos/organize")
	if err != nil {
		return nil, err
	}
	return result.Groups, nil
}

// FetchPhoto downloads the binary payload of a photo by filename.
func (c *Client) FetchPhoto(ctx context.Context, filename string) (*Blob, error) {
	if filename == "" {
		return nil, apperr.Validation("filename", "Photo filename is required")
	}
	return doGetRaw(ctx, c, "photos/"+url.PathEscape(filename))
}
