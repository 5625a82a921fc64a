package faceapi

import "context"

// ListContacts retrieves all contacts in server order.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	result, err := doGetJSON[[]Contact](ctx, c, "contacts")
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// CreateContact creates a contact and returns it with the id assigned by the server.
func (c *Client) CreateContact(ctx context.Context, fields ContactFields) (*Contact, error) {
	created, err := doPostJSON[contactCreated](ctx, c, "contacts", fields)
	if err != nil {
		return nil, err
	}
	return &Contact{
		ID:         created.ID,
		Name:       fields.Name,
		Phone:      fields.Phone,
		Email:      fields.Email,
		Address:    fields.Address,
		BirthDate:  fields.BirthDate,
		Occupation: fields.Occupation,
		Notes:      fields.Notes,
	}, nil
}
