// Package device abstracts the platform capabilities the client needs:
// permission checks for sensitive resources and reading the device address book.
package device

import (
	"context"
	"fmt"
	"strings"
)

// Resource is a sensitive device resource guarded by a permission.
type Resource string

// Resources.
const (
	Camera   Resource = "camera"
	Contacts Resource = "contacts"
	Storage  Resource = "storage"
)

// Resources lists every known resource in display order.
var Resources = []Resource{Camera, Contacts, Storage}

// ParseResource parses a resource name.
func ParseResource(s string) (Resource, error) {
	r := Resource(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case Camera, Contacts, Storage:
		return r, nil
	default:
		return "", fmt.Errorf("unknown resource %q", s)
	}
}

// Contact is an address book entry read from the device.
type Contact struct {
	Name    string `yaml:"name" json:"name"`
	Phone   string `yaml:"phone" json:"phone,omitempty"`
	Email   string `yaml:"email" json:"email,omitempty"`
	Address string `yaml:"address" json:"address,omitempty"`
}

// Provider is the capability interface the controllers depend on.
type Provider interface {
	// CheckPermission reports whether access was already granted, without prompting.
	CheckPermission(ctx context.Context, r Resource) (bool, error)
	// RequestPermission asks for access and reports the answer.
	RequestPermission(ctx context.Context, r Resource) (bool, error)
	// SyncDeviceContacts reads the device address book.
	SyncDeviceContacts(ctx context.Context) ([]Contact, error)
}
