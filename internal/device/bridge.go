package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PermissionSetting is the platform answer configured for a resource.
type PermissionSetting string

// Permission settings understood by the bridge file.
const (
	SettingGranted PermissionSetting = "granted"
	SettingPrompt  PermissionSetting = "prompt"
	SettingDenied  PermissionSetting = "denied"
)

// bridgeFile is the on-disk document exported by the native side.
type bridgeFile struct {
	Permissions map[Resource]PermissionSetting `yaml:"permissions"`
	Contacts    []Contact                      `yaml:"contacts"`
}

// Bridge is a Provider backed by a YAML document exported by a native host
// (a mobile shell or a desktop address book exporter). The file is re-read on
// every call so the host can update it while the client runs.
type Bridge struct {
	path    string
	mu      sync.Mutex
	granted map[Resource]bool
}

// NewBridge creates a bridge provider. grants pre-grant resources regardless
// of the file. An empty path behaves like an empty file.
func NewBridge(path string, grants ...Resource) *Bridge {
	b := &Bridge{path: path, granted: make(map[Resource]bool)}
	for _, r := range grants {
		b.granted[r] = true
	}
	return b
}

func (b *Bridge) load() (*bridgeFile, error) {
	var doc bridgeFile
	if strings.TrimSpace(b.path) == "" {
		return &doc, nil
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &doc, nil
		}
		return nil, fmt.Errorf("read device bridge file: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse device bridge file %s: %w", b.path, err)
	}
	return &doc, nil
}

// CheckPermission implements Provider.
func (b *Bridge) CheckPermission(_ context.Context, r Resource) (bool, error) {
	b.mu.Lock()
	granted := b.granted[r]
	b.mu.Unlock()
	if granted {
		return true, nil
	}
	doc, err := b.load()
	if err != nil {
		return false, err
	}
	return doc.Permissions[r] == SettingGranted, nil
}

// RequestPermission implements Provider. Anything but an explicit denial is allowed.
func (b *Bridge) RequestPermission(ctx context.Context, r Resource) (bool, error) {
	doc, err := b.load()
	if err != nil {
		return false, err
	}
	if doc.Permissions[r] == SettingDenied {
		return false, nil
	}
	b.mu.Lock()
	b.granted[r] = true
	b.mu.Unlock()
	return true, nil
}

// SyncDeviceContacts implements Provider.
func (b *Bridge) SyncDeviceContacts(_ context.Context) ([]Contact, error) {
	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	contacts := make([]Contact, 0, len(doc.Contacts))
	for _, c := range doc.Contacts {
		c.Name = strings.TrimSpace(c.Name)
		contacts = append(contacts, c)
	}
	return contacts, nil
}
