package device

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeBridgeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write bridge file: %v", err)
	}
	return path
}

func TestParseResource(t *testing.T) {
	for _, name := range []string{"camera", "Contacts", " storage "} {
		if _, err := ParseResource(name); err != nil {
			t.Errorf("ParseResource(%q) failed: %v", name, err)
		}
	}
	if _, err := ParseResource("microphone"); err == nil {
		t.Error("expected error for unknown resource")
	}
}

func TestBridge(t *testing.T) {
	path := writeBridgeFile(t, `
permissions:
  camera: granted
  storage: denied
contacts:
  - name: " John Doe "
    phone: "+1234567890"
    email: john@example.com
    address: 123 Main St
  - name: Jane Smith
    phone: "+0987654321"
`)
	b := NewBridge(path)
	ctx := context.Background()

	if ok, err := b.CheckPermission(ctx, Camera); err != nil || !ok {
		t.Errorf("expected camera granted, got %v (%v)", ok, err)
	}
	if ok, _ := b.CheckPermission(ctx, Contacts); ok {
		t.Error("expected contacts not yet granted")
	}
	if ok, _ := b.RequestPermission(ctx, Contacts); !ok {
		t.Error("expected contacts request to be allowed")
	}
	if ok, _ := b.CheckPermission(ctx, Contacts); !ok {
		t.Error("expected contacts granted after request")
	}
	if ok, _ := b.RequestPermission(ctx, Storage); ok {
		t.Error("expected storage request to be denied")
	}

	contacts, err := b.SyncDeviceContacts(ctx)
	if err != nil {
		t.Fatalf("SyncDeviceContacts failed: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
	if contacts[0].Name != "John Doe" || contacts[0].Address != "123 Main St" {
		t.Errorf("unexpected first contact %+v", contacts[0])
	}
}

func TestBridge_MissingFileAndGrants(t *testing.T) {
	b := NewBridge(filepath.Join(t.TempDir(), "missing.yaml"), Storage)
	ctx := context.Background()

	if ok, _ := b.CheckPermission(ctx, Storage); !ok {
		t.Error("expected pre-granted storage")
	}
	contacts, err := b.SyncDeviceContacts(ctx)
	if err != nil || len(contacts) != 0 {
		t.Errorf("expected no contacts and no error, got %v (%v)", contacts, err)
	}
}

func TestBridge_InvalidYAML(t *testing.T) {
	b := NewBridge(writeBridgeFile(t, "contacts: [unclosed"))
	if _, err := b.SyncDeviceContacts(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}

func TestInteractive(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{"yes", "y\n", true},
		{"full yes", "YES\n", true},
		{"no", "n\n", false},
		{"empty", "\n", false},
		{"eof", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			inner := NewStatic()
			p := NewInteractive(inner, strings.NewReader(tt.answer), &out).ForcePrompt()

			got, err := p.RequestPermission(context.Background(), Camera)
			if err != nil {
				t.Fatalf("RequestPermission failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if !strings.Contains(out.String(), "Allow camera access?") {
				t.Errorf("expected prompt, got %q", out.String())
			}
			wantInner := 0
			if tt.want {
				wantInner = 1
			}
			if inner.Requests(Camera) != wantInner {
				t.Errorf("expected %d inner requests, got %d", wantInner, inner.Requests(Camera))
			}
		})
	}
}

func TestInteractive_NonTerminalDelegates(t *testing.T) {
	inner := NewStatic().Answer(Contacts, false)
	p := NewInteractive(inner, strings.NewReader("y\n"), &bytes.Buffer{})

	got, err := p.RequestPermission(context.Background(), Contacts)
	if err != nil {
		t.Fatalf("RequestPermission failed: %v", err)
	}
	if got {
		t.Error("expected inner provider's denial to be returned")
	}
	if inner.Requests(Contacts) != 1 {
		t.Errorf("expected delegation to inner provider, got %d requests", inner.Requests(Contacts))
	}
}
