package device

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kozaktomas/facelink/internal/logging"
)

// Interactive asks the user on a terminal before granting a resource.
// Checks and contact reads are delegated to the wrapped provider.
type Interactive struct {
	inner Provider
	in    *bufio.Reader
	out   io.Writer
	tty   bool
	mu    sync.Mutex
}

// NewInteractive wraps inner with terminal prompts read from in and written to out.
// When in is not a terminal the prompt is skipped and inner answers instead.
func NewInteractive(inner Provider, in io.Reader, out io.Writer) *Interactive {
	return &Interactive{
		inner: inner,
		in:    bufio.NewReader(in),
		out:   out,
		tty:   logging.IsTerminal(in),
	}
}

// ForcePrompt makes the provider prompt even when input is not a terminal.
func (p *Interactive) ForcePrompt() *Interactive {
	p.tty = true
	return p
}

// CheckPermission implements Provider.
func (p *Interactive) CheckPermission(ctx context.Context, r Resource) (bool, error) {
	return p.inner.CheckPermission(ctx, r)
}

// RequestPermission implements Provider.
func (p *Interactive) RequestPermission(ctx context.Context, r Resource) (bool, error) {
	if !p.tty {
		return p.inner.RequestPermission(ctx, r)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "Allow %s access? [y/N]: ", r)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("read permission answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return p.inner.RequestPermission(ctx, r)
	default:
		return false, nil
	}
}

// SyncDeviceContacts implements Provider.
func (p *Interactive) SyncDeviceContacts(ctx context.Context) ([]Contact, error) {
	return p.inner.SyncDeviceContacts(ctx)
}
