// Package permission implements the tri-state capability gate that guards
// camera, contacts and storage access.
package permission

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facelink/internal/apperr"
	"github.com/kozaktomas/facelink/internal/device"
	"github.com/kozaktomas/facelink/internal/logging"
)

// ErrUnresolved is returned by Require while the user has not answered yet.
var ErrUnresolved = errors.New("permission not resolved")

// State is the resolution state of a capability.
type State int

// Capability states.
const (
	Unresolved State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unresolved"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Capability is a snapshot of a gate.
type Capability struct {
	Resource device.Resource `json:"resource"`
	State    State           `json:"state"`
	Error    string          `json:"error,omitempty"`
}

// Prompt is the copy shown while a gate is unresolved.
type Prompt struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Denied      string `yaml:"denied" json:"denied"`
}

//go:embed prompts.yaml
var promptsYAML []byte

var (
	promptsOnce sync.Once
	prompts     map[string]Prompt
)

// PromptFor returns the prompt copy for r.
func PromptFor(r device.Resource) Prompt {
	promptsOnce.Do(func() {
		if err := yaml.Unmarshal(promptsYAML, &prompts); err != nil {
			panic(fmt.Sprintf("permission: invalid embedded prompts: %v", err))
		}
	})
	if p, ok := prompts[string(r)]; ok {
		return p
	}
	return prompts["default"]
}

// Option configures a Gate.
type Option func(*Gate)

// WithProbe sets a function run once after the user allows, before the gate
// reports granted. The camera gate uses it to open and release the stream.
func WithProbe(probe func(ctx context.Context) error) Option {
	return func(g *Gate) { g.probe = probe }
}

// WithOnGrant sets a side effect run after a successful Allow.
func WithOnGrant(fn func(ctx context.Context) error) Option {
	return func(g *Gate) { g.onGrant = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// Gate guards one device resource.
type Gate struct {
	resource device.Resource
	provider device.Provider
	probe    func(ctx context.Context) error
	onGrant  func(ctx context.Context) error
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	err   *apperr.Error
}

// NewGate creates an unresolved gate for resource.
func NewGate(resource device.Resource, provider device.Provider, opts ...Option) *Gate {
	g := &Gate{resource: resource, provider: provider}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrDiscard(g.logger).With("resource", string(resource))
	return g
}

// Resource returns the guarded resource.
func (g *Gate) Resource() device.Resource {
	return g.resource
}

// Prompt returns the copy to show while the gate is unresolved.
func (g *Gate) Prompt() Prompt {
	return PromptFor(g.resource)
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Capability returns a snapshot of the gate.
func (g *Gate) Capability() Capability {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := Capability{Resource: g.resource, State: g.state}
	if g.err != nil {
		c.Error = g.err.Message
	}
	return c
}

// Err returns the denial error, or nil.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err == nil {
		return nil
	}
	return g.err
}

// Request resolves the gate from an existing platform grant without
// prompting. A resolved gate returns its state unchanged.
func (g *Gate) Request(ctx context.Context) (State, error) {
	if s := g.State(); s != Unresolved {
		return s, nil
	}

	ok, err := g.provider.CheckPermission(ctx, g.resource)
	if err != nil {
		return Unresolved, fmt.Errorf("check %s permission: %w", g.resource, err)
	}
	if !ok {
		return Unresolved, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Unresolved {
		g.state = Granted
		g.logger.Debug("permission already granted")
	}
	return g.state, nil
}

// Allow handles the user's allow choice. Denial is terminal, so Allow on a
// denied gate returns the stored denial.
func (g *Gate) Allow(ctx context.Context) error {
	switch g.State() {
	case Granted:
		return nil
	case Denied:
		return g.Err()
	}

	ok, err := g.provider.RequestPermission(ctx, g.resource)
	if err != nil {
		return fmt.Errorf("request %s permission: %w", g.resource, err)
	}
	if !ok {
		return g.Deny()
	}

	if g.probe != nil {
		if err := g.probe(ctx); err != nil {
			g.logger.Warn("resource probe failed", "error", err)
			return g.deny(fmt.Sprintf("Failed to access %s: %v", g.resource, err), err)
		}
	}

	g.mu.Lock()
	if g.state == Denied {
		err := g.err
		g.mu.Unlock()
		return err
	}
	g.state = Granted
	g.mu.Unlock()
	g.logger.Info("permission granted")

	if g.onGrant != nil {
		if err := g.onGrant(ctx); err != nil {
			return fmt.Errorf("after %s grant: %w", g.resource, err)
		}
	}
	return nil
}

// Deny handles the user's deny choice and returns the fixed denial error.
func (g *Gate) Deny() error {
	return g.deny(g.Prompt().Denied, nil)
}

func (g *Gate) deny(message string, cause error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Denied {
		return g.err
	}
	g.state = Denied
	g.err = apperr.PermissionDenied(string(g.resource), message)
	g.err.Err = cause
	g.logger.Info("permission denied", "message", message)
	return g.err
}

// Require returns nil when the gate is granted, the denial error when it is
// denied and ErrUnresolved otherwise.
func (g *Gate) Require() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Granted:
		return nil
	case Denied:
		return g.err
	default:
		return fmt.Errorf("%s: %w", g.resource, ErrUnresolved)
	}
}

// Reset returns the gate to unresolved, as a remount does.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = Unresolved
	g.err = nil
}
