package device

import (
	"context"
	"sync"
)

// Static is an in-memory Provider for tests and headless runs.
type Static struct {
	mu       sync.Mutex
	granted  map[Resource]bool
	answers  map[Resource]bool
	contacts []Contact
	syncErr  error
	requests map[Resource]int
	syncs    int
}

// NewStatic creates a provider where nothing is pre-granted and every
// request is answered with allow.
func NewStatic(contacts ...Contact) *Static {
	return &Static{
		granted:  make(map[Resource]bool),
		answers:  map[Resource]bool{Camera: true, Contacts: true, Storage: true},
		contacts: contacts,
		requests: make(map[Resource]int),
	}
}

// Grant marks r as already granted.
func (s *Static) Grant(r Resource) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted[r] = true
	return s
}

// Answer sets the answer RequestPermission returns for r.
func (s *Static) Answer(r Resource, allow bool) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[r] = allow
	return s
}

// FailSync makes SyncDeviceContacts return err.
func (s *Static) FailSync(err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncErr = err
	return s
}

// CheckPermission implements Provider.
func (s *Static) CheckPermission(_ context.Context, r Resource) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.granted[r], nil
}

// RequestPermission implements Provider.
func (s *Static) RequestPermission(_ context.Context, r Resource) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r]++
	allow := s.answers[r]
	if allow {
		s.granted[r] = true
	}
	return allow, nil
}

// SyncDeviceContacts implements Provider.
func (s *Static) SyncDeviceContacts(_ context.Context) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	if s.syncErr != nil {
		return nil, s.syncErr
	}
	return append([]Contact(nil), s.contacts...), nil
}

// Requests returns how many times RequestPermission was called for r.
func (s *Static) Requests(r Resource) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[r]
}

// Syncs returns how many times SyncDeviceContacts was called.
func (s *Static) Syncs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncs
}
