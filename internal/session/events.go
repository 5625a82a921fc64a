package session

import (
	"sync"

	"github.com/kozaktomas/facelink/internal/constants"
)

// Event types.
const (
	EventMode       = "mode"
	EventProcessing = "processing"
	EventDetection  = "detection"
	EventSelection  = "selection"
	EventHistory    = "history"
	EventLink       = "link"
	EventClosed     = "closed"
)

// Event is a state change notification. Data carries the session snapshot
// taken right after the change.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message,omitempty"`
	Data    *Snapshot `json:"data,omitempty"`
}

// broadcaster fans events out to listeners without blocking the sender.
type broadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

func (b *broadcaster) add() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

func (b *broadcaster) remove(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (b *broadcaster) send(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, listener := range b.listeners {
		close(listener)
	}
	b.listeners = nil
}
