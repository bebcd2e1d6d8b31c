// Package agent defines the coding-agent capability the web bridge consumes
// and a local implementation backed by the claude CLI's stream-json output.
package agent

import (
	"context"
	"encoding/json"
	"sync"
)

// Event is one item from the agent's event stream. The type set is open:
// the bridge forwards events verbatim without interpreting payloads.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// Handler observes events.
type Handler func(Event)

// Session is one stateful agent conversation bound to a working directory.
type Session interface {
	// Prompt sends one user turn and blocks until it completes. A non-nil
	// error is a rejection (the turn did not complete normally).
	Prompt(ctx context.Context, text string) error
	// Abort best-effort cancels in-flight work. Side effects already
	// started may still land.
	Abort()
	// Dispose releases the session. The session is unusable afterward.
	Dispose() error
	// Subscribe registers the single active handler, replacing any
	// previous one, and returns an unsubscribe function. Unsubscribing a
	// replaced handler is a no-op.
	Subscribe(h Handler) (unsubscribe func())
}

// Factory creates sessions bound to a working directory.
type Factory interface {
	New(ctx context.Context, dir string) (Session, error)
}

// subscriber implements the single-active-handler slot shared by session
// implementations: resubscribing replaces, never stacks.
type subscriber struct {
	mu      sync.Mutex
	handler Handler
	gen     int
}

func (s *subscriber) subscribe(h Handler) func() {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.handler = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if s.gen == gen {
			s.handler = nil
		}
		s.mu.Unlock()
	}
}

func (s *subscriber) emit(ev Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
