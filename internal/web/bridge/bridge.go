// Package bridge multiplexes web transports onto per-sprite agent sessions.
//
// A session outlives any single transport: closing the browser tab detaches
// the transport but keeps the agent conversation alive, and the next connect
// for the same sprite resumes it. At most one transport is live per sprite;
// a newer connect replaces the older transport's subscription.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/justinmoon/cockpit/internal/agent"
	"github.com/justinmoon/cockpit/internal/web/registry"
)

// Transport delivers one outbound frame to a connected client. Send must be
// safe for concurrent use; implementations serialize writes internally.
type Transport interface {
	Send(data []byte) error
}

// CWDFunc resolves a sprite ID to the working directory its session runs in.
type CWDFunc func(ctx context.Context, spriteID string) (string, error)

// StatusFunc records a sprite's session status. Errors are the sink's
// problem; the bridge logs and moves on.
type StatusFunc func(ctx context.Context, spriteID string, status registry.Status) error

// Bridge owns the sprite → session map.
type Bridge struct {
	Factory   agent.Factory
	CWD       CWDFunc
	SetStatus StatusFunc
	Logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

// entry is one sprite's session slot. readyc closes when creation settles;
// concurrent first connects wait on it so exactly one session is created.
type entry struct {
	readyc chan struct{}
	sess   agent.Session
	err    error

	transport  Transport
	unsub      func()
	lastDetach time.Time
}

func New(factory agent.Factory, cwd CWDFunc, status StatusFunc, logger *slog.Logger) *Bridge {
	return &Bridge{
		Factory:   factory,
		CWD:       cwd,
		SetStatus: status,
		Logger:    logger,
		sessions:  make(map[string]*entry),
	}
}

// Connect attaches a transport to the sprite's session, creating the session
// on first connect. The connected frame is always the first thing the
// transport receives; agent events follow in order.
func (b *Bridge) Connect(ctx context.Context, spriteID string, t Transport) error {
	e, err := b.session(ctx, spriteID)
	if err != nil {
		return err
	}

	if err := sendJSON(t, map[string]string{"type": "connected", "spriteId": spriteID}); err != nil {
		return fmt.Errorf("bridge: send connected: %w", err)
	}

	unsub := e.sess.Subscribe(func(ev agent.Event) {
		if err := t.Send(ev.Payload); err != nil && b.Logger != nil {
			b.Logger.Debug("dropping event for dead transport", "sprite", spriteID, "type", ev.Type)
		}
	})

	b.mu.Lock()
	// A concurrent Dispose may have removed the entry between session()
	// settling and here; attaching now would leave a subscription on a
	// disposed session that nothing can ever detach.
	if b.sessions[spriteID] != e {
		b.mu.Unlock()
		unsub()
		return fmt.Errorf("bridge: sprite %s was disposed during connect", spriteID)
	}
	if e.unsub != nil {
		e.unsub()
	}
	e.transport = t
	e.unsub = unsub
	b.mu.Unlock()

	b.recordStatus(ctx, spriteID, registry.StatusWorking)
	return nil
}

// session returns the sprite's entry, creating the session if none exists.
// Creation is memoized: the first caller creates, everyone else waits.
func (b *Bridge) session(ctx context.Context, spriteID string) (*entry, error) {
	b.mu.Lock()
	e, ok := b.sessions[spriteID]
	if !ok {
		e = &entry{readyc: make(chan struct{})}
		b.sessions[spriteID] = e
		b.mu.Unlock()

		sess, err := b.create(ctx, spriteID)
		b.mu.Lock()
		if err != nil {
			delete(b.sessions, spriteID)
		}
		e.sess, e.err = sess, err
		close(e.readyc)
		b.mu.Unlock()
		return e, err
	}
	b.mu.Unlock()

	select {
	case <-e.readyc:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, e.err
	}
	return e, nil
}

func (b *Bridge) create(ctx context.Context, spriteID string) (agent.Session, error) {
	dir, err := b.CWD(ctx, spriteID)
	if err != nil {
		return nil, fmt.Errorf("bridge: resolve sprite %s: %w", spriteID, err)
	}
	sess, err := b.Factory.New(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("bridge: create session for %s: %w", spriteID, err)
	}
	return sess, nil
}

// Prompt forwards one user turn to the sprite's session. The call returns
// once the turn is dispatched; a rejection surfaces on t as an error frame.
// Empty prompts are silently ignored.
func (b *Bridge) Prompt(ctx context.Context, spriteID, text string, t Transport) {
	if text == "" {
		return
	}
	e := b.lookup(spriteID)
	if e == nil {
		_ = SendError(t, "no active session")
		return
	}
	go func() {
		if err := e.sess.Prompt(context.WithoutCancel(ctx), text); err != nil {
			if b.Logger != nil {
				b.Logger.Warn("prompt rejected", "sprite", spriteID, "err", err)
			}
			_ = SendError(t, err.Error())
		}
	}()
}

// Abort cancels the sprite's in-flight turn, if any.
func (b *Bridge) Abort(spriteID string, t Transport) {
	e := b.lookup(spriteID)
	if e == nil {
		_ = SendError(t, "no active session")
		return
	}
	e.sess.Abort()
}

// TransportClosed detaches t from the sprite's session. The session stays
// alive for the next connect. A transport already replaced by a newer
// connect is ignored.
func (b *Bridge) TransportClosed(ctx context.Context, spriteID string, t Transport) {
	b.mu.Lock()
	e, ok := b.sessions[spriteID]
	if !ok || e.transport != t {
		b.mu.Unlock()
		return
	}
	if e.unsub != nil {
		e.unsub()
	}
	e.transport = nil
	e.unsub = nil
	e.lastDetach = time.Now()
	b.mu.Unlock()

	b.recordStatus(ctx, spriteID, registry.StatusIdle)
}

// Dispose tears down the sprite's session entirely. Used when the sprite is
// deleted from the registry.
func (b *Bridge) Dispose(spriteID string) error {
	b.mu.Lock()
	e, ok := b.sessions[spriteID]
	if ok {
		delete(b.sessions, spriteID)
		if e.unsub != nil {
			e.unsub()
		}
	}
	b.mu.Unlock()
	if !ok {
		return nil
	}
	<-e.readyc
	if e.sess == nil {
		return nil
	}
	return e.sess.Dispose()
}

// ReapIdle disposes sessions that have had no transport for longer than
// maxIdle. It returns the IDs it reaped.
func (b *Bridge) ReapIdle(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)
	b.mu.Lock()
	var stale []string
	for id, e := range b.sessions {
		if e.transport == nil && !e.lastDetach.IsZero() && e.lastDetach.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	b.mu.Unlock()

	for _, id := range stale {
		if err := b.Dispose(id); err != nil && b.Logger != nil {
			b.Logger.Warn("reap dispose failed", "sprite", id, "err", err)
		}
	}
	return stale
}

// lookup returns the sprite's settled entry, or nil if there is no live
// session for it.
func (b *Bridge) lookup(spriteID string) *entry {
	b.mu.Lock()
	e, ok := b.sessions[spriteID]
	b.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-e.readyc:
	default:
		return nil
	}
	if e.err != nil || e.sess == nil {
		return nil
	}
	return e
}

// SendError emits an error frame directly on a transport, for protocol
// errors that occur before or outside any session.
func SendError(t Transport, message string) error {
	return sendJSON(t, map[string]string{"type": "error", "message": message})
}

func (b *Bridge) recordStatus(ctx context.Context, spriteID string, status registry.Status) {
	if b.SetStatus == nil {
		return
	}
	if err := b.SetStatus(ctx, spriteID, status); err != nil && !errors.Is(err, registry.ErrNotFound) {
		if b.Logger != nil {
			b.Logger.Warn("status update failed", "sprite", spriteID, "status", status, "err", err)
		}
	}
}

func sendJSON(t Transport, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Send(data)
}
