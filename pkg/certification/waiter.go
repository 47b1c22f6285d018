// Package certification handles the third-party form certificate that proves
// a visitor filled in the form: collecting the token from the browser within
// a bounded window, and verifying it on the ingestion side.
package certification

import (
	"context"
	"sync"
	"time"
)

// DefaultWait is how long a submission waits for the browser to report its
// certificate before going without it.
const DefaultWait = 3 * time.Second

type slot struct {
	token string
	ready chan struct{}
	once  sync.Once
}

// Waiter pairs certificate tokens reported by the browser with the session
// that will later be submitted. Tokens may arrive before or after Await.
type Waiter struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

// NewWaiter creates a waiter that gives up after timeout.
func NewWaiter(timeout time.Duration) *Waiter {
	if timeout <= 0 {
		timeout = DefaultWait
	}
	return &Waiter{slots: make(map[string]*slot), timeout: timeout}
}

func (w *Waiter) slot(sessionID string) (*slot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.slots[sessionID]
	if !ok {
		s = &slot{ready: make(chan struct{})}
		w.slots[sessionID] = s
	}
	return s, !ok
}

// Provide records the token for a session. Only the first token counts. A
// token nobody awaits within the window is dropped.
func (w *Waiter) Provide(sessionID, token string) {
	if token == "" {
		return
	}
	s, created := w.slot(sessionID)
	if created {
		time.AfterFunc(w.timeout, func() {
			w.mu.Lock()
			if w.slots[sessionID] == s {
				delete(w.slots, sessionID)
			}
			w.mu.Unlock()
		})
	}
	s.once.Do(func() {
		s.token = token
		close(s.ready)
	})
}

// Await returns the session's token, waiting at most the configured window.
// The slot is released either way.
func (w *Waiter) Await(ctx context.Context, sessionID string) (string, bool) {
	s, _ := w.slot(sessionID)
	defer w.Forget(sessionID)

	t := time.NewTimer(w.timeout)
	defer t.Stop()
	select {
	case <-s.ready:
		return s.token, true
	case <-t.C:
	case <-ctx.Done():
	}
	return "", false
}

// Forget drops any state held for the session.
func (w *Waiter) Forget(sessionID string) {
	w.mu.Lock()
	delete(w.slots, sessionID)
	w.mu.Unlock()
}

// Pending reports how many sessions hold a slot.
func (w *Waiter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.slots)
}
