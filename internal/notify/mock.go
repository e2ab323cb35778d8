package notify

import (
	"context"
	"sync"
)

// MockDispatcher records dispatched messages for testing.
type MockDispatcher struct {
	mu       sync.Mutex
	Messages []Message
	onceKeys map[string]bool

	DispatchFunc func(ctx context.Context, msg Message) error
}

func (m *MockDispatcher) Dispatch(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.Messages = append(m.Messages, msg)
	m.mu.Unlock()
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, msg)
	}
	return nil
}

// DispatchOnce records the dedupe key and dispatches on first sight of
// the (kind, key) pair, mirroring the redis-backed Suppressor.
func (m *MockDispatcher) DispatchOnce(ctx context.Context, dedupeKey string, msg Message) error {
	key := string(msg.Kind) + ":" + dedupeKey
	m.mu.Lock()
	if m.onceKeys == nil {
		m.onceKeys = make(map[string]bool)
	}
	seen := m.onceKeys[key]
	m.onceKeys[key] = true
	m.mu.Unlock()
	if seen {
		return nil
	}
	return m.Dispatch(ctx, msg)
}

// Sent returns how many messages of kind were dispatched.
func (m *MockDispatcher) Sent(kind Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.Messages {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}
