// Package notify routes notifications to the sender registered for a
// destination's scheme.
package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"channelwatch/internal/model"
)

// Sender delivers text to a destination of one scheme.
type Sender interface {
	Send(ctx context.Context, dest model.Destination, text string) error
}

// Mux dispatches by model.Destination scheme.
type Mux struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewMux() *Mux {
	return &Mux{senders: make(map[string]Sender)}
}

// Handle registers s for scheme, replacing any previous sender.
func (m *Mux) Handle(scheme string, s Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[scheme] = s
}

// Schemes lists the registered schemes, sorted.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.senders))
	for k := range m.senders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Send forwards to the sender for dest's scheme.
func (m *Mux) Send(ctx context.Context, dest model.Destination, text string) error {
	m.mu.RLock()
	s, ok := m.senders[dest.Scheme()]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no sender for destination %q", model.ErrNotifierFailed, dest)
	}
	return s.Send(ctx, dest, text)
}
