package notify

import (
	"context"
	"sync"
)

// MemoryNotifier records notifications for tests.

type Notification struct {
	Target string
	Text   string
}

type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewMemoryNotifier() *MemoryNotifier { return &MemoryNotifier{} }

func (n *MemoryNotifier) NotifyUnreachable(ctx context.Context, targetIdentity, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Target: targetIdentity, Text: text})
}

func (n *MemoryNotifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.sent))
	copy(out, n.sent)
	return out
}
