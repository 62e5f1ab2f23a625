package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MemoryBus is an in-process EventBus used by tests and single-binary setups.
// Delivery is synchronous.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []memorySub
	groups map[string]int
	closed bool
}

type memorySub struct {
	subject string
	queue   string
	handler func(msg *Message)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{groups: make(map[string]int)}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus closed")
	}

	var targets []func(msg *Message)
	queued := make(map[string][]func(msg *Message))
	for _, s := range b.subs {
		if !subjectMatches(s.subject, subject) {
			continue
		}
		if s.queue == "" {
			targets = append(targets, s.handler)
			continue
		}
		queued[s.queue] = append(queued[s.queue], s.handler)
	}
	for queue, handlers := range queued {
		idx := b.groups[queue] % len(handlers)
		b.groups[queue]++
		targets = append(targets, handlers[idx])
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(newMessage(subject, payload))
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func(msg *Message)) error {
	return b.QueueSubscribe(subject, "", handler)
}

func (b *MemoryBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs = append(b.subs, memorySub{subject: subject, queue: queue, handler: handler})
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subs = nil
	return nil
}

// subjectMatches follows NATS token rules: "*" matches one token and ">"
// matches the rest.
func subjectMatches(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
