// Package memory records notifications in memory for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/kenyalaw-crawler/internal/crawler"
)

// Message captures one publish call.
type Message struct {
	Topic   string
	Payload any
	RunID   string
}

// Publisher keeps every published payload. A non-nil Err fails each call.
type Publisher struct {
	Err error

	mu       sync.RWMutex
	messages []Message
}

var _ crawler.Publisher = (*Publisher)(nil)

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	msg := Message{Topic: topic, Payload: payload}
	if id := crawler.RunIDFrom(ctx); id != uuid.Nil {
		msg.RunID = id.String()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}
