// Package memory keeps published contributor batches in process, for local
// runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage

	// Fail, when set, is returned by Publish and nothing is stored.
	Fail error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		return "", p.Fail
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Batches returns the contributor batches published so far.
func (p *Publisher) Batches() []crawler.ContributorBatch {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []crawler.ContributorBatch
	for _, m := range p.messages {
		if b, ok := m.Payload.(crawler.ContributorBatch); ok {
			out = append(out, b)
		}
	}
	return out
}
