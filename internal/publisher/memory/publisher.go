// Package memory keeps announcements in process. It backs the "memory"
// announce provider for dry runs and is the publisher used by tests.
package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

// DefaultLimit is the number of messages retained when no limit is given.
const DefaultLimit = 1024

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("memory publisher closed")

// Message is one retained announcement.
type Message struct {
	ID      string
	Topic   string
	Payload any
	At      time.Time
}

// Publisher retains the most recent announcements, oldest first.
type Publisher struct {
	limit int

	mu     sync.Mutex
	msgs   []Message
	seq    uint64
	failer error
	closed bool
}

// New returns a Publisher retaining up to limit messages. A non-positive
// limit selects DefaultLimit.
func New(limit ...int) *Publisher {
	n := DefaultLimit
	if len(limit) > 0 && limit[0] > 0 {
		n = limit[0]
	}
	return &Publisher{limit: n}
}

// FailWith makes every later Publish return err until called with nil.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.failer = err
	p.mu.Unlock()
}

// Publish retains payload under topic and returns its sequence ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return "", ErrClosed
	case p.failer != nil:
		return "", p.failer
	}
	p.seq++
	id := "mem-" + strconv.FormatUint(p.seq, 10)
	if len(p.msgs) == p.limit {
		p.msgs = append(p.msgs[:0], p.msgs[1:]...)
	}
	p.msgs = append(p.msgs, Message{ID: id, Topic: topic, Payload: payload, At: time.Now()})
	return id, nil
}

// Messages returns a copy of the retained messages.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.msgs...)
}

// OnTopic returns the retained messages published to topic.
func (p *Publisher) OnTopic(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// Close rejects later publishes. Retained messages stay readable.
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
