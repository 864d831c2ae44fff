// Package pipetest holds publisher and subscriber doubles for backend tests.
package pipetest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

type Publisher struct {
	mu        sync.Mutex
	Published map[string][]*message.Message
	Closed    bool
	Err       error
}

func (p *Publisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	if p.Published == nil {
		p.Published = make(map[string][]*message.Message)
	}
	p.Published[topic] = append(p.Published[topic], msgs...)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

type Subscriber struct {
	Closed bool
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *Subscriber) Close() error {
	s.Closed = true
	return nil
}
