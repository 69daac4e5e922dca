// Package brokertest provides an in-memory broker for tests of queue and
// RPC components.
package brokertest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/datacollector/broker"
	"github.com/c360/datacollector/errors"
)

// Memory is a broker.RPCBroker and broker.Durable kept in process. Each
// published message goes to one subscriber of its queue, round robin, on
// its own goroutine. Messages published to a queue without subscribers are
// only recorded.
type Memory struct {
	mu         sync.Mutex
	subs       map[string][]*memorySub
	next       map[string]int
	responders map[string]broker.ReplyHandler
	published  map[string][][]byte
	durables   map[string]string
	closed     bool
	wg         sync.WaitGroup
}

type memorySub struct {
	queue string
	h     broker.Handler
}

// NewMemory creates an empty broker.
func NewMemory() *Memory {
	return &Memory{
		subs:       make(map[string][]*memorySub),
		next:       make(map[string]int),
		responders: make(map[string]broker.ReplyHandler),
		published:  make(map[string][][]byte),
		durables:   make(map[string]string),
	}
}

// Dialer returns a dialer that always hands out m.
func (m *Memory) Dialer() broker.Dialer {
	return func(context.Context, broker.Endpoint, *slog.Logger) (broker.Broker, error) {
		return m, nil
	}
}

// Publish records body and delivers it to one subscriber of route.
func (m *Memory) Publish(ctx context.Context, route string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.WrapFatal(errors.ErrNoConnection, "Memory", "Publish", "broker closed")
	}

	msg := append([]byte(nil), body...)
	m.published[route] = append(m.published[route], msg)

	subs := m.subs[route]
	if len(subs) == 0 {
		return nil
	}
	sub := subs[m.next[route]%len(subs)]
	m.next[route]++

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		sub.h(context.WithoutCancel(ctx), msg)
	}()
	return nil
}

// Subscribe attaches h to queue.
func (m *Memory) Subscribe(_ context.Context, queue string, h broker.Handler) (broker.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "Memory", "Subscribe", "broker closed")
	}

	sub := &memorySub{queue: queue, h: h}
	m.subs[queue] = append(m.subs[queue], sub)
	return broker.SubscriptionFunc(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subs[queue]
		for i, s := range subs {
			if s == sub {
				m.subs[queue] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		return nil
	}), nil
}

// SubscribeDurable records the durable name and subscribes.
func (m *Memory) SubscribeDurable(ctx context.Context, queue, durable string, h broker.Handler) (broker.Subscription, error) {
	m.mu.Lock()
	m.durables[queue] = durable
	m.mu.Unlock()
	return m.Subscribe(ctx, queue, h)
}

// Respond serves requests for exchange/queue.
func (m *Memory) Respond(_ context.Context, exchange, queue string, h broker.ReplyHandler) (broker.Subscription, error) {
	key := exchange + "/" + queue
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.responders[key]; exists {
		return nil, errors.WrapInvalid(fmt.Errorf("responder for %s already registered", key), "Memory", "Respond", "register")
	}
	m.responders[key] = h
	return broker.SubscriptionFunc(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.responders, key)
		return nil
	}), nil
}

// Request calls the responder of exchange/queue.
func (m *Memory) Request(ctx context.Context, exchange, queue string, body []byte) ([]byte, error) {
	key := exchange + "/" + queue
	m.mu.Lock()
	h, ok := m.responders[key]
	m.mu.Unlock()
	if !ok {
		return nil, errors.WrapTransient(fmt.Errorf("%w: no responder for %s", errors.ErrNoHandler, key), "Memory", "Request", "lookup")
	}

	reply := make(chan []byte, 1)
	go func() { reply <- h(ctx, body) }()
	select {
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Memory", "Request", "wait reply")
	case r := <-reply:
		return r, nil
	}
}

// Close rejects further use and waits for in-flight deliveries.
func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}

// Wait blocks until every delivery started so far has returned.
func (m *Memory) Wait() {
	m.wg.Wait()
}

// Published returns the bodies published to route.
func (m *Memory) Published(route string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.published[route]...)
}

// Subscribers returns the number of subscriptions on queue.
func (m *Memory) Subscribers(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[queue])
}

// Durable returns the durable name used for queue.
func (m *Memory) Durable(queue string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.durables[queue]
}

// Responding reports whether a responder serves exchange/queue.
func (m *Memory) Responding(exchange, queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.responders[exchange+"/"+queue]
	return ok
}

var (
	_ broker.RPCBroker = (*Memory)(nil)
	_ broker.Durable   = (*Memory)(nil)
)
