package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// subscriberQueue is the bound on undelivered events per subscriber. When
// full the oldest event is dropped so the publisher never blocks.
const subscriberQueue = 256

// EventBus delivers events to subscribers. Publishing never blocks; each
// subscriber receives its events in publish order on its own goroutine.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*subscriber
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  bool
	wg       sync.WaitGroup
}

type subscriber struct {
	name    string
	handler HandlerFunc
	queue   chan Event
	mu      sync.Mutex
	dropped int
}

// NewEventBus creates an EventBus.
func NewEventBus() *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		handlers: make(map[EventType][]*subscriber),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Subscribe registers handler for eventType. The name is used in logs.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.stopped {
		return
	}

	s := &subscriber{name: name, handler: handler, queue: make(chan Event, subscriberQueue)}
	eb.handlers[eventType] = append(eb.handlers[eventType], s)
	eb.wg.Add(1)
	go eb.run(s)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

func (eb *EventBus) run(s *subscriber) {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case evt, ok := <-s.queue:
			if !ok {
				return
			}
			eb.deliver(s, evt)
		}
	}
}

func (eb *EventBus) deliver(s *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err := s.handler(eb.ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", s.name).
			Msg("handler returned error")
	}
}

// Publish queues event for every subscriber of its type.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return
	}

	for _, s := range eb.handlers[event.Type] {
		s.push(event)
	}
}

func (s *subscriber) push(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case s.queue <- event:
			return
		default:
		}
		select {
		case <-s.queue:
			s.dropped++
			log.Warn().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Int("dropped", s.dropped).
				Msg("subscriber queue full, dropped oldest event")
		default:
		}
	}
}

// Stop stops delivery and waits for in-flight handlers to return.
// Undelivered events are discarded.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	eb.cancel()
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for eventType.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
