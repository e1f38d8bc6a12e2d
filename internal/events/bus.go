package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// DefaultBufferSize is the event channel capacity used by NewBus callers
// that pass zero.
const DefaultBufferSize = 1000

// Bus dispatches published events to matching subscriptions on its own
// goroutine.
type Bus struct {
	logger hclog.Logger

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	eventChannel  chan Event
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewBus creates an event bus. Call Start before publishing.
func NewBus(bufferSize int, logger hclog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		logger:        logger.Named("events"),
		subscriptions: make(map[string]*Subscription),
		eventChannel:  make(chan Event, bufferSize),
	}
}

// Start starts the event processor
func (eb *Bus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.running {
		return fmt.Errorf("event bus is already running")
	}

	eb.running = true
	eb.stopCh = make(chan struct{})

	eb.wg.Add(1)
	go eb.processEvents(ctx, eb.stopCh)

	eb.logger.Debug("event bus started")
	return nil
}

// Stop stops the event processor and waits for it to exit.
func (eb *Bus) Stop(ctx context.Context) error {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return nil
	}
	eb.running = false
	close(eb.stopCh)
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus stopped")
		return nil
	case <-ctx.Done():
		eb.logger.Warn("event bus stop timed out")
		return ctx.Err()
	}
}

// Publish publishes an event, blocking until it is queued or ctx ends.
func (eb *Bus) Publish(ctx context.Context, event Event) error {
	if err := eb.prepare(&event); err != nil {
		return err
	}

	select {
	case eb.eventChannel <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAsync publishes an event without blocking; the event is dropped
// when the channel is full.
func (eb *Bus) PublishAsync(event Event) error {
	if err := eb.prepare(&event); err != nil {
		return err
	}

	select {
	case eb.eventChannel <- event:
		return nil
	default:
		eb.logger.Warn("event channel full, dropping event", "event_type", event.Type, "event_id", event.ID)
		return fmt.Errorf("event channel full")
	}
}

func (eb *Bus) prepare(event *Event) error {
	eb.mu.RLock()
	running := eb.running
	eb.mu.RUnlock()
	if !running {
		return fmt.Errorf("event bus is not running")
	}
	if event.Type == "" {
		return fmt.Errorf("invalid event: missing type")
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return nil
}

// Subscribe registers a handler for events matching the filter.
func (eb *Bus) Subscribe(filter EventFilter, handler EventHandler) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscription := &Subscription{
		ID:      uuid.New().String(),
		Filter:  filter,
		Handler: handler,
		Created: time.Now(),
	}
	eb.subscriptions[subscription.ID] = subscription

	eb.logger.Debug("new subscription created", "subscription_id", subscription.ID, "types", filter.Types)
	return subscription
}

// Unsubscribe removes a subscription
func (eb *Bus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[subscriptionID]; !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}
	delete(eb.subscriptions, subscriptionID)
	return nil
}

func (eb *Bus) processEvents(ctx context.Context, stopCh chan struct{}) {
	defer eb.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		}
	}
}

func (eb *Bus) handleEvent(event Event) {
	eb.mu.RLock()
	var matching []*Subscription
	for _, sub := range eb.subscriptions {
		if MatchesFilter(event, sub.Filter) {
			matching = append(matching, sub)
		}
	}
	eb.mu.RUnlock()

	for _, sub := range matching {
		eb.notifySubscriber(sub, event)
	}
}

func (eb *Bus) notifySubscriber(subscription *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("panic in event handler", "subscription_id", subscription.ID, "error", r, "event_id", event.ID)
		}
	}()

	if err := subscription.Handler(event); err != nil {
		eb.logger.Error("event handler error", "subscription_id", subscription.ID, "error", err, "event_id", event.ID)
		return
	}

	eb.mu.Lock()
	subscription.TriggerCount++
	eb.mu.Unlock()
}
