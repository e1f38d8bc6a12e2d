package events

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversMatchingEvents(t *testing.T) {
	bus := NewBus(10, hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Stop(context.Background())

	received := make(chan Event, 10)
	bus.Subscribe(EventFilter{Types: []EventType{EventImportCompleted}}, func(e Event) error {
		received <- e
		return nil
	})

	require.NoError(t, bus.PublishAsync(Event{Type: EventImportStarted, Source: "importer"}))
	require.NoError(t, bus.Publish(context.Background(), Event{Type: EventImportCompleted, Source: "importer", Message: "/media"}))

	select {
	case e := <-received:
		assert.Equal(t, EventImportCompleted, e.Type)
		assert.Equal(t, "/media", e.Message)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case e := <-received:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_RejectsWhenStopped(t *testing.T) {
	bus := NewBus(1, hclog.NewNullLogger())
	assert.Error(t, bus.PublishAsync(Event{Type: EventImportStarted}))

	require.NoError(t, bus.Start(context.Background()))
	assert.Error(t, bus.Start(context.Background()))
	assert.Error(t, bus.PublishAsync(Event{}))
	require.NoError(t, bus.Stop(context.Background()))
	assert.Error(t, bus.PublishAsync(Event{Type: EventImportStarted}))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(1, hclog.NewNullLogger())
	sub := bus.Subscribe(EventFilter{}, func(Event) error { return nil })
	require.NoError(t, bus.Unsubscribe(sub.ID))
	assert.Error(t, bus.Unsubscribe(sub.ID))
}

func TestMatchesFilter(t *testing.T) {
	e := Event{Type: EventImportStatus, Source: "importer"}
	assert.True(t, MatchesFilter(e, EventFilter{}))
	assert.True(t, MatchesFilter(e, EventFilter{Types: []EventType{EventImportStatus}, Sources: []string{"importer"}}))
	assert.False(t, MatchesFilter(e, EventFilter{Types: []EventType{EventImportStarted}}))
	assert.False(t, MatchesFilter(e, EventFilter{Sources: []string{"shares"}}))
}
