// Package events provides the in-process event bus used to broadcast
// import progress and system lifecycle notifications.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Import events
	EventImportStarted   EventType = "import.started"
	EventImportStatus    EventType = "import.status"
	EventImportCompleted EventType = "import.completed"
	EventImportSuspended EventType = "import.suspended"
	EventImportAborted   EventType = "import.aborted"
	EventImportFailed    EventType = "import.failed"

	// Share events
	EventShareRegistered EventType = "share.registered"
	EventShareRemoved    EventType = "share.removed"

	// System events
	EventSystemStarted      EventType = "system.started"
	EventSystemShuttingDown EventType = "system.shutting_down"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter selects events for a subscription. Empty fields match all.
type EventFilter struct {
	Types   []EventType `json:"types,omitempty"`
	Sources []string    `json:"sources,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID           string       `json:"id"`
	Filter       EventFilter  `json:"filter"`
	Handler      EventHandler `json:"-"`
	Created      time.Time    `json:"created"`
	TriggerCount int64        `json:"trigger_count"`
}

// Publisher is the producer side of the bus.
type Publisher interface {
	PublishAsync(event Event) error
}

// MatchesFilter checks whether an event passes a subscription filter.
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Sources) > 0 {
		found := false
		for _, s := range filter.Sources {
			if event.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
