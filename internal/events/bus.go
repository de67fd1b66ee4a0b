// Package events provides the in-process publish/subscribe bus connecting the
// scoring core to its consumers (websocket hub, audit log, notification
// hooks).
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventVerdictDelivered  EventType = "VERDICT_DELIVERED"
	EventAmendmentEnacted  EventType = "AMENDMENT_ENACTED"
	EventAmendmentRejected EventType = "AMENDMENT_REJECTED"
	EventRegistryReset     EventType = "REGISTRY_RESET"
	EventTuningStarted     EventType = "TUNING_STARTED"
	EventTuningCompleted   EventType = "TUNING_COMPLETED"
	EventDetectorFailure   EventType = "DETECTOR_FAILURE"
	EventConfigReloaded    EventType = "CONFIG_RELOADED"
	EventEngineStarted     EventType = "ENGINE_STARTED"
	EventEngineStopped     EventType = "ENGINE_STOPPED"
	EventError             EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer cannot stall the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishVerdict publishes a delivered verdict for live listeners.
func (eb *EventBus) PublishVerdict(symbol string, direction string, score float64, action string) {
	eb.Publish(Event{
		Type: EventVerdictDelivered,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"score":     score,
			"action":    action,
		},
	})
}

// PublishAmendment publishes the outcome of an amendment attempt.
func (eb *EventBus) PublishAmendment(enacted bool, authority string, reason string, version int, errors []string) {
	eventType := EventAmendmentEnacted
	if !enacted {
		eventType = EventAmendmentRejected
	}
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"authority": authority,
			"reason":    reason,
			"version":   version,
			"errors":    errors,
		},
	})
}

// PublishTuningStarted publishes the start of a background tuning run.
func (eb *EventBus) PublishTuningStarted(runID, mode, metric string) {
	eb.Publish(Event{
		Type: EventTuningStarted,
		Data: map[string]interface{}{
			"run_id": runID,
			"mode":   mode,
			"metric": metric,
		},
	})
}

// PublishTuningCompleted publishes the completion of a tuning run.
func (eb *EventBus) PublishTuningCompleted(runID string, candidatesTested int, improved bool, errMsg string) {
	eb.Publish(Event{
		Type: EventTuningCompleted,
		Data: map[string]interface{}{
			"run_id":            runID,
			"candidates_tested": candidatesTested,
			"improved":          improved,
			"error":             errMsg,
		},
	})
}

// PublishDetectorFailure publishes a detector evaluation failure.
func (eb *EventBus) PublishDetectorFailure(detector, symbol, timeframe, reason string) {
	eb.Publish(Event{
		Type: EventDetectorFailure,
		Data: map[string]interface{}{
			"detector":  detector,
			"symbol":    symbol,
			"timeframe": timeframe,
			"reason":    reason,
		},
	})
}

// PublishError publishes a generic error event
func (eb *EventBus) PublishError(component, message string) {
	eb.Publish(Event{
		Type: EventError,
		Data: map[string]interface{}{
			"component": component,
			"message":   message,
		},
	})
}
