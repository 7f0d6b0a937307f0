package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Stagecast system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// PassID is the associated execution pass ID, if applicable.
	PassID string `json:"pass_id,omitempty"`

	// Stage is the associated stage name, if applicable.
	Stage string `json:"stage,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypePassStarted     = "pass.started"
	EventTypePassCompleted   = "pass.completed"
	EventTypePassFailed      = "pass.failed"
	EventTypeStageResolved   = "stage.resolved"
	EventTypeStageInvalid    = "stage.invalid"
	EventTypeRequisiteFailed = "requisite.failed"
	EventTypeDispatchStarted = "dispatch.started"
	EventTypePolicyViolation = "policy.violation"
	EventTypeError           = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishPassStarted publishes a pass started event.
func (ep *EventPublisher) PublishPassStarted(passID, driver, document string) error {
	return ep.Publish(Event{
		Type:    EventTypePassStarted,
		Source:  "engine",
		PassID:  passID,
		Message: fmt.Sprintf("Pass %s started (%s driver)", passID, driver),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"driver":   driver,
			"document": document,
		},
	})
}

// PublishPassCompleted publishes a pass completed event.
func (ep *EventPublisher) PublishPassCompleted(passID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypePassCompleted,
		Source:  "engine",
		PassID:  passID,
		Message: fmt.Sprintf("Pass %s completed with status: %s", passID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPassFailed publishes a pass failed event.
func (ep *EventPublisher) PublishPassFailed(passID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePassFailed,
		Source:  "engine",
		PassID:  passID,
		Message: fmt.Sprintf("Pass %s failed: %s", passID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishStageResolved publishes a stage resolved event.
func (ep *EventPublisher) PublishStageResolved(passID, stage, outcome string, targets int) error {
	level := EventLevelInfo
	if outcome != "result" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeStageResolved,
		Source:  "engine",
		PassID:  passID,
		Stage:   stage,
		Message: fmt.Sprintf("Stage %s resolved (%s, %d targets)", stage, outcome, targets),
		Level:   level,
		Data: map[string]interface{}{
			"outcome": outcome,
			"targets": targets,
		},
	})
}

// PublishStageInvalid publishes a stage validation failure event.
func (ep *EventPublisher) PublishStageInvalid(passID, stage string, errors []string) error {
	return ep.Publish(Event{
		Type:    EventTypeStageInvalid,
		Source:  "engine",
		PassID:  passID,
		Stage:   stage,
		Message: fmt.Sprintf("Stage %s failed validation", stage),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"errors": errors,
		},
	})
}

// PublishRequisiteFailed publishes a requisite failure event.
func (ep *EventPublisher) PublishRequisiteFailed(passID, stage, requisite string, retcode int) error {
	return ep.Publish(Event{
		Type:    EventTypeRequisiteFailed,
		Source:  "engine",
		PassID:  passID,
		Stage:   stage,
		Message: fmt.Sprintf("Requisite %s failed for stage %s (retcode %d)", requisite, stage, retcode),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"requisite": requisite,
			"retcode":   retcode,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(stage, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		Stage:   stage,
		Message: fmt.Sprintf("Policy violation on stage %s: %s - %s", stage, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			// Drain remaining events before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timed out: %w", ctx.Err())
	}
}
