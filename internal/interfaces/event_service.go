package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventJobCompleted is published after a job reaches done. Payload: *models.Job
	EventJobCompleted EventType = "job_completed"
	// EventJobFailed is published after a failed attempt, requeued or terminal. Payload: *models.Job
	EventJobFailed EventType = "job_failed"
	// EventJobsRequeued is published after a manual retry. Payload: models.RequeueSummary
	EventJobsRequeued EventType = "jobs_requeued"
	// EventPoolStateChanged is published when a worker pool starts or pauses. Payload: models.PoolStatus
	EventPoolStateChanged EventType = "pool_state_changed"
	// EventLiveCountRefreshed is published after a reconciliation cycle. Payload: *models.PipelineSnapshot
	EventLiveCountRefreshed EventType = "live_count_refreshed"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
