package events

import (
	"time"
)

// Event is implemented by everything published on the bus.
type Event interface {
	Topic() string
	EventType() string
	SourceID() string
}

// Topics
const (
	TopicTask      = "task"
	TopicComposite = "composite"
)

// Event types
const (
	EventTypeTaskQueued         = "task.queued"
	EventTypeTaskStarted        = "task.started"
	EventTypeTaskFinished       = "task.finished"
	EventTypeCompositeProgress  = "composite.progress"
	EventTypeCompositeCompleted = "composite.completed"
)

// TaskQueuedEvent is published when a queue accepts a task.
type TaskQueuedEvent struct {
	ID           string
	Queue        string
	Dependencies int
	Timestamp    time.Time
}

func (e TaskQueuedEvent) Topic() string     { return TopicTask }
func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) SourceID() string  { return e.ID }

// TaskStartedEvent is published right before a queue starts a task.
type TaskStartedEvent struct {
	ID        string
	Queue     string
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) SourceID() string  { return e.ID }

// TaskFinishedEvent is published when a queued task reports completion.
// Duration is zero for tasks that finished without being started.
type TaskFinishedEvent struct {
	ID        string
	Queue     string
	Status    string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFinishedEvent) Topic() string     { return TopicTask }
func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) SourceID() string  { return e.ID }

// CompositeProgressEvent is published each time a composite records a sub-task completion.
type CompositeProgressEvent struct {
	ID        string
	Index     int
	Observed  int
	Total     int
	Failed    bool
	Timestamp time.Time
}

func (e CompositeProgressEvent) Topic() string     { return TopicComposite }
func (e CompositeProgressEvent) EventType() string { return EventTypeCompositeProgress }
func (e CompositeProgressEvent) SourceID() string  { return e.ID }

// CompositeCompletedEvent is published once per composite, before its completion callback runs.
type CompositeCompletedEvent struct {
	ID        string
	Mode      string
	Total     int
	Failed    int
	Cancelled bool
	Timestamp time.Time
}

func (e CompositeCompletedEvent) Topic() string     { return TopicComposite }
func (e CompositeCompletedEvent) EventType() string { return EventTypeCompositeCompleted }
func (e CompositeCompletedEvent) SourceID() string  { return e.ID }
