package event

import (
	"context"
	"sync"
	"time"

	"github.com/conduit-ci/conduit/pkg/log"
	"github.com/google/uuid"
)

// Type tags an event with its kind.
type Type string

const (
	TypePipelineCreated   Type = "pipeline.created"
	TypePipelineUpdated   Type = "pipeline.updated"
	TypePipelineCompleted Type = "pipeline.completed"
	TypeStepStarted       Type = "step.started"
	TypeStepCompleted     Type = "step.completed"
	TypeStepLog           Type = "step.log"
	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalResolved  Type = "approval.resolved"
	TypeHeartbeat         Type = "heartbeat"
	TypeError             Type = "error"
)

// Event is an ephemeral notification distributed by the bus.
// ID is a monotonically increasing sequence number assigned
// at publish time, shared across all event types.
type Event struct {
	ID        uint64    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Payload   `json:"data"`
}

// Filter defines the criteria for receiving events.
// Heartbeat and error events always pass the filter.
type Filter struct {
	PipelineID uuid.UUID
	Replay     bool
}

// Stats reports the observable state of the bus.
type Stats struct {
	Subscribers    int `json:"subscriber_count"`
	BufferSize     int `json:"buffer_size"`
	BufferCapacity int `json:"buffer_capacity"`
}

// Bus defines the event bus interface.
type Bus interface {
	Publish(t Type, data Payload)
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, error)
	Stats() Stats
}

// DefaultBufferSize is the replay buffer capacity used
// when none is configured.
const DefaultBufferSize = 100

// queueSlack is the extra per-subscriber queue headroom
// beyond the replay buffer capacity.
const queueSlack = 64

type bus struct {
	mu          sync.Mutex
	subscribers map[chan Event]Filter
	buffer      []Event
	capacity    int
	seq         uint64
}

// New creates a new event bus with the given replay buffer
// capacity.
func New(capacity int) Bus {
	if capacity < 1 {
		capacity = DefaultBufferSize
	}
	return &bus{
		subscribers: make(map[chan Event]Filter),
		buffer:      make([]Event, 0, capacity),
		capacity:    capacity,
	}
}

// Publish assigns the next sequence number, records the event
// in the replay buffer, and fans it out to every subscriber.
// A subscriber whose queue is full drops the event; publish
// never blocks on a slow consumer.
func (b *bus) Publish(t Type, data Payload) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	e := Event{
		ID:        b.seq,
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.buffer = append(b.buffer, e)
	if len(b.buffer) > b.capacity {
		b.buffer = b.buffer[1:]
	}

	for ch, filter := range b.subscribers {
		if !matches(filter, e) {
			continue
		}
		select {
		case ch <- e:
		default:
			log.Warn("subscriber queue full, dropping event",
				"type", e.Type, "sequence", e.ID)
		}
	}
}

// Subscribe registers a new subscriber. When the filter
// requests replay, matching buffered events are queued first,
// in original order, ahead of anything published later. The
// subscription ends when ctx is cancelled.
func (b *bus) Subscribe(ctx context.Context, filter Filter) (<-chan Event, error) {
	ch := make(chan Event, b.capacity+queueSlack)

	b.mu.Lock()
	if filter.Replay {
		for _, e := range b.buffer {
			if matches(filter, e) {
				ch <- e
			}
		}
	}
	b.subscribers[ch] = filter
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Subscribers:    len(b.subscribers),
		BufferSize:     len(b.buffer),
		BufferCapacity: b.capacity,
	}
}

func matches(filter Filter, e Event) bool {
	if e.Type == TypeHeartbeat || e.Type == TypeError {
		return true
	}
	if filter.PipelineID == uuid.Nil {
		return true
	}
	return e.Data != nil && e.Data.pipelineRef() == filter.PipelineID
}
