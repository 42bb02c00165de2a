package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Entity change actions.
const (
	ActionNew    = "new"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// EntityChange describes one committed write. The channel is resolved by the
// emitting repository; the bus only hands the event to the publisher.
type EntityChange struct {
	ID        string
	Channel   string
	EventType string // e.g. "course:update"
	Payload   interface{}
	Timestamp time.Time
}

func NewEntityChange(channel, entityType, action string, payload interface{}) *EntityChange {
	return &EntityChange{
		ID:        uuid.New().String(),
		Channel:   channel,
		EventType: entityType + ":" + action,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publisher is where relayed changes go, satisfied by the realtime
// broadcaster.
type Publisher interface {
	Publish(ctx context.Context, channel, eventType string, payload interface{}) error
}

// BusMetrics tracks change bus statistics.
type BusMetrics struct {
	Queued  int64
	Dropped int64
	Relayed int64
	Errors  int64
}

// Bus decouples the repository write path from broadcasting: the commit has
// already happened when a change is emitted, and a slow or unavailable bus
// must never block or fail the writer. Events flow through a bounded queue
// drained by worker goroutines; when the queue is full the event is dropped,
// which the read path's TTL ceiling already tolerates.
type Bus struct {
	ch        chan *EntityChange
	publisher Publisher
	logger    *logrus.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started atomic.Bool
	metrics BusMetrics
}

func NewBus(publisher Publisher, bufferSize, workers int, logger *logrus.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if workers <= 0 {
		workers = 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		ch:        make(chan *EntityChange, bufferSize),
		publisher: publisher,
		logger:    logger,
		cancel:    cancel,
	}
	b.started.Store(true)

	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.relay(ctx)
	}
	return b
}

// Emit queues a change without blocking. A full queue drops the event and
// logs a warning.
func (b *Bus) Emit(change *EntityChange) {
	if !b.started.Load() {
		return
	}
	select {
	case b.ch <- change:
		atomic.AddInt64(&b.metrics.Queued, 1)
	default:
		atomic.AddInt64(&b.metrics.Dropped, 1)
		b.logger.WithFields(logrus.Fields{
			"channel":    change.Channel,
			"event_type": change.EventType,
		}).Warn("Change bus full, dropping event")
	}
}

func (b *Bus) relay(ctx context.Context) {
	defer b.wg.Done()

	for change := range b.ch {
		if err := b.publisher.Publish(ctx, change.Channel, change.EventType, change.Payload); err != nil {
			atomic.AddInt64(&b.metrics.Errors, 1)
			b.logger.WithError(err).WithFields(logrus.Fields{
				"channel":    change.Channel,
				"event_type": change.EventType,
			}).Warn("Change broadcast failed")
			continue
		}
		atomic.AddInt64(&b.metrics.Relayed, 1)
	}
}

// Close stops accepting events and drains the queue.
func (b *Bus) Close() {
	if !b.started.CompareAndSwap(true, false) {
		return
	}
	close(b.ch)
	b.wg.Wait()
	b.cancel()
}

// Metrics returns a snapshot of the bus counters.
func (b *Bus) Metrics() BusMetrics {
	return BusMetrics{
		Queued:  atomic.LoadInt64(&b.metrics.Queued),
		Dropped: atomic.LoadInt64(&b.metrics.Dropped),
		Relayed: atomic.LoadInt64(&b.metrics.Relayed),
		Errors:  atomic.LoadInt64(&b.metrics.Errors),
	}
}
