package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrBusUnavailable wraps publish failures. Real-time delivery silently
// degrades to polling on the next full read; the triggering write has already
// committed and is never rolled back.
var ErrBusUnavailable = errors.New("realtime: bus unavailable")

// BroadcasterMetrics tracks bus statistics.
type BroadcasterMetrics struct {
	Published     int64
	PublishErrors int64
	Relayed       int64
	DecodeErrors  int64
}

// Broadcaster publishes change events on a single fixed Redis pub/sub topic
// and relays every received envelope to the local ConnectionManager. Each
// process runs exactly one listener loop; filtering by channel happens
// locally through the manager's channel index. Delivery is at-most-once and
// best-effort.
type Broadcaster struct {
	client  *redis.Client
	manager *ConnectionManager
	topic   string
	logger  *logrus.Logger

	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	metrics BroadcasterMetrics
}

func NewBroadcaster(client *redis.Client, manager *ConnectionManager, topic string, logger *logrus.Logger) *Broadcaster {
	if topic == "" {
		topic = "computor:events"
	}
	return &Broadcaster{
		client:  client,
		manager: manager,
		topic:   topic,
		logger:  logger,
	}
}

// Publish serializes a BroadcastEnvelope and writes it to the shared bus.
// The caller does not know or care which process holds the relevant sockets.
func (b *Broadcaster) Publish(ctx context.Context, channel, eventType string, payload interface{}) error {
	env, err := NewEnvelope(channel, eventType, payload)
	if err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("realtime: encode envelope: %w", err)
	}

	if err := b.client.Publish(ctx, b.topic, data).Err(); err != nil {
		atomic.AddInt64(&b.metrics.PublishErrors, 1)
		b.logger.WithError(err).WithField("channel", channel).Warn("Bus publish failed")
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	atomic.AddInt64(&b.metrics.Published, 1)
	return nil
}

// Start launches the listener loop. go-redis resubscribes transparently
// after connection loss; envelopes published meanwhile are lost, which the
// read path's TTL ceiling already tolerates.
func (b *Broadcaster) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.pubsub = b.client.Subscribe(ctx, b.topic)

	// Confirm the subscription before reporting started.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		b.started.Store(false)
		b.cancel()
		_ = b.pubsub.Close()
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	b.wg.Add(1)
	go b.listen(ctx)

	b.logger.WithField("topic", b.topic).Info("Broadcaster listening")
	return nil
}

func (b *Broadcaster) listen(ctx context.Context) {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *Broadcaster) relay(payload string) {
	var env BroadcastEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		atomic.AddInt64(&b.metrics.DecodeErrors, 1)
		b.logger.WithError(err).Warn("Dropping undecodable bus envelope")
		return
	}

	delivered := b.manager.Broadcast(env.Channel, env.Frame())
	atomic.AddInt64(&b.metrics.Relayed, 1)
	if delivered > 0 {
		b.logger.WithFields(logrus.Fields{
			"channel":     env.Channel,
			"event_type":  env.EventType,
			"connections": delivered,
		}).Debug("Relayed bus envelope")
	}
}

// Stop closes the subscription and waits for the listener to drain.
func (b *Broadcaster) Stop() error {
	if !b.started.CompareAndSwap(true, false) {
		return nil
	}
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}

// Metrics returns a snapshot of the bus counters.
func (b *Broadcaster) Metrics() BroadcasterMetrics {
	return BroadcasterMetrics{
		Published:     atomic.LoadInt64(&b.metrics.Published),
		PublishErrors: atomic.LoadInt64(&b.metrics.PublishErrors),
		Relayed:       atomic.LoadInt64(&b.metrics.Relayed),
		DecodeErrors:  atomic.LoadInt64(&b.metrics.DecodeErrors),
	}
}
