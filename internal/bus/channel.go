// Package bus provides the event fabric for recommendation events:
// in-process channels for the Community tier, NATS for Pro.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChannelBus fans recommendation events out over buffered Go channels.
// Delivery is at-most-once: a subscriber that cannot keep up sheds
// messages rather than backpressuring the request path.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	fanout     map[string][]*channelSubscription
	closed     bool

	published int64
	delivered int64
	dropped   int64
}

type channelSubscription struct {
	id      string
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates an in-process event bus with the given
// per-subscriber buffer.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		fanout:     make(map[string][]*channelSubscription),
	}
}

// Publish delivers a payload to every subscriber of the topic without
// blocking the publisher.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.fanout[topic]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	atomic.AddInt64(&b.published, 1)
	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
			atomic.AddInt64(&b.delivered, 1)
		default:
			atomic.AddInt64(&b.dropped, 1)
			slog.Debug("event dropped for slow subscriber",
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}

	return nil
}

// Subscribe registers a handler for a topic and starts its consumer
// goroutine.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	go sub.consume()
	b.fanout[topic] = append(b.fanout[topic], sub)

	return sub, nil
}

func (s *channelSubscription) consume() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			if msg == nil {
				return
			}
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Debug("event handler failed",
					"topic", s.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Stats reports publish/delivery counters for the /status surface.
func (b *ChannelBus) Stats() map[string]int64 {
	return map[string]int64{
		"published": atomic.LoadInt64(&b.published),
		"delivered": atomic.LoadInt64(&b.delivered),
		"dropped":   atomic.LoadInt64(&b.dropped),
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further publishes.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.fanout {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.fanout = make(map[string][]*channelSubscription)
	return nil
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
