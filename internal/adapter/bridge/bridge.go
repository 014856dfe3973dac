// Package bridge is an external-collaborator adapter, explicitly
// peripheral per §1: it subscribes to an Environment's
// message_delivery_tracer hook and republishes every demand-delivery
// record onto a Watermill topic, demonstrating the "only the contract is
// specified" boundary between the core and an outside message bus
// without the core itself gaining any distribution semantics.
//
// Grounded on the teacher's internal/adapter/pubsub/dispatcher.go
// (EventDispatcher.Publish: marshal, wrap in a watermill message.Message,
// publish to a routing key) and internal/adapter/pubsub/publisher.go
// (constructing a message.Publisher). Here the publisher is watermill's
// in-process gochannel pub/sub rather than the teacher's AMQP-backed
// factory, since the bridge has no on-disk or networked broker of its
// own to offer (§6: "no wire protocol").
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	wmessage "github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/agentflow/internal/core/environment"
)

// DefaultTopic is used when a Bridge isn't given a more specific routing
// scheme; callers that need per-agent or per-cooperation topics should
// build their own TraceEvent -> topic function instead.
const DefaultTopic = "agentflow.demand.delivered"

// Bridge owns an in-process watermill pub/sub pair: its Sink method is a
// message_delivery_tracer implementation that publishes, and Subscribe
// lets an external-collaborator goroutine consume the same stream.
type Bridge struct {
	logger    *slog.Logger
	pubSub    *gochannel.GoChannel
	topicFunc func(environment.TraceEvent) string
}

// Option configures a Bridge at construction time.
type Option func(*Bridge)

// WithTopicFunc overrides the fixed DefaultTopic routing with a
// per-event topic, e.g. keyed by CooperationID.
func WithTopicFunc(fn func(environment.TraceEvent) string) Option {
	return func(b *Bridge) { b.topicFunc = fn }
}

// New builds a Bridge backed by a fresh in-process watermill pub/sub.
func New(logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	wmLogger := watermill.NewSlogLogger(logger)
	b := &Bridge{
		logger:    logger,
		pubSub:    gochannel.NewGoChannel(gochannel.Config{}, wmLogger),
		topicFunc: func(environment.TraceEvent) string { return DefaultTopic },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sink is an environment.Tracer: marshal the event and publish it to this
// bridge's topic, mirroring the teacher's EventDispatcher.Publish.
func (b *Bridge) Sink(event environment.TraceEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("BRIDGE_MARSHAL_FAILED", slog.Any("err", err))
		return
	}

	msg := wmessage.NewMessage(watermill.NewUUID(), payload)
	topic := b.topicFunc(event)
	if err := b.pubSub.Publish(topic, msg); err != nil {
		b.logger.Error("BRIDGE_PUBLISH_FAILED", slog.String("topic", topic), slog.Any("err", err))
	}
}

// Subscribe hands back the channel of messages published to topic, for
// an external-collaborator goroutine to range over.
func (b *Bridge) Subscribe(ctx context.Context, topic string) (<-chan *wmessage.Message, error) {
	ch, err := b.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("bridge: subscribe %s: %w", topic, err)
	}
	return ch, nil
}

// Close releases the bridge's underlying pub/sub resources.
func (b *Bridge) Close() error {
	return b.pubSub.Close()
}
