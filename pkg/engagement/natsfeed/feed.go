// Package natsfeed bridges the engagement backend's push stream, delivered
// over NATS JetStream, onto the in-process event bus the engine consumes.
package natsfeed

import (
	"context"
	"fmt"
	"time"

	"engagement-chat-sdk/internal/pkg/logger"
	"engagement-chat-sdk/pkg/engagement"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const streamName = "ENGAGEMENT"

// Subject suffix -> local bus topic.
var topicBySuffix = map[string]string{
	"message":  engagement.TopicMessage,
	"messages": engagement.TopicMessages,
	"state":    engagement.TopicState,
	"transfer": engagement.TopicTransfer,
	"typing":   engagement.TopicTyping,
}

// Feed consumes push subjects from NATS and republishes them locally.
type Feed struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	bus    *engagement.Bus
	logger logger.ILogger
}

// NewFeed connects to NATS. The connection retries like the rest of the
// stack: 5 reconnects, 2s apart.
func NewFeed(url string, bus *engagement.Bus, log logger.ILogger) (*Feed, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Feed{nc: nc, js: js, bus: bus, logger: log}, nil
}

// Run subscribes to every push subject for the session and forwards payloads
// onto the bus. durableName scopes the consumer to this client install.
func (f *Feed) Run(ctx context.Context, durableName string) error {
	consumer, err := f.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: "engagement.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	_, err = consumer.Consume(func(msg jetstream.Msg) {
		suffix := subjectSuffix(msg.Subject())
		topic, ok := topicBySuffix[suffix]
		if !ok {
			f.logger.Warn("NatsFeed", "Unknown push subject, dropping", map[string]interface{}{"subject": msg.Subject()})
			msg.Ack() // unknown subjects never become known on redelivery
			return
		}

		if err := f.bus.PublishRaw(topic, msg.Data()); err != nil {
			f.logger.Error("NatsFeed", "Failed to republish push event", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	f.logger.Info("NatsFeed", "Subscribed to push stream", map[string]interface{}{"durable": durableName})
	return nil
}

func subjectSuffix(subject string) string {
	for i := len(subject) - 1; i >= 0; i-- {
		if subject[i] == '.' {
			return subject[i+1:]
		}
	}
	return subject
}

// Close closes the NATS connection.
func (f *Feed) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}
