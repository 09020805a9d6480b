package engagement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Push topics. One topic per push event family; payload shapes live in
// internal/dto.
const (
	TopicMessage  = "engagement.message"
	TopicMessages = "engagement.messages"
	TopicState    = "engagement.state"
	TopicTransfer = "engagement.transfer"
	TopicTyping   = "engagement.typing"
)

// Bus is the in-process event bus the engine consumes push deliveries from.
// Production wires the NATS feed into it; tests publish directly.
type Bus struct {
	pubSub *gochannel.GoChannel
}

func NewBus() *Bus {
	watermillLogger := watermill.NewStdLogger(false, false)
	return &Bus{
		pubSub: gochannel.NewGoChannel(gochannel.Config{}, watermillLogger),
	}
}

// Publish marshals payload to JSON and publishes it on topic.
func (b *Bus) Publish(topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return b.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

// PublishRaw publishes an already-encoded payload on topic. Used by feeds
// that receive wire JSON and forward it untouched.
func (b *Bus) PublishRaw(topic string, data []byte) error {
	return b.pubSub.Publish(topic, message.NewMessage(watermill.NewUUID(), data))
}

// Subscribe returns the raw watermill message channel for topic. The channel
// closes when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubSub.Subscribe(ctx, topic)
}

// Decode unmarshals a bus message into out and acks it. Undecodable messages
// are acked too; retrying them cannot succeed.
func Decode(msg *message.Message, out interface{}) error {
	defer msg.Ack()
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		return fmt.Errorf("failed to unmarshal bus payload: %w", err)
	}
	return nil
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
