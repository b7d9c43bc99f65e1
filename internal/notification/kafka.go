package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"intake/internal/notification/models"
)

// Producer is the subset of *kgo.Client used by KafkaChannel.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaChannel publishes notifications to a topic keyed by notification ID.
type KafkaChannel struct {
	producer Producer
	topic    string
	now      func() time.Time
}

// NewKafkaChannel returns nil when producer is nil.
func NewKafkaChannel(producer Producer, topic string) *KafkaChannel {
	if producer == nil {
		return nil
	}
	return &KafkaChannel{producer: producer, topic: topic, now: time.Now}
}

func (c *KafkaChannel) Name() string { return "kafka" }

func (c *KafkaChannel) Send(ctx context.Context, n *models.Notification) models.ChannelResult {
	value, err := json.Marshal(n)
	if err != nil {
		return models.ChannelResult{Channel: c.Name(), Error: fmt.Sprintf("marshal notification: %v", err)}
	}
	rec := &kgo.Record{
		Topic: c.topic,
		Key:   []byte(n.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(n.Type)},
		},
	}
	if err := c.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return models.ChannelResult{Channel: c.Name(), Error: err.Error()}
	}
	at := c.now().UTC()
	return models.ChannelResult{Channel: c.Name(), Success: true, DeliveredAt: &at}
}
