package notification

import (
	"log/slog"
	"net/http"

	"github.com/twmb/franz-go/pkg/kgo"

	"intake/internal/platform/config"
)

// ChannelsFromConfig assembles the enabled channels. A nil producer disables
// the kafka channel.
func ChannelsFromConfig(cfg config.Config, logger *slog.Logger, producer *kgo.Client, hc *http.Client) ([]Channel, error) {
	var channels []Channel
	if cfg.Notifications.Console {
		channels = append(channels, NewConsoleChannel(logger))
	}
	email, err := NewEmailChannel(cfg.Notifications)
	if err != nil {
		return nil, err
	}
	if email != nil {
		channels = append(channels, email)
	}
	if wh := NewWebhookChannel(cfg.Notifications.WebhookURL, hc); wh != nil {
		channels = append(channels, wh)
	}
	if producer != nil {
		channels = append(channels, NewKafkaChannel(producer, cfg.Kafka.Topic))
	}
	return channels, nil
}
