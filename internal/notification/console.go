package notification

import (
	"context"
	"log/slog"
	"time"

	"intake/internal/notification/models"
)

// ConsoleChannel writes notifications to the structured log.
type ConsoleChannel struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewConsoleChannel(logger *slog.Logger) *ConsoleChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleChannel{logger: logger, now: time.Now}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(ctx context.Context, n *models.Notification) models.ChannelResult {
	c.logger.InfoContext(ctx, "notification",
		"notification_id", n.ID,
		"type", n.Type,
		"title", n.Title,
		"message", n.Message,
		"metadata", n.Metadata,
	)
	at := c.now().UTC()
	return models.ChannelResult{Channel: c.Name(), Success: true, DeliveredAt: &at}
}
