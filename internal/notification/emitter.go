// Package notification fans pipeline notifications out to delivery channels
// and keeps their delivery status.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"intake/internal/notification/models"
	"intake/internal/platform/metrics"
	dErrors "intake/pkg/domain-errors"
)

// Store persists notifications.
type Store interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	UpdateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, f models.ListFilter) ([]*models.Notification, int, error)
	NotificationStats(ctx context.Context) (models.Stats, error)
	MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error)
}

// Channel delivers one notification. Implementations report failure in the
// returned ChannelResult and never panic the caller.
type Channel interface {
	Name() string
	Send(ctx context.Context, n *models.Notification) models.ChannelResult
}

// DeliveryResult is the settled outcome of Emit.
type DeliveryResult struct {
	Notification *models.Notification   `json:"notification"`
	Channels     []models.ChannelResult `json:"channels"`
	Delivered    bool                   `json:"delivered"`
}

// Emitter assigns identity, persists, and fans notifications out.
type Emitter struct {
	store    Store
	channels []Channel
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

// Option configures an Emitter.
type Option func(*Emitter)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Emitter) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Emitter) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// New creates an Emitter over the given channels.
func New(store Store, channels []Channel, opts ...Option) *Emitter {
	e := &Emitter{
		store:    store,
		channels: channels,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Channels lists the configured channel names.
func (e *Emitter) Channels() []string {
	names := make([]string, 0, len(e.channels))
	for _, ch := range e.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Emit persists n as pending, delivers it on every channel concurrently,
// waits for all attempts, and persists the final status: sent when at least
// one channel succeeded, failed otherwise. An error is returned only when
// the notification could not be persisted.
func (e *Emitter) Emit(ctx context.Context, n models.Notification) (*DeliveryResult, error) {
	if !n.Type.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("unknown notification type %q", n.Type))
	}
	now := e.now()
	n.ID = e.newID()
	n.Status = models.StatusPending
	n.Read = false
	n.Channels = nil
	n.CreatedAt = now
	n.UpdatedAt = now

	if err := e.store.SaveNotification(ctx, &n); err != nil {
		return nil, dErrors.WithPhase(err, dErrors.PhaseNotify, "notification-store", "save notification")
	}

	results := e.fanOut(ctx, &n)

	delivered := false
	for _, r := range results {
		if r.Success {
			delivered = true
			break
		}
	}
	n.Status = models.StatusFailed
	if delivered {
		n.Status = models.StatusSent
	}
	n.Channels = results
	n.UpdatedAt = e.now()
	e.metrics.IncNotification(string(n.Type), string(n.Status))

	if err := e.store.UpdateNotification(ctx, &n); err != nil {
		return nil, dErrors.WithPhase(err, dErrors.PhaseNotify, "notification-store", "update notification")
	}

	if !delivered {
		e.logger.WarnContext(ctx, "notification not delivered on any channel",
			"notification_id", n.ID,
			"type", n.Type,
		)
	}
	return &DeliveryResult{Notification: &n, Channels: results, Delivered: delivered}, nil
}

// fanOut runs every channel and waits for all of them to settle.
func (e *Emitter) fanOut(ctx context.Context, n *models.Notification) []models.ChannelResult {
	results := make([]models.ChannelResult, len(e.channels))
	snapshot := *n
	var g errgroup.Group
	for i, ch := range e.channels {
		g.Go(func() error {
			results[i] = e.send(ctx, ch, &snapshot)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Emitter) send(ctx context.Context, ch Channel, n *models.Notification) (res models.ChannelResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "notification channel panicked",
				"channel", ch.Name(),
				"panic", r,
			)
			res = models.ChannelResult{Channel: ch.Name(), Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	res = ch.Send(ctx, n)
	res.Channel = ch.Name()
	if !res.Success {
		e.logger.WarnContext(ctx, "notification channel failed",
			"channel", ch.Name(),
			"notification_id", n.ID,
			"error", res.Error,
		)
	}
	return res
}

// List returns one page of notifications, newest first, and the total match count.
func (e *Emitter) List(ctx context.Context, f models.ListFilter) ([]*models.Notification, int, error) {
	return e.store.ListNotifications(ctx, f)
}

// Stats summarises stored notifications.
func (e *Emitter) Stats(ctx context.Context) (models.Stats, error) {
	return e.store.NotificationStats(ctx)
}

// MarkRead flags a notification as read.
func (e *Emitter) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	return e.store.MarkNotificationRead(ctx, id)
}

// SendTest emits a system alert through every channel.
func (e *Emitter) SendTest(ctx context.Context, message string) (*DeliveryResult, error) {
	if message == "" {
		message = "This is a test notification."
	}
	return e.Emit(ctx, models.Notification{
		Type:     models.TypeSystemAlert,
		Title:    "Test notification",
		Message:  message,
		Metadata: map[string]string{"test": "true"},
	})
}
