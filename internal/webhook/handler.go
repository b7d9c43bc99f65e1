// Package webhook receives signed version-control events and hands them to
// the pipeline.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"intake/internal/notification"
	"intake/internal/pipeline"
	"intake/internal/platform/metrics"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	"intake/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Processor

const (
	EventHeader    = "X-GitHub-Event"
	DeliveryHeader = "X-GitHub-Delivery"

	maxBodyBytes = 5 << 20
)

// Processor runs the pipeline transitions a webhook can trigger.
type Processor interface {
	HandleMerge(ctx context.Context, ev pipeline.PullRequestEvent) (*pipeline.MergeResult, error)
	HandleReviewEvent(ctx context.Context, ev pipeline.PullRequestEvent) (*notification.DeliveryResult, error)
	HandleRepositoryDeleted(ctx context.Context, repository string) error
}

// Response is the body returned for accepted deliveries.
type Response struct {
	Event    string `json:"event"`
	Action   string `json:"action,omitempty"`
	Status   string `json:"status"`
	Delivery string `json:"delivery,omitempty"`
	Result   any    `json:"result,omitempty"`
}

const (
	statusProcessed = "processed"
	statusIgnored   = "ignored"
	statusDuplicate = "duplicate"
	statusPong      = "pong"
)

// Handler verifies and dispatches webhook deliveries.
type Handler struct {
	secret    []byte
	processor Processor
	deduper   pipeline.DeliveryDeduper
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithDeduper enables delivery-id dedupe.
func WithDeduper(d pipeline.DeliveryDeduper) Option {
	return func(h *Handler) { h.deduper = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func New(secret string, processor Processor, opts ...Option) *Handler {
	h := &Handler{
		secret:    []byte(secret),
		processor: processor,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP rejects unsigned or mis-signed deliveries with 401 before any
// other work.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	event := r.Header.Get(EventHeader)
	delivery := r.Header.Get(DeliveryHeader)
	log := h.logger.With(
		"request_id", requestID,
		"event", event,
		"delivery_id", delivery,
	)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.IncWebhookEvent(event, "bad_request")
		httputil.WriteErrorWithRequestID(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "could not read request body"), requestID)
		return
	}
	if err := VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		log.WarnContext(ctx, "webhook signature rejected", "error", err)
		h.metrics.IncWebhookEvent(event, "unauthorized")
		httputil.WriteErrorWithRequestID(w, err, requestID)
		return
	}

	if event == EventPing {
		h.metrics.IncWebhookEvent(event, statusPong)
		httputil.WriteJSON(w, http.StatusOK, Response{Event: event, Status: statusPong, Delivery: delivery})
		return
	}

	if h.deduper != nil && delivery != "" {
		claimed, err := h.deduper.Claim(ctx, delivery)
		switch {
		case err != nil:
			log.WarnContext(ctx, "delivery dedupe unavailable", "error", err)
		case !claimed:
			log.InfoContext(ctx, "duplicate delivery ignored")
			h.metrics.IncWebhookEvent(event, statusDuplicate)
			httputil.WriteJSON(w, http.StatusOK, Response{Event: event, Status: statusDuplicate, Delivery: delivery})
			return
		}
	}

	resp, err := h.dispatch(ctx, event, delivery, body)
	if err != nil {
		h.release(ctx, log, delivery)
		h.metrics.IncWebhookEvent(event, "failed")
		if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeAdapter {
			log.ErrorContext(ctx, "webhook processing failed", "error", err)
		} else {
			log.WarnContext(ctx, "webhook rejected", "error", err)
		}
		httputil.WriteErrorWithRequestID(w, err, requestID)
		return
	}
	resp.Delivery = delivery
	h.metrics.IncWebhookEvent(event, resp.Status)
	log.InfoContext(ctx, "webhook handled", "action", resp.Action, "status", resp.Status)
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) dispatch(ctx context.Context, event, delivery string, body []byte) (*Response, error) {
	switch event {
	case EventPullRequest:
		var p pullRequestPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed pull_request payload")
		}
		return h.pullRequest(ctx, p.event(delivery))
	case EventRepository:
		var p repositoryPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "malformed repository payload")
		}
		if p.Action != "deleted" {
			return &Response{Event: event, Action: p.Action, Status: statusIgnored}, nil
		}
		if err := h.processor.HandleRepositoryDeleted(ctx, p.Repository.FullName); err != nil {
			return nil, err
		}
		return &Response{Event: event, Action: p.Action, Status: statusProcessed}, nil
	}
	return &Response{Event: event, Status: statusIgnored}, nil
}

func (h *Handler) pullRequest(ctx context.Context, ev pipeline.PullRequestEvent) (*Response, error) {
	resp := &Response{Event: EventPullRequest, Action: ev.Action, Status: statusProcessed}
	if ev.Action == "closed" {
		if !ev.Merged {
			resp.Status = statusIgnored
			return resp, nil
		}
		res, err := h.processor.HandleMerge(ctx, ev)
		if err != nil {
			return nil, err
		}
		resp.Result = res
		return resp, nil
	}
	if _, ok := pipeline.ReviewNotificationType(ev.Action); !ok {
		resp.Status = statusIgnored
		return resp, nil
	}
	res, err := h.processor.HandleReviewEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	if res != nil {
		resp.Result = res.Notification
	}
	return resp, nil
}

func (h *Handler) release(ctx context.Context, log *slog.Logger, delivery string) {
	if h.deduper == nil || delivery == "" {
		return
	}
	if err := h.deduper.Release(ctx, delivery); err != nil && !errors.Is(err, context.Canceled) {
		log.WarnContext(ctx, "failed to release delivery claim", "error", err)
	}
}
