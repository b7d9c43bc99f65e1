// Package handler exposes the submission pipeline over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"intake/internal/contact/models"
	"intake/internal/health"
	"intake/internal/index"
	"intake/internal/notification"
	notificationmodels "intake/internal/notification/models"
	"intake/internal/pipeline"
	"intake/internal/platform/metrics"
	"intake/internal/platform/middleware"
	"intake/internal/ratelimit"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/httputil"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

const maxSubmissionBytes = 1 << 20

// Pipeline runs submissions and operator resyncs.
type Pipeline interface {
	Submit(ctx context.Context, raw map[string]any, sub models.Submission) (*pipeline.SubmitResult, error)
	Resync(ctx context.Context, id string) (*pipeline.MergeResult, error)
}

// Index serves reads of indexed records and reference data.
type Index interface {
	Get(ctx context.Context, id string) (*models.Document, error)
	Search(ctx context.Context, q index.SearchQuery) (*index.SearchResult, error)
	ReferenceData(ctx context.Context, refType string) ([]index.ReferenceEntry, error)
}

// Notifications reads and emits notifications.
type Notifications interface {
	List(ctx context.Context, f notificationmodels.ListFilter) ([]*notificationmodels.Notification, int, error)
	Stats(ctx context.Context) (notificationmodels.Stats, error)
	MarkRead(ctx context.Context, id string) (*notificationmodels.Notification, error)
	SendTest(ctx context.Context, message string) (*notification.DeliveryResult, error)
}

// HealthChecker aggregates collaborator health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// Handler serves the intake HTTP API.
type Handler struct {
	pipeline       Pipeline
	index          Index
	notifications  Notifications
	logger         *slog.Logger
	metrics        *metrics.Metrics
	webhook        http.Handler
	health         HealthChecker
	metricsHandler http.Handler
	limiter        *ratelimit.Limiter
	requestTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithWebhook mounts the signed webhook receiver at /webhooks/vc.
func WithWebhook(h http.Handler) Option {
	return func(hd *Handler) { hd.webhook = h }
}

func WithHealth(c HealthChecker) Option {
	return func(hd *Handler) { hd.health = c }
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(hd *Handler) { hd.metricsHandler = h }
}

// WithSubmissionLimiter bounds POST /submissions per client. A nil limiter
// leaves the route unlimited.
func WithSubmissionLimiter(l *ratelimit.Limiter) Option {
	return func(hd *Handler) { hd.limiter = l }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(hd *Handler) {
		if d > 0 {
			hd.requestTimeout = d
		}
	}
}

// New creates a Handler.
func New(p Pipeline, idx Index, notifications Notifications, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		pipeline:       p,
		index:          idx,
		notifications:  notifications,
		logger:         logger,
		metrics:        m,
		requestTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes builds a router with the full middleware chain.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.Logger(h.logger))
	r.Use(middleware.Timeout(h.requestTimeout))
	r.Use(middleware.LatencyMiddleware(h.metrics))

	if h.webhook != nil {
		r.Method(http.MethodPost, "/webhooks/vc", h.webhook)
	}
	r.Get("/health", h.handleHealth)
	if h.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", h.metricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		if h.limiter != nil {
			r.With(h.limiter.Middleware).Post("/submissions", h.handleSubmit)
		} else {
			r.Post("/submissions", h.handleSubmit)
		}
		r.Get("/submissions", h.handleSearch)
		r.Get("/submissions/{id}", h.handleGet)
		r.Post("/submissions/{id}/resync", h.handleResync)

		r.Get("/notifications", h.handleListNotifications)
		r.Get("/notifications/stats", h.handleNotificationStats)
		r.Post("/notifications/test", h.handleTestNotification)
		r.Post("/notifications/{id}/read", h.handleMarkRead)

		r.Get("/reference/{type}", h.handleReferenceData)
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var raw map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmissionBytes))
	if err := dec.Decode(&raw); err != nil || raw == nil {
		h.logger.WarnContext(ctx, "invalid submission body",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteErrorWithRequestID(w, dErrors.New(dErrors.CodeBadRequest, "request body must be a JSON object"), requestID)
		return
	}

	sub := models.Submission{
		CorrelationID: requestID,
		Source:        requestcontext.Source(ctx),
		Actor:         requestcontext.Actor(ctx),
		ReceivedAt:    requestcontext.Now(ctx),
	}
	res, err := h.pipeline.Submit(ctx, raw, sub)
	if err != nil {
		h.writeError(ctx, w, err, "submission failed")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseSearchQuery(r)
	if err != nil {
		httputil.WriteErrorWithRequestID(w, err, middleware.GetRequestID(ctx))
		return
	}
	res, err := h.index.Search(ctx, q)
	if err != nil {
		h.writeError(ctx, w, dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "search"), "search failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func parseSearchQuery(r *http.Request) (index.SearchQuery, error) {
	v := r.URL.Query()
	q := index.SearchQuery{
		Query:   strings.TrimSpace(v.Get("query")),
		Company: v.Get("company"),
		Country: v.Get("country"),
		Tag:     v.Get("tag"),
	}
	if q.Query == "" {
		q.Query = strings.TrimSpace(v.Get("q"))
	}
	verr := &dErrors.ValidationError{}
	if s := v.Get("status"); s != "" {
		q.Status = models.SyncStatus(s)
		if !q.Status.IsValid() {
			verr.Add("status", "must be one of pending_review, synced, failed")
		}
	}
	q.Page = intParam(v.Get("page"), "page", verr)
	q.Size = intParam(v.Get("size"), "size", verr)
	return q, verr.OrNil()
}

func intParam(raw, field string, verr *dErrors.ValidationError) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		verr.Add(field, "must be a positive integer")
		return 0
	}
	return n
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	doc, err := h.index.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.NotFound("submission %s not found", id)
		} else {
			err = dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "get record")
		}
		h.writeError(ctx, w, err, "get submission failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleResync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.pipeline.Resync(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, err, "resync failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health == nil {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": health.StatusOK})
		return
	}
	report := h.health.Check(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, report)
}

type notificationList struct {
	Notifications []*notificationmodels.Notification `json:"notifications"`
	Total         int                                `json:"total"`
	Limit         int                                `json:"limit"`
	Offset        int                                `json:"offset"`
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v := r.URL.Query()
	verr := &dErrors.ValidationError{}
	f := notificationmodels.ListFilter{
		Type:   notificationmodels.Type(v.Get("type")),
		Status: notificationmodels.Status(v.Get("status")),
		Unread: v.Get("unread") == "true",
		Limit:  50,
	}
	if f.Type != "" && !f.Type.IsValid() {
		verr.Add("type", "unknown notification type")
	}
	if raw := v.Get("limit"); raw != "" {
		f.Limit = min(intParam(raw, "limit", verr), 200)
	}
	if raw := v.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			verr.Add("offset", "must be a non-negative integer")
		}
		f.Offset = n
	}
	if err := verr.OrNil(); err != nil {
		httputil.WriteErrorWithRequestID(w, err, middleware.GetRequestID(ctx))
		return
	}

	items, total, err := h.notifications.List(ctx, f)
	if err != nil {
		h.writeError(ctx, w, err, "list notifications failed")
		return
	}
	if items == nil {
		items = []*notificationmodels.Notification{}
	}
	httputil.WriteJSON(w, http.StatusOK, notificationList{Notifications: items, Total: total, Limit: f.Limit, Offset: f.Offset})
}

func (h *Handler) handleNotificationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.notifications.Stats(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err, "notification stats failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

type testNotificationRequest struct {
	Message string `json:"message"`
}

func (h *Handler) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req testNotificationRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.WriteErrorWithRequestID(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"), middleware.GetRequestID(ctx))
			return
		}
	}
	res, err := h.notifications.SendTest(ctx, req.Message)
	if err != nil {
		h.writeError(ctx, w, err, "test notification failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	n, err := h.notifications.MarkRead(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.NotFound("notification %s not found", id)
		}
		h.writeError(ctx, w, err, "mark notification read failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

type referenceResponse struct {
	Type    string                 `json:"type"`
	Entries []index.ReferenceEntry `json:"entries"`
}

func (h *Handler) handleReferenceData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	refType := chi.URLParam(r, "type")
	entries, err := h.index.ReferenceData(ctx, refType)
	if err != nil {
		h.writeError(ctx, w, err, "reference data failed")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, referenceResponse{Type: refType, Entries: entries})
}

// writeError logs server-side failures with their full detail and writes the
// caller-safe envelope.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error, msg string) {
	requestID := middleware.GetRequestID(ctx)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeAdapter, dErrors.CodeUnavailable:
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestID,
			"status_code", dErrors.StatusCodeOf(err),
			"error", err,
		)
	default:
		h.logger.WarnContext(ctx, msg,
			"request_id", requestID,
			"error", err,
		)
	}
	httputil.WriteErrorWithRequestID(w, err, requestID)
}
