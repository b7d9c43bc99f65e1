// Package pipeline drives a contact submission through commit, index,
// merge-triggered propagation and notification.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"intake/internal/contact/models"
	"intake/internal/contact/transform"
	"intake/internal/platform/config"
	"intake/internal/platform/metrics"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/requestcontext"
)

const tracerName = "intake/pipeline"

// Orchestrator owns the submission state machine. It keeps no pipeline state
// in memory; the index is the source of truth.
type Orchestrator struct {
	transformer *transform.Transformer
	vcs         VersionControl
	index       RecordStore
	propagator  Propagator
	notifier    Notifier

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	autoMerge                bool
	mergeAttempts            int
	mergeRetryDelay          time.Duration
	compensateOnIndexFailure bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithConfig applies the merge automation and compensation settings.
func WithConfig(cfg config.Pipeline) Option {
	return func(o *Orchestrator) {
		o.autoMerge = cfg.AutoMerge
		if cfg.MergeAttempts > 0 {
			o.mergeAttempts = cfg.MergeAttempts
		}
		o.mergeRetryDelay = max(cfg.MergeRetryDelay, 0)
		o.compensateOnIndexFailure = cfg.CompensateOnIndexFailure
	}
}

// New creates an Orchestrator.
func New(transformer *transform.Transformer, vcs VersionControl, store RecordStore, propagator Propagator, notifier Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transformer:     transformer,
		vcs:             vcs,
		index:           store,
		propagator:      propagator,
		notifier:        notifier,
		logger:          slog.Default(),
		tracer:          otel.Tracer(tracerName),
		now:             func() time.Time { return time.Now().UTC() },
		mergeAttempts:   5,
		mergeRetryDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit runs phase A: transform, commit and index. On success the record
// waits in pending_review for the merge webhook.
//
// A commit failure leaves nothing behind. An index failure after a successful
// commit leaves the branch and pull request in place unless compensation on
// index failure is enabled, in which case the branch is deleted.
func (o *Orchestrator) Submit(ctx context.Context, raw map[string]any, sub models.Submission) (result *SubmitResult, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.Submit")
	defer func() { endSpan(span, err) }()

	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = o.now()
	}
	if sub.CorrelationID == "" {
		sub.CorrelationID = requestcontext.RequestID(ctx)
	}

	record, err := o.transformer.Transform(raw, sub.Actor)
	if err != nil {
		o.metrics.IncSubmission("rejected")
		return nil, err
	}
	if record.Source == "" {
		record.Source = sub.Source
	}
	span.SetAttributes(attribute.String("record.id", record.ID))
	log := o.logger.With(
		"request_id", sub.CorrelationID,
		"record_id", record.ID,
	)

	start := time.Now()
	ref, err := o.vcs.CommitRecord(ctx, record, sub)
	o.metrics.ObservePhase(string(dErrors.PhaseCommit), start)
	if err != nil {
		o.failPhase(dErrors.PhaseCommit)
		log.ErrorContext(ctx, "commit phase failed", "state", StateFailed, "error", err)
		return nil, dErrors.WithPhase(err, dErrors.PhaseCommit, "vcs", "commit record")
	}
	log.InfoContext(ctx, "record committed",
		"state", StateCommitted,
		"branch", ref.Branch,
		"pull_request", ref.PullRequestID,
	)

	doc := &models.Document{
		Record:         *record,
		ReviewStatus:   models.SyncStatusPendingReview,
		SyncStatus:     models.SyncStatusPendingReview,
		VersionControl: *ref,
	}
	start = time.Now()
	err = o.index.Upsert(ctx, doc)
	o.metrics.ObservePhase(string(dErrors.PhaseIndex), start)
	if err != nil {
		o.failPhase(dErrors.PhaseIndex)
		log.ErrorContext(ctx, "index phase failed", "state", StateFailed, "error", err)
		o.afterIndexFailure(ctx, log, ref)
		return nil, dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "upsert record")
	}
	log.InfoContext(ctx, "record indexed", "state", StateAwaitingMerge)
	o.metrics.IncSubmission("accepted")

	result = &SubmitResult{
		ID:             record.ID,
		ReviewStatus:   models.SyncStatusPendingReview,
		VersionControl: *ref,
		Index:          IndexStatus{Indexed: true},
		State:          StateAwaitingMerge,
	}
	if o.autoMerge && ref.PullRequestID > 0 {
		if mergeErr := o.MergeWithRetry(ctx, ref.PullRequestID); mergeErr != nil {
			log.WarnContext(ctx, "automatic merge gave up", "error", mergeErr)
		} else {
			result.Merged = true
		}
	}
	return result, nil
}

func (o *Orchestrator) afterIndexFailure(ctx context.Context, log *slog.Logger, ref *models.VersionControlRef) {
	if !o.compensateOnIndexFailure {
		log.WarnContext(ctx, "branch and pull request left without an index entry",
			"branch", ref.Branch,
			"pull_request", ref.PullRequestID,
		)
		return
	}
	err := o.vcs.DeleteBranch(ctx, ref.Branch)
	o.metrics.IncCompensation("delete_branch_after_index_failure", err == nil)
	if err != nil {
		log.ErrorContext(ctx, "branch cleanup after index failure failed",
			"branch", ref.Branch,
			"error", err,
		)
	}
}

// MergeWithRetry merges a pull request, retrying with a fixed delay. Only the
// automation path uses it; webhook handling never merges.
func (o *Orchestrator) MergeWithRetry(ctx context.Context, number int) (err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.MergeWithRetry",
		trace.WithAttributes(attribute.Int("pull_request", number)))
	defer func() { endSpan(span, err) }()

	attempts := max(o.mergeAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		err = o.vcs.MergePullRequest(ctx, number)
		o.metrics.IncMergeAttempt(err == nil)
		if err == nil {
			o.logger.InfoContext(ctx, "pull request merged",
				"pull_request", number,
				"attempt", attempt,
			)
			return nil
		}
		o.logger.WarnContext(ctx, "merge attempt failed",
			"pull_request", number,
			"attempt", attempt,
			"error", err,
		)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return dErrors.WithPhase(ctx.Err(), dErrors.PhaseMerge, "vcs", "merge pull request")
		case <-time.After(o.mergeRetryDelay):
		}
	}
	o.failPhase(dErrors.PhaseMerge)
	return dErrors.WithPhase(err, dErrors.PhaseMerge, "vcs", "merge pull request")
}

func (o *Orchestrator) failPhase(phase dErrors.Phase) {
	o.metrics.IncPhaseFailure(string(phase))
	if phase == dErrors.PhaseCommit || phase == dErrors.PhaseIndex {
		o.metrics.IncSubmission("failed")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
