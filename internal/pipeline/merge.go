package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"intake/internal/contact/models"
	"intake/internal/downstream"
	notificationmodels "intake/internal/notification/models"
	"intake/internal/vcs"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
	"intake/pkg/requestcontext"
)

// HandleMerge runs phase B for the record a merged pull request carried.
//
// It is safe to call repeatedly for the same event: a record that has already
// left pending_review is reported as skipped and nothing is re-propagated.
// A propagation failure marks the record failed, emits sync_failed and is
// returned as an error alongside the result.
func (o *Orchestrator) HandleMerge(ctx context.Context, ev PullRequestEvent) (result *MergeResult, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.HandleMerge",
		trace.WithAttributes(attribute.Int("pull_request", ev.Number)))
	defer func() { endSpan(span, err) }()

	if !ev.Merged {
		return &MergeResult{State: StateAwaitingMerge, Skipped: true, Reason: "pull request closed without merge"}, nil
	}
	doc, err := o.resolve(ctx, ev)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("record.id", doc.ID))

	if doc.SyncStatus != "" && doc.SyncStatus != models.SyncStatusPendingReview {
		o.logger.InfoContext(ctx, "merge already handled",
			"record_id", doc.ID,
			"sync_status", doc.SyncStatus,
			"delivery_id", ev.DeliveryID,
		)
		return &MergeResult{
			RecordID:   doc.ID,
			State:      stateFor(doc.SyncStatus),
			SyncStatus: doc.SyncStatus,
			RemoteID:   doc.RemoteID,
			Skipped:    true,
			Reason:     "record already " + string(doc.SyncStatus),
		}, nil
	}

	claim := ev.DeliveryID
	if claim == "" {
		claim = uuid.NewString()
	}
	claimed, err := o.claim(ctx, doc, claim)
	if errors.Is(err, sentinel.ErrConflict) {
		o.logger.InfoContext(ctx, "merge already in progress",
			"record_id", doc.ID,
			"delivery_id", ev.DeliveryID,
		)
		return &MergeResult{
			RecordID:   doc.ID,
			State:      StateAwaitingMerge,
			SyncStatus: doc.SyncStatus,
			Skipped:    true,
			Reason:     "record was claimed by another delivery",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	result, err = o.propagate(ctx, claimed, false)
	if err != nil && (result == nil || result.SyncStatus != models.SyncStatusFailed) {
		o.releaseClaim(ctx, doc.ID, claim)
	}
	return result, err
}

// claim marks a pending record as owned by one merge delivery, provided it
// still has the status it was read with. Concurrent deliveries for the same
// record lose with sentinel.ErrConflict.
func (o *Orchestrator) claim(ctx context.Context, doc *models.Document, claim string) (*models.Document, error) {
	status := doc.SyncStatus
	unclaimed := ""
	claimed, err := o.index.Update(ctx, doc.ID, models.Patch{
		SyncClaim:    &claim,
		IfSyncStatus: &status,
		IfSyncClaim:  &unclaimed,
	})
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return nil, err
	case err != nil:
		return nil, dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "claim record")
	}
	return claimed, nil
}

// releaseClaim lets a redelivery retry a merge whose propagation never reached
// a terminal status.
func (o *Orchestrator) releaseClaim(ctx context.Context, id, claim string) {
	cleared := ""
	if _, err := o.index.Update(ctx, id, models.Patch{SyncClaim: &cleared, IfSyncClaim: &claim}); err != nil {
		o.logger.WarnContext(ctx, "failed to release merge claim",
			"record_id", id,
			"claim", claim,
			"error", err,
		)
	}
}

// Resync re-enters propagation for an indexed record regardless of its
// current status or whether its pull request was merged.
func (o *Orchestrator) Resync(ctx context.Context, id string) (result *MergeResult, err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.Resync",
		trace.WithAttributes(attribute.String("record.id", id)))
	defer func() { endSpan(span, err) }()

	doc, err := o.index.Get(ctx, id)
	if isNotFound(err) {
		return nil, dErrors.NotFound("record %s not found", id)
	}
	if err != nil {
		return nil, dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "get record")
	}
	o.logger.InfoContext(ctx, "manual resync requested",
		"record_id", id,
		"sync_status", doc.SyncStatus,
		"actor", requestcontext.Actor(ctx),
	)
	return o.propagate(ctx, doc, true)
}

func (o *Orchestrator) propagate(ctx context.Context, doc *models.Document, resync bool) (*MergeResult, error) {
	log := o.logger.With(
		"request_id", requestcontext.RequestID(ctx),
		"record_id", doc.ID,
	)

	start := time.Now()
	res := o.propagator.Propagate(ctx, &doc.Record)
	o.metrics.ObservePhase(string(dErrors.PhasePropagate), start)

	if !res.Success {
		return o.propagationFailed(ctx, doc, res, resync)
	}
	if failed := res.FailedSteps(); len(failed) > 0 {
		log.WarnContext(ctx, "propagated with failed best-effort steps", "failed_steps", len(failed))
	}

	if !doc.SyncStatus.CanTransitionTo(models.SyncStatusSynced, resync) {
		return nil, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("record %s cannot move from %s to synced", doc.ID, doc.SyncStatus))
	}
	now := o.now()
	synced := models.SyncStatusSynced
	remoteID := res.RemoteID
	cleared := ""
	updated, err := o.index.Update(ctx, doc.ID, models.Patch{
		SyncStatus: &synced,
		RemoteID:   &remoteID,
		SyncError:  &cleared,
		SyncedAt:   &now,
		SyncClaim:  &cleared,
	})
	if err != nil {
		o.failPhase(dErrors.PhaseIndex)
		log.ErrorContext(ctx, "propagated but sync status update failed",
			"remote_id", remoteID,
			"error", err,
		)
		return nil, dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "update sync status")
	}
	log.InfoContext(ctx, "record propagated",
		"state", StatePropagated,
		"remote_id", remoteID,
		"resync", resync,
	)

	result := &MergeResult{
		RecordID:    doc.ID,
		State:       StatePropagated,
		SyncStatus:  updated.SyncStatus,
		RemoteID:    remoteID,
		Propagation: &res,
	}
	if id := o.notify(ctx, notificationmodels.Notification{
		Type:     notificationmodels.TypeContactSynced,
		Title:    "Contact synced: " + doc.Name,
		Message:  fmt.Sprintf("%s <%s> was created in the party system as %s.", doc.Name, doc.Email, remoteID),
		Metadata: recordMetadata(ctx, doc, map[string]string{"remoteId": remoteID}),
	}); id != "" {
		result.State = StateNotified
		result.NotificationID = id
	}
	return result, nil
}

func (o *Orchestrator) propagationFailed(ctx context.Context, doc *models.Document, res downstream.Result, resync bool) (*MergeResult, error) {
	o.failPhase(dErrors.PhasePropagate)
	log := o.logger.With("record_id", doc.ID)
	log.ErrorContext(ctx, "propagation failed", "state", StateFailed, "error", res.Error)

	result := &MergeResult{
		RecordID:    doc.ID,
		State:       StateFailed,
		FailedPhase: dErrors.PhasePropagate,
		SyncStatus:  doc.SyncStatus,
		Propagation: &res,
	}
	if doc.SyncStatus.CanTransitionTo(models.SyncStatusFailed, resync) {
		failed := models.SyncStatusFailed
		msg := res.Error
		cleared := ""
		if _, err := o.index.Update(ctx, doc.ID, models.Patch{SyncStatus: &failed, SyncError: &msg, SyncClaim: &cleared}); err != nil {
			log.ErrorContext(ctx, "failed to record sync failure", "error", err)
		} else {
			result.SyncStatus = failed
		}
	}
	result.NotificationID = o.notify(ctx, notificationmodels.Notification{
		Type:     notificationmodels.TypeSyncFailed,
		Title:    "Contact sync failed: " + doc.Name,
		Message:  fmt.Sprintf("Propagating %s <%s> failed: %s", doc.Name, doc.Email, res.Error),
		Metadata: recordMetadata(ctx, doc, map[string]string{"error": res.Error}),
	})

	cause := res.Err
	if cause == nil {
		cause = errors.New(res.Error)
	}
	return result, dErrors.WithPhase(cause, dErrors.PhasePropagate, "downstream", "propagate record")
}

// resolve finds the indexed record for a pull request: record id from the
// body first, then the pull request number, then the email in the body.
func (o *Orchestrator) resolve(ctx context.Context, ev PullRequestEvent) (*models.Document, error) {
	fields := vcs.ParsePullRequestBody(ev.Body)

	lookups := []struct {
		what string
		ok   bool
		find func() (*models.Document, error)
	}{
		{"record id", fields[vcs.BodyFieldRecordID] != "", func() (*models.Document, error) {
			return o.index.Get(ctx, fields[vcs.BodyFieldRecordID])
		}},
		{"pull request", ev.Number > 0, func() (*models.Document, error) {
			return o.index.FindByPullRequest(ctx, ev.Number)
		}},
		{"email", fields[vcs.BodyFieldEmail] != "", func() (*models.Document, error) {
			return o.index.FindByEmail(ctx, fields[vcs.BodyFieldEmail])
		}},
	}
	for _, l := range lookups {
		if !l.ok {
			continue
		}
		doc, err := l.find()
		if err == nil {
			return doc, nil
		}
		if !isNotFound(err) {
			return nil, dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "resolve record by "+l.what)
		}
	}
	return nil, dErrors.NotFound("no indexed record for pull request #%d", ev.Number)
}

// notify emits n and returns its id, or "" when it could not be emitted.
// Notification failures never fail the caller.
func (o *Orchestrator) notify(ctx context.Context, n notificationmodels.Notification) string {
	start := time.Now()
	res, err := o.notifier.Emit(ctx, n)
	o.metrics.ObservePhase(string(dErrors.PhaseNotify), start)
	if err != nil {
		o.metrics.IncPhaseFailure(string(dErrors.PhaseNotify))
		o.logger.WarnContext(ctx, "notification not emitted",
			"type", n.Type,
			"error", err,
		)
		return ""
	}
	return res.Notification.ID
}

func recordMetadata(ctx context.Context, doc *models.Document, extra map[string]string) map[string]string {
	md := map[string]string{
		"recordId": doc.ID,
		"email":    doc.Email,
		"name":     doc.Name,
	}
	if doc.VersionControl.PullRequestID > 0 {
		md["pullRequest"] = strconv.Itoa(doc.VersionControl.PullRequestID)
	}
	if id := requestcontext.RequestID(ctx); id != "" {
		md["requestId"] = id
	}
	for k, v := range extra {
		if v != "" {
			md[k] = v
		}
	}
	return md
}

func stateFor(s models.SyncStatus) State {
	switch s {
	case models.SyncStatusSynced:
		return StatePropagated
	case models.SyncStatusFailed:
		return StateFailed
	}
	return StateAwaitingMerge
}
