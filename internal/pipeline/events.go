package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"intake/internal/index"
	"intake/internal/notification"
	notificationmodels "intake/internal/notification/models"
	dErrors "intake/pkg/domain-errors"
	"intake/pkg/platform/sentinel"
)

// ReviewNotificationType maps a pull_request action to the review
// notification it produces.
func ReviewNotificationType(action string) (notificationmodels.Type, bool) {
	switch action {
	case "opened", "reopened", "ready_for_review":
		return notificationmodels.TypeReviewRequested, true
	case "synchronize", "edited":
		return notificationmodels.TypeReviewUpdated, true
	}
	return "", false
}

// HandleReviewEvent announces a pull request that needs (re)review. Actions
// without a review notification are ignored and return nil.
func (o *Orchestrator) HandleReviewEvent(ctx context.Context, ev PullRequestEvent) (*notification.DeliveryResult, error) {
	typ, ok := ReviewNotificationType(ev.Action)
	if !ok {
		return nil, nil
	}
	md := map[string]string{
		"pullRequest": strconv.Itoa(ev.Number),
		"action":      ev.Action,
	}
	if ev.URL != "" {
		md["url"] = ev.URL
	}
	if ev.Branch != "" {
		md["branch"] = ev.Branch
	}
	if ev.Sender != "" {
		md["sender"] = ev.Sender
	}
	// best effort: a review event for an unknown record is still announced
	if doc, err := o.resolve(ctx, ev); err == nil {
		md["recordId"] = doc.ID
		md["email"] = doc.Email
	} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		o.logger.WarnContext(ctx, "could not resolve record for review event", "error", err)
	}

	title := "Review requested: " + ev.Title
	message := fmt.Sprintf("Pull request #%d is ready for review.", ev.Number)
	if typ == notificationmodels.TypeReviewUpdated {
		title = "Review updated: " + ev.Title
		message = fmt.Sprintf("Pull request #%d was updated (%s).", ev.Number, ev.Action)
	}
	return o.notifier.Emit(ctx, notificationmodels.Notification{
		Type:     typ,
		Title:    title,
		Message:  message,
		Metadata: md,
	})
}

// HandleRepositoryDeleted resets the records collection and announces it.
// The reset is destructive; notifications and reference data are kept.
func (o *Orchestrator) HandleRepositoryDeleted(ctx context.Context, repository string) (err error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.HandleRepositoryDeleted",
		trace.WithAttributes(attribute.String("repository", repository)))
	defer func() { endSpan(span, err) }()

	if err := o.index.Recreate(ctx, index.CollectionRecords); err != nil {
		o.failPhase(dErrors.PhaseIndex)
		return dErrors.WithPhase(err, dErrors.PhaseIndex, "index", "recreate records")
	}
	o.logger.WarnContext(ctx, "repository deleted, records index reset", "repository", repository)

	o.notify(ctx, notificationmodels.Notification{
		Type:     notificationmodels.TypeRepositoryDeleted,
		Title:    "Repository deleted: " + repository,
		Message:  "The contacts repository was deleted. The records index has been reset.",
		Metadata: map[string]string{"repository": repository},
	})
	return nil
}

// isNotFound reports whether err means no matching record exists.
func isNotFound(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeNotFound) || errors.Is(err, sentinel.ErrNotFound)
}
