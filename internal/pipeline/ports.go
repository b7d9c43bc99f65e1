package pipeline

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"intake/internal/contact/models"
	"intake/internal/downstream"
	"intake/internal/index"
	"intake/internal/notification"
	notificationmodels "intake/internal/notification/models"
)

// VersionControl is the subset of the GitHub adapter the orchestrator drives.
type VersionControl interface {
	CommitRecord(ctx context.Context, r *models.Record, sub models.Submission) (*models.VersionControlRef, error)
	MergePullRequest(ctx context.Context, number int) error
	DeleteBranch(ctx context.Context, name string) error
}

// RecordStore is the index, the source of truth for pipeline state.
type RecordStore interface {
	Upsert(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	Update(ctx context.Context, id string, patch models.Patch) (*models.Document, error)
	FindByEmail(ctx context.Context, email string) (*models.Document, error)
	FindByPullRequest(ctx context.Context, number int) (*models.Document, error)
	Recreate(ctx context.Context, c index.Collection) error
}

// Propagator creates a record in the party system.
type Propagator interface {
	Propagate(ctx context.Context, r *models.Record) downstream.Result
}

// Notifier emits notifications.
type Notifier interface {
	Emit(ctx context.Context, n notificationmodels.Notification) (*notification.DeliveryResult, error)
}
