package pipeline

import (
	"intake/internal/contact/models"
	"intake/internal/downstream"
	dErrors "intake/pkg/domain-errors"
)

// State is a position in the submission saga.
//
//	received -> committed -> indexed -> awaiting_merge   (phase A, synchronous)
//	awaiting_merge -> propagated -> notified              (phase B, on merge webhook)
//
// failed is reachable from every state; FailedPhase says where.
type State string

const (
	StateReceived      State = "received"
	StateCommitted     State = "committed"
	StateIndexed       State = "indexed"
	StateAwaitingMerge State = "awaiting_merge"
	StatePropagated    State = "propagated"
	StateNotified      State = "notified"
	StateFailed        State = "failed"
)

// IndexStatus reports the index phase of a submission.
type IndexStatus struct {
	Indexed bool `json:"indexed"`
}

// SubmitResult is returned once phase A completes.
type SubmitResult struct {
	ID             string                   `json:"id"`
	ReviewStatus   models.SyncStatus        `json:"reviewStatus"`
	VersionControl models.VersionControlRef `json:"versionControl"`
	Index          IndexStatus              `json:"index"`
	State          State                    `json:"state"`
	Merged         bool                     `json:"merged,omitempty"`
}

// MergeResult is the outcome of phase B for one record.
type MergeResult struct {
	RecordID       string             `json:"recordId,omitempty"`
	State          State              `json:"state"`
	FailedPhase    dErrors.Phase      `json:"failedPhase,omitempty"`
	SyncStatus     models.SyncStatus  `json:"syncStatus,omitempty"`
	RemoteID       string             `json:"remoteId,omitempty"`
	Skipped        bool               `json:"skipped,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	Propagation    *downstream.Result `json:"propagation,omitempty"`
	NotificationID string             `json:"notificationId,omitempty"`
}

// PullRequestEvent is a decoded pull_request webhook delivery.
type PullRequestEvent struct {
	DeliveryID string
	Action     string
	Number     int
	Title      string
	Body       string
	URL        string
	Branch     string
	Merged     bool
	Sender     string
}
