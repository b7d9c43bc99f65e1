package models

import (
	"fmt"
	"strings"
	"time"
)

// SyncStatus is the pipeline state stored with a record in the index.
//
// Transitions:
//   - pending_review -> synced (propagation succeeded after merge)
//   - pending_review -> failed (propagation or commit failed)
//
// synced and failed are terminal except for a manual re-sync, which re-enters
// propagation only.
type SyncStatus string

const (
	SyncStatusPendingReview SyncStatus = "pending_review"
	SyncStatusSynced        SyncStatus = "synced"
	SyncStatusFailed        SyncStatus = "failed"
)

// IsValid reports whether s is a known status.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPendingReview, SyncStatusSynced, SyncStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
// resync admits the operator override out of terminal states.
func (s SyncStatus) CanTransitionTo(next SyncStatus, resync bool) bool {
	if s == "" || s == SyncStatusPendingReview {
		return next == SyncStatusSynced || next == SyncStatusFailed || next == SyncStatusPendingReview
	}
	return resync && (next == SyncStatusSynced || next == SyncStatusFailed)
}

// VersionControlRef is the branch/PR handle that carried a record's change.
type VersionControlRef struct {
	Branch         string `json:"branch"`
	PullRequestID  int    `json:"pullRequestId"`
	PullRequestURL string `json:"pullRequestUrl"`
	FilePath       string `json:"filePath,omitempty"`
}

// Record is the canonical contact entity.
//
// Invariants:
//   - ID is assigned once at transform time and never regenerated
//   - Name and Email are non-empty
type Record struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	FirstName    string            `json:"firstName"`
	LastName     string            `json:"lastName,omitempty"`
	Email        string            `json:"email"`
	Phone        string            `json:"phone,omitempty"`
	Company      string            `json:"company,omitempty"`
	JobTitle     string            `json:"jobTitle,omitempty"`
	Department   string            `json:"department,omitempty"`
	Street       string            `json:"street,omitempty"`
	City         string            `json:"city,omitempty"`
	State        string            `json:"state,omitempty"`
	PostalCode   string            `json:"postalCode,omitempty"`
	Country      string            `json:"country,omitempty"`
	Notes        string            `json:"notes,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
	Source       string            `json:"source,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	CreatedBy    string            `json:"createdBy"`
	ModifiedAt   time.Time         `json:"modifiedAt"`
	ModifiedBy   string            `json:"modifiedBy"`
}

// HasPostalAddress reports whether any postal field is present.
func (r *Record) HasPostalAddress() bool {
	return r.Street != "" || r.City != "" || r.State != "" || r.PostalCode != "" || r.Country != ""
}

// ShortID is the first 8 characters of the identifier, used in branch names.
func (r *Record) ShortID() string {
	id := strings.ReplaceAll(r.ID, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Document is a Record as stored in the index, with pipeline bookkeeping.
type Document struct {
	Record
	ReviewStatus   SyncStatus        `json:"reviewStatus"`
	SyncStatus     SyncStatus        `json:"syncStatus"`
	RemoteID       string            `json:"remoteId,omitempty"`
	SyncError      string            `json:"syncError,omitempty"`
	SyncedAt       *time.Time        `json:"syncedAt,omitempty"`
	VersionControl VersionControlRef `json:"versionControl"`
	// SyncClaim names the merge delivery currently propagating the record.
	SyncClaim string `json:"syncClaim,omitempty"`
}

// Patch is a merge-patch over a Document. Nil fields are left unchanged.
//
// The If* fields are preconditions: a store applies the patch only when the
// stored document matches them, atomically with the write.
type Patch struct {
	ReviewStatus   *SyncStatus
	SyncStatus     *SyncStatus
	RemoteID       *string
	SyncError      *string
	SyncedAt       *time.Time
	VersionControl *VersionControlRef
	ModifiedBy     *string
	SyncClaim      *string

	IfSyncStatus *SyncStatus
	IfSyncClaim  *string
}

// Satisfied reports whether d meets the patch preconditions.
func (p Patch) Satisfied(d *Document) bool {
	if p.IfSyncStatus != nil && d.SyncStatus != *p.IfSyncStatus {
		return false
	}
	if p.IfSyncClaim != nil && d.SyncClaim != *p.IfSyncClaim {
		return false
	}
	return true
}

// Apply merges p into d and refreshes ModifiedAt.
func (p Patch) Apply(d *Document, now time.Time) {
	if p.ReviewStatus != nil {
		d.ReviewStatus = *p.ReviewStatus
	}
	if p.SyncStatus != nil {
		d.SyncStatus = *p.SyncStatus
	}
	if p.RemoteID != nil {
		d.RemoteID = *p.RemoteID
	}
	if p.SyncError != nil {
		d.SyncError = *p.SyncError
	}
	if p.SyncedAt != nil {
		t := *p.SyncedAt
		d.SyncedAt = &t
	}
	if p.VersionControl != nil {
		d.VersionControl = *p.VersionControl
	}
	if p.ModifiedBy != nil {
		d.ModifiedBy = *p.ModifiedBy
	}
	if p.SyncClaim != nil {
		d.SyncClaim = *p.SyncClaim
	}
	d.ModifiedAt = now
}

// Submission is the request context around one Record. It is never persisted
// on its own; it travels in commit metadata, logs and notification metadata.
type Submission struct {
	CorrelationID string    `json:"correlationId"`
	Source        string    `json:"source"`
	Actor         string    `json:"actor"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// RecordType is the branch prefix for contact submissions.
const RecordType = "contact"

// BranchName derives the review branch name: <type>-<shortid>-<timestamp>, lowercased.
func BranchName(recordType string, r *Record, at time.Time) string {
	return strings.ToLower(fmt.Sprintf("%s-%s-%s", recordType, r.ShortID(), at.UTC().Format("20060102150405")))
}
