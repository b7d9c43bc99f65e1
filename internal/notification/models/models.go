package models

import "time"

// Type enumerates notification kinds.
type Type string

const (
	TypeContactSynced     Type = "contact_synced"
	TypeSyncFailed        Type = "sync_failed"
	TypeReviewRequested   Type = "review_requested"
	TypeReviewUpdated     Type = "review_updated"
	TypeSystemAlert       Type = "system_alert"
	TypeRepositoryDeleted Type = "repository_deleted"
)

// IsValid reports whether t is a known type.
func (t Type) IsValid() bool {
	switch t {
	case TypeContactSynced, TypeSyncFailed, TypeReviewRequested, TypeReviewUpdated, TypeSystemAlert, TypeRepositoryDeleted:
		return true
	}
	return false
}

// Status is the delivery status of a notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ChannelResult is the outcome of one channel attempt. Channels report
// failures here instead of returning errors.
type ChannelResult struct {
	Channel     string     `json:"channel"`
	Success     bool       `json:"success"`
	Error       string     `json:"error,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// Notification is created at emission time, updated once per delivery
// attempt, and never deleted.
type Notification struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Status    Status            `json:"status"`
	Read      bool              `json:"read"`
	Channels  []ChannelResult   `json:"channels,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ListFilter narrows a notification listing. Zero values match everything.
type ListFilter struct {
	Type   Type
	Status Status
	Unread bool
	Limit  int
	Offset int
}

// Matches reports whether n passes the filter.
func (f ListFilter) Matches(n *Notification) bool {
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Unread && n.Read {
		return false
	}
	return true
}

// Stats summarises stored notifications.
type Stats struct {
	Total    int            `json:"total"`
	Unread   int            `json:"unread"`
	ByStatus map[Status]int `json:"byStatus"`
	ByType   map[Type]int   `json:"byType"`
}

// NewStats returns Stats with initialised maps.
func NewStats() Stats {
	return Stats{ByStatus: map[Status]int{}, ByType: map[Type]int{}}
}

// Add counts n.
func (s *Stats) Add(n *Notification) {
	s.Total++
	if !n.Read {
		s.Unread++
	}
	s.ByStatus[n.Status]++
	s.ByType[n.Type]++
}
