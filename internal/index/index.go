// Package index is the searchable store of contact documents, notifications
// and reference data. It is the source of truth for pipeline state.
package index

import (
	"context"
	"math"
	"sort"

	"intake/internal/contact/models"
	notificationmodels "intake/internal/notification/models"
)

// Collection names a stored collection.
type Collection string

const (
	CollectionRecords       Collection = "records"
	CollectionNotifications Collection = "notifications"
	CollectionReferenceData Collection = "reference_data"
)

// IsValid reports whether c names a known collection.
func (c Collection) IsValid() bool {
	switch c {
	case CollectionRecords, CollectionNotifications, CollectionReferenceData:
		return true
	}
	return false
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// maxPage keeps (Page-1)*Size inside an int.
	maxPage = math.MaxInt / maxPageSize
)

// Store is implemented by MemoryStore and PostgresStore.
//
// Lookups of absent documents return sentinel.ErrNotFound.
type Store interface {
	// Bootstrap creates records and notifications if absent and unconditionally
	// drops, recreates and reseeds reference data.
	Bootstrap(ctx context.Context) error
	Upsert(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	// Update applies a merge-patch and returns the updated document. A patch
	// whose preconditions do not hold fails with sentinel.ErrConflict.
	Update(ctx context.Context, id string, patch models.Patch) (*models.Document, error)
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)
	FindByEmail(ctx context.Context, email string) (*models.Document, error)
	FindByPullRequest(ctx context.Context, number int) (*models.Document, error)
	// Recreate drops and recreates one collection, discarding its contents.
	Recreate(ctx context.Context, c Collection) error
	ReferenceData(ctx context.Context, refType string) ([]ReferenceEntry, error)
	Health(ctx context.Context) error

	SaveNotification(ctx context.Context, n *notificationmodels.Notification) error
	UpdateNotification(ctx context.Context, n *notificationmodels.Notification) error
	ListNotifications(ctx context.Context, f notificationmodels.ListFilter) ([]*notificationmodels.Notification, int, error)
	NotificationStats(ctx context.Context) (notificationmodels.Stats, error)
	MarkNotificationRead(ctx context.Context, id string) (*notificationmodels.Notification, error)
}

// SearchQuery is a full-text query with exact-match filters.
type SearchQuery struct {
	Query   string
	Status  models.SyncStatus
	Company string
	Country string
	Tag     string
	Page    int
	Size    int
}

// normalize clamps pagination to sane bounds.
func (q SearchQuery) normalize() SearchQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Page > maxPage {
		q.Page = maxPage
	}
	if q.Size < 1 {
		q.Size = defaultPageSize
	}
	if q.Size > maxPageSize {
		q.Size = maxPageSize
	}
	return q
}

func (q SearchQuery) offset() int {
	return (q.Page - 1) * q.Size
}

// Hit is one ranked search result.
type Hit struct {
	Document *models.Document `json:"document"`
	Score    float64          `json:"score"`
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Page       int  `json:"page"`
	Size       int  `json:"size"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

// SearchResult is one page of ranked hits.
type SearchResult struct {
	Hits       []Hit      `json:"hits"`
	Total      int        `json:"total"`
	Pagination Pagination `json:"pagination"`
}

func newSearchResult(q SearchQuery, hits []Hit, total int) *SearchResult {
	pages := 0
	if total > 0 {
		pages = (total + q.Size - 1) / q.Size
	}
	if hits == nil {
		hits = []Hit{}
	}
	return &SearchResult{
		Hits:  hits,
		Total: total,
		Pagination: Pagination{
			Page:       q.Page,
			Size:       q.Size,
			TotalPages: pages,
			HasNext:    q.Page < pages,
			HasPrev:    q.Page > 1,
		},
	}
}

// ReferenceEntry is one static lookup value, unique per (Type, Category, Value).
type ReferenceEntry struct {
	Type      string `json:"type" yaml:"-"`
	Category  string `json:"category" yaml:"-"`
	Value     string `json:"value" yaml:"value"`
	Label     string `json:"label" yaml:"label"`
	SortOrder int    `json:"sortOrder" yaml:"sortOrder"`
}

// SortReferenceEntries orders entries by ascending SortOrder, then Label.
func SortReferenceEntries(entries []ReferenceEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].SortOrder != entries[j].SortOrder {
			return entries[i].SortOrder < entries[j].SortOrder
		}
		return entries[i].Label < entries[j].Label
	})
}
