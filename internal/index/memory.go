package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"intake/internal/contact/models"
	notificationmodels "intake/internal/notification/models"
	"intake/pkg/platform/sentinel"
	platformstrings "intake/pkg/platform/strings"
)

// MemoryStore is an in-process Store for tests and local development.
// Documents are deep-copied in and out so callers never share state with it.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]*models.Document
	notifications map[string]*notificationmodels.Notification
	reference     []ReferenceEntry
	now           func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock fixes the clock used to refresh ModifiedAt on update.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records:       make(map[string]*models.Document),
		notifications: make(map[string]*notificationmodels.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Bootstrap(_ context.Context) error {
	seed, err := SeedReferenceData()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reference = seed
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[doc.ID] = cloneDocument(doc)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch models.Patch) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, sentinel.ErrNotFound)
	}
	if !patch.Satisfied(doc) {
		return nil, fmt.Errorf("record %s: precondition failed: %w", id, sentinel.ErrConflict)
	}
	patch.Apply(doc, s.now())
	return cloneDocument(doc), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*models.Document, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newest(func(d *models.Document) bool { return d.Email == email }, "email "+email)
}

func (s *MemoryStore) FindByPullRequest(_ context.Context, number int) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.newest(func(d *models.Document) bool { return d.VersionControl.PullRequestID == number }, fmt.Sprintf("pull request %d", number))
}

// newest returns the most recently created matching document. Callers hold the lock.
func (s *MemoryStore) newest(match func(*models.Document) bool, what string) (*models.Document, error) {
	var found *models.Document
	for _, d := range s.records {
		if !match(d) {
			continue
		}
		if found == nil || d.CreatedAt.After(found.CreatedAt) || (d.CreatedAt.Equal(found.CreatedAt) && d.ID > found.ID) {
			found = d
		}
	}
	if found == nil {
		return nil, fmt.Errorf("record by %s: %w", what, sentinel.ErrNotFound)
	}
	return cloneDocument(found), nil
}

// Search ranks by weighted term matches; name and email weigh most.
// An empty query matches everything, newest first.
func (s *MemoryStore) Search(_ context.Context, q SearchQuery) (*SearchResult, error) {
	q = q.normalize()
	terms := strings.Fields(strings.ToLower(q.Query))

	s.mu.RLock()
	var hits []Hit
	for _, d := range s.records {
		if !matchesFilters(d, q) {
			continue
		}
		score := scoreDocument(d, terms)
		if len(terms) > 0 && score == 0 {
			continue
		}
		hits = append(hits, Hit{Document: cloneDocument(d), Score: score})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		a, b := hits[i].Document, hits[j].Document
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	total := len(hits)
	start := min(q.offset(), total)
	end := min(start+q.Size, total)
	return newSearchResult(q, hits[start:end], total), nil
}

func matchesFilters(d *models.Document, q SearchQuery) bool {
	if q.Status != "" && d.SyncStatus != q.Status {
		return false
	}
	if q.Company != "" && !strings.EqualFold(d.Company, q.Company) {
		return false
	}
	if q.Country != "" && !strings.EqualFold(d.Country, q.Country) {
		return false
	}
	if q.Tag != "" && !platformstrings.ContainsFold(d.Tags, q.Tag) {
		return false
	}
	return true
}

func scoreDocument(d *models.Document, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	weighted := []struct {
		text   string
		weight float64
	}{
		{d.Name, 3},
		{d.Email, 3},
		{d.Company, 2},
		{d.JobTitle, 1},
		{d.Notes, 1},
		{strings.Join(d.Tags, " "), 1},
		{d.City, 1},
	}
	var score float64
	for _, term := range terms {
		for _, f := range weighted {
			if strings.Contains(strings.ToLower(f.text), term) {
				score += f.weight
			}
		}
	}
	return score
}

func (s *MemoryStore) Recreate(_ context.Context, c Collection) error {
	if !c.IsValid() {
		return fmt.Errorf("unknown collection %q", c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c {
	case CollectionRecords:
		s.records = make(map[string]*models.Document)
	case CollectionNotifications:
		s.notifications = make(map[string]*notificationmodels.Notification)
	case CollectionReferenceData:
		s.reference = nil
	}
	return nil
}

func (s *MemoryStore) ReferenceData(_ context.Context, refType string) ([]ReferenceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ReferenceEntry{}
	for _, e := range s.reference {
		if e.Type == refType {
			out = append(out, e)
		}
	}
	SortReferenceEntries(out)
	return out, nil
}

func (s *MemoryStore) Health(_ context.Context) error {
	return nil
}

func (s *MemoryStore) SaveNotification(_ context.Context, n *notificationmodels.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (s *MemoryStore) UpdateNotification(_ context.Context, n *notificationmodels.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; !ok {
		return fmt.Errorf("notification %s: %w", n.ID, sentinel.ErrNotFound)
	}
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, f notificationmodels.ListFilter) ([]*notificationmodels.Notification, int, error) {
	s.mu.RLock()
	var matched []*notificationmodels.Notification
	for _, n := range s.notifications {
		if f.Matches(n) {
			matched = append(matched, cloneNotification(n))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	start := min(max(f.Offset, 0), total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) NotificationStats(_ context.Context) (notificationmodels.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := notificationmodels.NewStats()
	for _, n := range s.notifications {
		stats.Add(n)
	}
	return stats, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id string) (*notificationmodels.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, sentinel.ErrNotFound)
	}
	n.Read = true
	n.UpdatedAt = s.now()
	return cloneNotification(n), nil
}

func cloneDocument(d *models.Document) *models.Document {
	cp := *d
	cp.Tags = append([]string(nil), d.Tags...)
	if d.CustomFields != nil {
		cp.CustomFields = make(map[string]string, len(d.CustomFields))
		for k, v := range d.CustomFields {
			cp.CustomFields[k] = v
		}
	}
	if d.SyncedAt != nil {
		t := *d.SyncedAt
		cp.SyncedAt = &t
	}
	return &cp
}

func cloneNotification(n *notificationmodels.Notification) *notificationmodels.Notification {
	cp := *n
	if n.Metadata != nil {
		cp.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			cp.Metadata[k] = v
		}
	}
	cp.Channels = append([]notificationmodels.ChannelResult(nil), n.Channels...)
	return &cp
}
