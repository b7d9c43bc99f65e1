package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"intake/internal/contact/models"
	notificationmodels "intake/internal/notification/models"
	"intake/pkg/platform/sentinel"
	txcontext "intake/pkg/platform/tx"
)

var schema = map[Collection]string{
	CollectionRecords: `
		CREATE TABLE IF NOT EXISTS records (
			id              TEXT PRIMARY KEY,
			email           TEXT NOT NULL,
			company         TEXT NOT NULL DEFAULT '',
			country         TEXT NOT NULL DEFAULT '',
			tags            TEXT[] NOT NULL DEFAULT '{}',
			sync_status     TEXT NOT NULL,
			pull_request_id INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMPTZ NOT NULL,
			modified_at     TIMESTAMPTZ NOT NULL,
			doc             JSONB NOT NULL,
			search          TSVECTOR GENERATED ALWAYS AS (
				setweight(to_tsvector('simple', coalesce(doc->>'name', '') || ' ' || coalesce(doc->>'email', '')), 'A') ||
				setweight(to_tsvector('simple', coalesce(doc->>'company', '')), 'B') ||
				setweight(to_tsvector('simple',
					coalesce(doc->>'jobTitle', '') || ' ' || coalesce(doc->>'notes', '') || ' ' ||
					coalesce(doc->>'city', '') || ' ' || coalesce(doc->>'tags', '')), 'C')
			) STORED
		);
		CREATE INDEX IF NOT EXISTS records_search_idx ON records USING GIN (search);
		CREATE INDEX IF NOT EXISTS records_email_idx ON records (email);
		CREATE INDEX IF NOT EXISTS records_pull_request_idx ON records (pull_request_id);`,
	CollectionNotifications: `
		CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			status     TEXT NOT NULL,
			read       BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			doc        JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS notifications_created_idx ON notifications (created_at DESC);`,
	CollectionReferenceData: `
		CREATE TABLE IF NOT EXISTS reference_data (
			type       TEXT NOT NULL,
			category   TEXT NOT NULL,
			value      TEXT NOT NULL,
			label      TEXT NOT NULL,
			sort_order INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (type, category, value)
		);`,
}

// PostgresStore keeps documents as JSONB with generated full-text vectors.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *PostgresStore) exec(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFor(ctx, s.db)
}

func (s *PostgresStore) Bootstrap(ctx context.Context) error {
	seed, err := SeedReferenceData()
	if err != nil {
		return err
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		for _, c := range []Collection{CollectionRecords, CollectionNotifications} {
			if _, err := s.exec(ctx).ExecContext(ctx, schema[c]); err != nil {
				return fmt.Errorf("create %s: %w", c, err)
			}
		}
		if err := s.recreate(ctx, CollectionReferenceData); err != nil {
			return err
		}
		for _, e := range seed {
			_, err := s.exec(ctx).ExecContext(ctx,
				`INSERT INTO reference_data (type, category, value, label, sort_order) VALUES ($1, $2, $3, $4, $5)`,
				e.Type, e.Category, e.Value, e.Label, e.SortOrder)
			if err != nil {
				return fmt.Errorf("seed reference data: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Recreate(ctx context.Context, c Collection) error {
	if !c.IsValid() {
		return fmt.Errorf("unknown collection %q", c)
	}
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		return s.recreate(ctx, c)
	})
}

func (s *PostgresStore) recreate(ctx context.Context, c Collection) error {
	if _, err := s.exec(ctx).ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(string(c))); err != nil {
		return fmt.Errorf("drop %s: %w", c, err)
	}
	if _, err := s.exec(ctx).ExecContext(ctx, schema[c]); err != nil {
		return fmt.Errorf("create %s: %w", c, err)
	}
	return nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func (s *PostgresStore) Upsert(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	_, err = s.exec(ctx).ExecContext(ctx, `
		INSERT INTO records (id, email, company, country, tags, sync_status, pull_request_id, created_at, modified_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			company = EXCLUDED.company,
			country = EXCLUDED.country,
			tags = EXCLUDED.tags,
			sync_status = EXCLUDED.sync_status,
			pull_request_id = EXCLUDED.pull_request_id,
			modified_at = EXCLUDED.modified_at,
			doc = EXCLUDED.doc`,
		doc.ID, strings.ToLower(doc.Email), doc.Company, doc.Country, pq.Array(lowerAll(doc.Tags)),
		string(doc.SyncStatus), doc.VersionControl.PullRequestID, doc.CreatedAt, doc.ModifiedAt, payload)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) queryOne(ctx context.Context, what, query string, args ...any) (*models.Document, error) {
	doc, err := scanDocument(s.exec(ctx).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", what, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find record %s: %w", what, err)
	}
	return doc, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.queryOne(ctx, id, `SELECT doc FROM records WHERE id = $1`, id)
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*models.Document, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return s.queryOne(ctx, "by email "+email,
		`SELECT doc FROM records WHERE email = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, email)
}

func (s *PostgresStore) FindByPullRequest(ctx context.Context, number int) (*models.Document, error) {
	return s.queryOne(ctx, fmt.Sprintf("by pull request %d", number),
		`SELECT doc FROM records WHERE pull_request_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, number)
}

// Update locks the row, applies the patch and writes the whole document back.
func (s *PostgresStore) Update(ctx context.Context, id string, patch models.Patch) (*models.Document, error) {
	var updated *models.Document
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		doc, err := s.queryOne(ctx, id, `SELECT doc FROM records WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if !patch.Satisfied(doc) {
			return fmt.Errorf("record %s: precondition failed: %w", id, sentinel.ErrConflict)
		}
		patch.Apply(doc, s.now())
		if err := s.Upsert(ctx, doc); err != nil {
			return err
		}
		updated = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

const searchFilters = `
	($1::text = '' OR search @@ plainto_tsquery('simple', $1::text))
	AND ($2::text = '' OR sync_status = $2::text)
	AND ($3::text = '' OR lower(company) = lower($3::text))
	AND ($4::text = '' OR upper(country) = upper($4::text))
	AND ($5::text = '' OR lower($5::text) = ANY(tags))`

func (s *PostgresStore) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	q = q.normalize()
	args := []any{strings.TrimSpace(q.Query), string(q.Status), q.Company, q.Country, q.Tag}

	var total int
	if err := s.exec(ctx).QueryRowContext(ctx, `SELECT count(*) FROM records WHERE `+searchFilters, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}

	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT doc,
			CASE WHEN $1::text = '' THEN 0 ELSE ts_rank(search, plainto_tsquery('simple', $1::text)) END AS score
		FROM records
		WHERE `+searchFilters+`
		ORDER BY score DESC, created_at DESC, id
		LIMIT $6 OFFSET $7`,
		append(args, q.Size, q.offset())...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var raw []byte
		var score float64
		if err := rows.Scan(&raw, &score); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var doc models.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
		hits = append(hits, Hit{Document: &doc, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return newSearchResult(q, hits, total), nil
}

func (s *PostgresStore) ReferenceData(ctx context.Context, refType string) ([]ReferenceEntry, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT type, category, value, label, sort_order
		FROM reference_data
		WHERE type = $1
		ORDER BY sort_order ASC, label ASC`, refType)
	if err != nil {
		return nil, fmt.Errorf("query reference data: %w", err)
	}
	defer rows.Close()

	out := []ReferenceEntry{}
	for rows.Next() {
		var e ReferenceEntry
		if err := rows.Scan(&e.Type, &e.Category, &e.Value, &e.Label, &e.SortOrder); err != nil {
			return nil, fmt.Errorf("scan reference data: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference data: %w", err)
	}
	// Collation differs between databases; apply the canonical order in Go as well.
	SortReferenceEntries(out)
	return out, nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) writeNotification(ctx context.Context, n *notificationmodels.Notification, insert bool) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if insert {
		_, err = s.exec(ctx).ExecContext(ctx, `
			INSERT INTO notifications (id, type, status, read, created_at, doc)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, read = EXCLUDED.read, doc = EXCLUDED.doc`,
			n.ID, string(n.Type), string(n.Status), n.Read, n.CreatedAt, payload)
		if err != nil {
			return fmt.Errorf("save notification: %w", err)
		}
		return nil
	}
	res, err := s.exec(ctx).ExecContext(ctx,
		`UPDATE notifications SET status = $2, read = $3, doc = $4 WHERE id = $1`,
		n.ID, string(n.Status), n.Read, payload)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("notification %s: %w", n.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SaveNotification(ctx context.Context, n *notificationmodels.Notification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification id is required")
	}
	return s.writeNotification(ctx, n, true)
}

func (s *PostgresStore) UpdateNotification(ctx context.Context, n *notificationmodels.Notification) error {
	return s.writeNotification(ctx, n, false)
}

const notificationFilters = `
	($1::text = '' OR type = $1::text)
	AND ($2::text = '' OR status = $2::text)
	AND (NOT $3::boolean OR NOT read)`

func (s *PostgresStore) ListNotifications(ctx context.Context, f notificationmodels.ListFilter) ([]*notificationmodels.Notification, int, error) {
	args := []any{string(f.Type), string(f.Status), f.Unread}

	var total int
	if err := s.exec(ctx).QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE `+notificationFilters, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	var limit sql.NullInt64
	if f.Limit > 0 {
		limit = sql.NullInt64{Int64: int64(f.Limit), Valid: true}
	}
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT doc FROM notifications
		WHERE `+notificationFilters+`
		ORDER BY created_at DESC, id
		LIMIT $4 OFFSET $5`,
		append(args, limit, max(f.Offset, 0))...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*notificationmodels.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, total, nil
}

func scanNotification(row interface{ Scan(...any) error }) (*notificationmodels.Notification, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var n notificationmodels.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	return &n, nil
}

func (s *PostgresStore) NotificationStats(ctx context.Context) (notificationmodels.Stats, error) {
	stats := notificationmodels.NewStats()
	rows, err := s.exec(ctx).QueryContext(ctx,
		`SELECT type, status, read, count(*) FROM notifications GROUP BY type, status, read`)
	if err != nil {
		return stats, fmt.Errorf("notification stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typ, status string
			read        bool
			count       int
		)
		if err := rows.Scan(&typ, &status, &read, &count); err != nil {
			return stats, fmt.Errorf("scan notification stats: %w", err)
		}
		stats.Total += count
		if !read {
			stats.Unread += count
		}
		stats.ByStatus[notificationmodels.Status(status)] += count
		stats.ByType[notificationmodels.Type(typ)] += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate notification stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string) (*notificationmodels.Notification, error) {
	var marked *notificationmodels.Notification
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		n, err := scanNotification(s.exec(ctx).QueryRowContext(ctx,
			`SELECT doc FROM notifications WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("notification %s: %w", id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("find notification: %w", err)
		}
		n.Read = true
		n.UpdatedAt = s.now()
		if err := s.writeNotification(ctx, n, false); err != nil {
			return err
		}
		marked = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return marked, nil
}
