// Package journal records the outcome of every publish cycle in the local
// SQLite database for the diagnostics API.
//
// The journal is an outcome log, not a resend queue: entries carry counts
// and errors but never the payload itself.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome values stored in the outcome column.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
)

// Page size bounds for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrInvalidOutcome is returned by Create for an unknown outcome.
var ErrInvalidOutcome = errors.New("invalid journal outcome")

// Entry is one publish attempt as seen by the runner.
type Entry struct {
	ID           string        `json:"id"`
	DeviceID     string        `json:"device_id"`
	Topic        string        `json:"topic"`
	Outcome      string        `json:"outcome"`
	QoS          int           `json:"qos"`
	Bytes        int           `json:"bytes"`
	SensorsOK    int           `json:"sensors_ok"`
	SensorsError int           `json:"sensors_error"`
	CameraOK     bool          `json:"camera_ok"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	Outcome string    // optional: published or failed
	Since   time.Time // optional: only entries at or after this time
	Limit   int       // default 50, max 200
	Offset  int
}

// ListResult is one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository is the journal storage contract.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores entries in the publish_journal table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a journal backed by db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. ID and CreatedAt are generated when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Outcome != OutcomePublished && e.Outcome != OutcomeFailed {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, e.Outcome)
	}
	if e.ID == "" {
		e.ID = "pub-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO publish_journal
		 (id, device_id, topic, outcome, qos, bytes, sensors_ok, sensors_error, camera_ok, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DeviceID, e.Topic, e.Outcome, e.QoS, e.Bytes,
		e.SensorsOK, e.SensorsError, e.CameraOK,
		nullableString(e.Error), e.Duration.Milliseconds(),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM publish_journal %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, device_id, topic, outcome, qos, bytes, sensors_ok, sensors_error, camera_ok, error, duration_ms, created_at
		 FROM publish_journal %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var errText sql.NullString
		var durationMS int64
		var createdAt string

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Topic, &e.Outcome, &e.QoS, &e.Bytes,
			&e.SensorsOK, &e.SensorsError, &e.CameraOK, &errText, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		if errText.Valid {
			e.Error = errText.String
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond

		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries created before the cutoff and returns how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM publish_journal WHERE created_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

// formatTime stores UTC with fixed-width milliseconds so that string
// comparison in SQL matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
