package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout has fixed-width fractions so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Entry is one row of the command log.
type Entry struct {
	ID        string         `json:"id"`
	Floor     string         `json:"floor"`
	Action    string         `json:"action"`
	DeviceKey string         `json:"device_key,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Outcome   string         `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Filter controls which entries List returns. Empty fields match everything.
type Filter struct {
	Floor  string
	Action string
	Device string
	Limit  int // default 50, max 200
	Offset int
}

// ListResult contains one page of entries, most recent first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the command log operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores the command log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a command log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry. ID and CreatedAt are generated when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.Floor == "" || entry.Action == "" || entry.Outcome == "" {
		return fmt.Errorf("%w: floor, action and outcome are required", ErrInvalidEntry)
	}
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	detail := "{}"
	if len(entry.Detail) > 0 {
		b, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshalling command detail: %w", err)
		}
		detail = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, floor, action, device_key, detail, outcome, error, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Floor, entry.Action, entry.DeviceKey, detail,
		entry.Outcome, entry.Error, entry.Actor,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // dynamic query builder: WHERE clause assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = DefaultLimit
	}
	if filter.Limit > MaxLimit {
		filter.Limit = MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Floor != "" {
		conditions = append(conditions, "floor = ?")
		args = append(args, filter.Floor)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Device != "" {
		conditions = append(conditions, "device_key = ?")
		args = append(args, filter.Device)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, floor, action, device_key, detail, outcome, error, actor, created_at FROM command_log %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var detail, createdAt string
		if err := rows.Scan(&e.ID, &e.Floor, &e.Action, &e.DeviceKey, &detail,
			&e.Outcome, &e.Error, &e.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", err)
		}

		if detail != "" && detail != "{}" {
			var d map[string]any
			if json.Unmarshal([]byte(detail), &d) == nil {
				e.Detail = d
			}
		}

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing command log timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
