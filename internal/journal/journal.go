package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/devio-core/internal/device"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Filter controls which journal rows List returns.
type Filter struct {
	Device *device.ID           // optional: only this device
	Op     device.Operation     // optional: read or write
	State  *device.RequestState // optional: terminal state
	Since  time.Time            // optional: finished at or after
	Limit  int                  // default 50, max 500
	Offset int                  // pagination offset
}

// ListResult contains a page of journal rows.
type ListResult struct {
	Requests []device.RequestInfo `json:"requests"`
	Total    int                  `json:"total"`
	Limit    int                  `json:"limit"`
	Offset   int                  `json:"offset"`
}

// InventoryEntry is one row of the device inventory.
type InventoryEntry struct {
	ID           device.ID   `json:"id"`
	Name         string      `json:"name"`
	Kind         device.Kind `json:"kind"`
	RegisteredAt time.Time   `json:"registered_at"`
	RemovedAt    *time.Time  `json:"removed_at,omitempty"`
}

// Repository defines the journal operations used by telemetry and the API.
type Repository interface {
	Record(ctx context.Context, info device.RequestInfo) error
	Get(ctx context.Context, id uuid.UUID) (*device.RequestInfo, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	DeviceRegistered(ctx context.Context, e device.Entry) error
	DeviceRemoved(ctx context.Context, e device.Entry) error
	Inventory(ctx context.Context) ([]InventoryEntry, error)
}

// SQLiteRepository stores the journal in the tables created by package
// migrations.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a journal over an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record stores a finished request. Non-terminal requests are rejected, and
// recording the same ID twice keeps the first row.
func (r *SQLiteRepository) Record(ctx context.Context, info device.RequestInfo) error {
	if !info.State.IsTerminal() {
		return fmt.Errorf("journal: request %s is %s, not finished", info.ID, info.State)
	}
	finished := r.now().UTC()
	if info.FinishedAt != nil {
		finished = info.FinishedAt.UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO request_journal
		 (id, major, minor, op, byte_offset, length, transferred, state, error, enqueued_at, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID.String(), info.Device.Major, info.Device.Minor, string(info.Op),
		info.Offset, info.Length, info.Transferred, info.State.String(),
		nullableString(info.Error),
		formatTime(info.EnqueuedAt), nullableTime(info.StartedAt), formatTime(finished),
	)
	if err != nil {
		return fmt.Errorf("inserting journal row: %w", err)
	}
	return nil
}

// Get returns one journalled request.
func (r *SQLiteRepository) Get(ctx context.Context, id uuid.UUID) (*device.RequestInfo, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id.String())
	info, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

const selectColumns = `SELECT id, major, minor, op, byte_offset, length, transferred, state, error,
	enqueued_at, started_at, finished_at FROM request_journal`

// List returns journalled requests matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
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

	if filter.Device != nil {
		conditions = append(conditions, "major = ? AND minor = ?")
		args = append(args, filter.Device.Major, filter.Device.Minor)
	}
	if filter.Op != "" {
		conditions = append(conditions, "op = ?")
		args = append(args, string(filter.Op))
	}
	if filter.State != nil {
		conditions = append(conditions, "state = ?")
		args = append(args, filter.State.String())
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "finished_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM request_journal"+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE built from parameterised conditions
		return nil, fmt.Errorf("counting journal rows: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx, selectColumns+where+" ORDER BY finished_at DESC, id LIMIT ? OFFSET ?", args...) //nolint:gosec // WHERE built from parameterised conditions
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	requests := []device.RequestInfo{}
	for rows.Next() {
		info, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{
		Requests: requests,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

// Prune deletes rows that finished before the cutoff and reports how many.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM request_journal WHERE finished_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

// DeviceRegistered upserts an inventory row and clears any removal time.
func (r *SQLiteRepository) DeviceRegistered(ctx context.Context, e device.Entry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_inventory (major, minor, name, kind, registered_at, removed_at)
		 VALUES (?, ?, ?, ?, ?, NULL)
		 ON CONFLICT (major, minor) DO UPDATE SET
		   name = excluded.name, kind = excluded.kind,
		   registered_at = excluded.registered_at, removed_at = NULL`,
		e.ID.Major, e.ID.Minor, e.Name, string(e.Kind), formatTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("recording device %s: %w", e.ID, err)
	}
	return nil
}

// DeviceRemoved stamps the removal time on an inventory row.
func (r *SQLiteRepository) DeviceRemoved(ctx context.Context, e device.Entry) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE device_inventory SET removed_at = ? WHERE major = ? AND minor = ?",
		formatTime(r.now()), e.ID.Major, e.ID.Minor,
	)
	if err != nil {
		return fmt.Errorf("removing device %s: %w", e.ID, err)
	}
	return nil
}

// Inventory lists every device ever registered, ordered by major and minor.
func (r *SQLiteRepository) Inventory(ctx context.Context) ([]InventoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT major, minor, name, kind, registered_at, removed_at FROM device_inventory ORDER BY major, minor")
	if err != nil {
		return nil, fmt.Errorf("querying inventory: %w", err)
	}
	defer rows.Close()

	entries := []InventoryEntry{}
	for rows.Next() {
		var e InventoryEntry
		var kind, registered string
		var removed sql.NullString
		if err := rows.Scan(&e.ID.Major, &e.ID.Minor, &e.Name, &kind, &registered, &removed); err != nil {
			return nil, fmt.Errorf("scanning inventory: %w", err)
		}
		e.Kind = device.Kind(kind)
		if e.RegisteredAt, err = parseTime(registered); err != nil {
			return nil, err
		}
		if e.RemovedAt, err = parseNullTime(removed); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating inventory: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(s scanner) (*device.RequestInfo, error) {
	var (
		info                          device.RequestInfo
		id, op, state, enqueued, done string
		errText, started              sql.NullString
	)
	if err := s.Scan(&id, &info.Device.Major, &info.Device.Minor, &op, &info.Offset,
		&info.Length, &info.Transferred, &state, &errText, &enqueued, &started, &done); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning journal row: %w", err)
	}

	var err error
	if info.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parsing journal id %q: %w", id, err)
	}
	info.Op = device.Operation(op)
	st, ok := device.ParseRequestState(state)
	if !ok {
		return nil, fmt.Errorf("journal row %s has unknown state %q", id, state)
	}
	info.State = st
	info.Error = errText.String

	if info.EnqueuedAt, err = parseTime(enqueued); err != nil {
		return nil, err
	}
	if info.StartedAt, err = parseNullTime(started); err != nil {
		return nil, err
	}
	finished, err := parseTime(done)
	if err != nil {
		return nil, err
	}
	info.FinishedAt = &finished
	return &info, nil
}

// timeLayout is RFC3339 with fixed-width nanoseconds so stored UTC values
// sort correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing journal timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil //nolint:nilnil // absent timestamp
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// nullableString returns nil for empty strings. Used for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
