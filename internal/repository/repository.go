// Package repository implements all database queries for the request bin service.
// It uses pgx directly (no ORM) for transparency and performance.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/hookdock/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint.
var ErrConflict = errors.New("already exists")

// DefaultListLimit caps event listings when the caller gives no limit.
const DefaultListLimit = 200

// PostgreSQL error codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// BinRepository handles persistence for bins.
type BinRepository struct {
	db *pgxpool.Pool
}

// NewBinRepository constructs a BinRepository.
func NewBinRepository(db *pgxpool.Pool) *BinRepository {
	return &BinRepository{db: db}
}

// Create inserts b. A duplicate id yields ErrConflict.
func (r *BinRepository) Create(ctx context.Context, b *model.Bin) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO bins (id, name, created_at) VALUES ($1, $2, $3)`,
		b.ID, b.Name, b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert bin: %w", err)
	}
	return nil
}

// Get returns a single bin or ErrNotFound.
func (r *BinRepository) Get(ctx context.Context, id string) (*model.Bin, error) {
	var b model.Bin
	err := r.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM bins WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.Name, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bin: %w", err)
	}
	return &b, nil
}

// Delete removes a bin. Its events go with it through ON DELETE CASCADE.
func (r *BinRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM bins WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWithCounts returns every bin with its event count, newest first.
// Counting happens in the database; events are never loaded.
func (r *BinRepository) ListWithCounts(ctx context.Context) ([]model.BinSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT b.id, b.name, b.created_at, COUNT(e.id)
		 FROM bins b
		 LEFT JOIN events e ON e.bin_id = b.id
		 GROUP BY b.id
		 ORDER BY b.created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list bins: %w", err)
	}
	defer rows.Close()

	var bins []model.BinSummary
	for rows.Next() {
		var s model.BinSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.EventCount); err != nil {
			return nil, fmt.Errorf("scan bin: %w", err)
		}
		bins = append(bins, s)
	}
	return bins, rows.Err()
}

// EventRepository handles persistence for captured events.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, bin_id, created_at, method, path, ip, headers, query, body,
	last_replay_status, last_replay_at`

// Append inserts e in a single statement and fills in its id.
// A bin that no longer exists yields ErrNotFound.
func (r *EventRepository) Append(ctx context.Context, e *model.Event) error {
	headers, query := e.Headers, e.Query
	if headers == nil {
		headers = map[string]string{}
	}
	if query == nil {
		query = map[string]string{}
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO events (bin_id, created_at, method, path, ip, headers, query, body)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		e.BinID, e.CreatedAt, e.Method, e.Path, e.IP, headers, query, e.Body,
	).Scan(&e.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Get returns a single event or ErrNotFound.
func (r *EventRepository) Get(ctx context.Context, id int64) (*model.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// ListForBin returns a bin's events, newest first, optionally filtered by a
// case-insensitive substring of the body or the serialized headers.
func (r *EventRepository) ListForBin(ctx context.Context, binID string, f model.EventFilter) ([]model.Event, error) {
	limit := f.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	sql := `SELECT ` + eventColumns + ` FROM events WHERE bin_id = $1`
	args := []any{binID}
	if q := strings.TrimSpace(f.Query); q != "" {
		sql += ` AND (body ILIKE $2 OR headers::text ILIKE $2)`
		args = append(args, "%"+escapeLike(q)+"%")
	}
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// Walk streams every event of a bin, oldest first, to fn. Iteration stops at
// the first error fn returns.
func (r *EventRepository) Walk(ctx context.Context, binID string, fn func(*model.Event) error) error {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE bin_id = $1 ORDER BY created_at, id`,
		binID,
	)
	if err != nil {
		return fmt.Errorf("walk events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpdateReplayResult overwrites the replay fields of an event. An event that
// has disappeared (its bin was deleted mid-replay) yields ErrNotFound.
func (r *EventRepository) UpdateReplayResult(ctx context.Context, id int64, status int, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET last_replay_status = $2, last_replay_at = $3 WHERE id = $1`,
		id, status, at,
	)
	if err != nil {
		return fmt.Errorf("update replay result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.BinID, &e.CreatedAt, &e.Method, &e.Path, &e.IP,
		&e.Headers, &e.Query, &e.Body, &e.LastReplayStatus, &e.LastReplayAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// escapeLike makes user input literal inside an ILIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
