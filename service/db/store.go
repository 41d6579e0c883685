package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solhist/service/history"
	"github.com/brojonat/solhist/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the service.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Migrate creates the tables the store needs if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// TrackedAddress is an address whose history is reconciled on a schedule.
type TrackedAddress struct {
	Address      string
	Network      string
	PollInterval time.Duration
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpsertTrackedAddressParams contains the parameters for tracking an address.
type UpsertTrackedAddressParams struct {
	Address      string
	Network      string
	PollInterval time.Duration
}

const trackedColumns = `address, network, poll_interval, status, created_at, updated_at`

// UpsertTrackedAddress starts tracking an address, or updates its poll interval
// if it is already tracked.
func (s *Store) UpsertTrackedAddress(ctx context.Context, params UpsertTrackedAddressParams) (_ *TrackedAddress, err error) {
	defer s.observe("upsert", "tracked_addresses", time.Now(), &err)()

	row := s.pool.QueryRow(ctx, `
		INSERT INTO tracked_addresses (address, network, poll_interval)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
		SET network = EXCLUDED.network,
		    poll_interval = EXCLUDED.poll_interval,
		    status = 'active',
		    updated_at = NOW()
		RETURNING `+trackedColumns,
		params.Address, params.Network, pgIntervalFromDuration(params.PollInterval),
	)
	return scanTrackedAddress(row)
}

// GetTrackedAddress returns one tracked address or ErrNotFound.
func (s *Store) GetTrackedAddress(ctx context.Context, address string) (_ *TrackedAddress, err error) {
	defer s.observe("get", "tracked_addresses", time.Now(), &err)()

	row := s.pool.QueryRow(ctx, `SELECT `+trackedColumns+` FROM tracked_addresses WHERE address = $1`, address)
	return scanTrackedAddress(row)
}

// ListTrackedAddresses returns all tracked addresses ordered by creation time.
func (s *Store) ListTrackedAddresses(ctx context.Context) (_ []*TrackedAddress, err error) {
	defer s.observe("list", "tracked_addresses", time.Now(), &err)()

	rows, err := s.pool.Query(ctx, `SELECT `+trackedColumns+` FROM tracked_addresses ORDER BY created_at, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tracked := []*TrackedAddress{}
	for rows.Next() {
		ta, err := scanTrackedAddress(rows)
		if err != nil {
			return nil, err
		}
		tracked = append(tracked, ta)
	}
	return tracked, rows.Err()
}

// DeleteTrackedAddress stops tracking an address and removes its snapshot.
// Returns ErrNotFound if the address was not tracked.
func (s *Store) DeleteTrackedAddress(ctx context.Context, address string) (err error) {
	defer s.observe("delete", "tracked_addresses", time.Now(), &err)()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM tracked_addresses WHERE address = $1`, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM history_snapshots WHERE address = $1`, address); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SaveSnapshot replaces the stored history of report.Subject wholesale.
// A report older than the stored one is ignored; saved reports whether the
// write happened.
func (s *Store) SaveSnapshot(ctx context.Context, report *history.Report) (saved bool, err error) {
	defer s.observe("upsert", "history_snapshots", time.Now(), &err)()

	events, err := json.Marshal(report.Events)
	if err != nil {
		return false, fmt.Errorf("failed to encode events: %w", err)
	}
	skipped := report.Skipped
	if skipped == nil {
		skipped = []history.SkippedSignature{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return false, fmt.Errorf("failed to encode skipped signatures: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO history_snapshots (address, reconciled_at, events, skipped, dropped_legs, event_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE
		SET reconciled_at = EXCLUDED.reconciled_at,
		    events = EXCLUDED.events,
		    skipped = EXCLUDED.skipped,
		    dropped_legs = EXCLUDED.dropped_legs,
		    event_count = EXCLUDED.event_count,
		    updated_at = NOW()
		WHERE history_snapshots.reconciled_at < EXCLUDED.reconciled_at`,
		report.Subject,
		pgtype.Timestamptz{Time: report.ReconciledAt, Valid: true},
		events,
		skippedJSON,
		report.DroppedLegs,
		len(report.Events),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetSnapshot returns the last stored history for address or ErrNotFound.
func (s *Store) GetSnapshot(ctx context.Context, address string) (_ *history.Report, err error) {
	defer s.observe("get", "history_snapshots", time.Now(), &err)()

	var (
		reconciledAt pgtype.Timestamptz
		events       []byte
		skipped      []byte
		droppedLegs  int32
	)
	err = s.pool.QueryRow(ctx, `
		SELECT reconciled_at, events, skipped, dropped_legs
		FROM history_snapshots WHERE address = $1`, address,
	).Scan(&reconciledAt, &events, &skipped, &droppedLegs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	report := &history.Report{
		Subject:      address,
		ReconciledAt: reconciledAt.Time,
		Events:       []history.TransferEvent{},
		DroppedLegs:  int(droppedLegs),
	}
	if err := json.Unmarshal(events, &report.Events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	if err := json.Unmarshal(skipped, &report.Skipped); err != nil {
		return nil, fmt.Errorf("failed to decode skipped signatures: %w", err)
	}
	return report, nil
}

// observe returns a func that records the query when deferred. ErrNotFound
// is an answer, so it is recorded as success.
func (s *Store) observe(operation, table string, start time.Time, err *error) func() {
	return func() {
		if s.metrics == nil {
			return
		}
		var recorded error
		if err != nil && *err != nil && !errors.Is(*err, ErrNotFound) {
			recorded = *err
		}
		s.metrics.RecordDBQuery(operation, table, time.Since(start).Seconds(), recorded)
	}
}

func scanTrackedAddress(row pgx.Row) (*TrackedAddress, error) {
	var (
		ta        TrackedAddress
		interval  pgtype.Interval
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	err := row.Scan(&ta.Address, &ta.Network, &interval, &ta.Status, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ta.PollInterval = durationFromPgInterval(interval)
	ta.CreatedAt = createdAt.Time
	ta.UpdatedAt = updatedAt.Time
	return &ta, nil
}

func pgIntervalFromDuration(d time.Duration) pgtype.Interval {
	return pgtype.Interval{
		Microseconds: d.Microseconds(),
		Valid:        true,
	}
}

func durationFromPgInterval(i pgtype.Interval) time.Duration {
	if !i.Valid {
		return 0
	}
	// Intervals written by this package only use the microsecond component.
	days := time.Duration(i.Days) * 24 * time.Hour
	return days + time.Duration(i.Microseconds)*time.Microsecond
}
