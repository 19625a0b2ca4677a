package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/model"
)

// CoordinateRepo manages the postal-code rows and the leasing protocol that
// hands one row at a time to a weather worker. Row-level locking with
// SKIP LOCKED is the only synchronization across worker instances; an
// in-process mutex would be invisible to the other processes.
type CoordinateRepo struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewCoordinateRepo(db *sql.DB, logger *zap.Logger) *CoordinateRepo {
	return &CoordinateRepo{db: db, logger: logger}
}

const leaseQuery = `
	SELECT postal_code, location, latitude, longitude, last_used, locked_until
	FROM coordinate_mappings
	WHERE locked_until IS NULL OR locked_until < NOW()
	ORDER BY last_used ASC NULLS FIRST
	LIMIT 1
	FOR UPDATE SKIP LOCKED`

const leaseUpdate = `
	UPDATE coordinate_mappings
	SET last_used = NOW(), locked_until = NOW() + INTERVAL '1 minute'
	WHERE postal_code = $1`

// AcquireLease claims the least-recently-used eligible row for one minute.
// Concurrent callers skip each other's locked rows, so at most one caller
// gets any given row per lease window. An empty result is the normal steady
// state when everything is currently leased, not an error.
func (r *CoordinateRepo) AcquireLease(ctx context.Context) (*model.CoordinateMapping, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease transaction: %w", err)
	}
	defer tx.Rollback()

	var m model.CoordinateMapping
	err = tx.QueryRowContext(ctx, leaseQuery).Scan(
		&m.PostalCode, &m.Location, &m.Latitude, &m.Longitude, &m.LastUsed, &m.LockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit empty lease transaction: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select leasable row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, leaseUpdate, m.PostalCode); err != nil {
		return nil, fmt.Errorf("mark row leased: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease transaction: %w", err)
	}

	r.logger.Debug("lease acquired", zap.Int("postal_code", m.PostalCode))
	return &m, nil
}

// ExistsPostalCode reports whether a mapping for the postal code exists.
func (r *CoordinateRepo) ExistsPostalCode(ctx context.Context, postalCode int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM coordinate_mappings WHERE postal_code = $1)`,
		postalCode).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check postal code %d: %w", postalCode, err)
	}
	return exists, nil
}

// InsertMapping creates the row for a freshly geocoded postal code.
func (r *CoordinateRepo) InsertMapping(ctx context.Context, m model.CoordinateMapping) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coordinate_mappings (postal_code, location, latitude, longitude, last_used)
		VALUES ($1, $2, $3, $4, NOW())`,
		m.PostalCode, m.Location, m.Latitude, m.Longitude)
	if err != nil {
		return fmt.Errorf("insert coordinate mapping %d: %w", m.PostalCode, err)
	}
	return nil
}

// TouchLastUsed refreshes last_used for an already-known postal code.
func (r *CoordinateRepo) TouchLastUsed(ctx context.Context, postalCode int, t time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE coordinate_mappings SET last_used = $2 WHERE postal_code = $1`,
		postalCode, t.UTC())
	if err != nil {
		return fmt.Errorf("touch postal code %d: %w", postalCode, err)
	}
	return nil
}

// AllLocations lists every known postal code with its location label.
func (r *CoordinateRepo) AllLocations(ctx context.Context) (map[int]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT postal_code, location FROM coordinate_mappings`)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	defer rows.Close()

	locations := make(map[int]string)
	for rows.Next() {
		var code int
		var location string
		if err := rows.Scan(&code, &location); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations[code] = location
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locations: %w", err)
	}
	return locations, nil
}
