package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"flat-notifier/models"
	"flat-notifier/utils"
)

// SQLLedger is a Ledger backed by SQLite or PostgreSQL.
type SQLLedger struct {
	db     *sql.DB
	d      dialect
	logger *utils.Logger

	// Now stamps delivered_at; defaults to time.Now.
	Now func() time.Time
}

var _ Ledger = (*SQLLedger)(nil)

// Open connects to the store, runs schema migrations, and returns a
// ready-to-use SQLLedger. driver is "sqlite3" or "postgres".
func Open(ctx context.Context, driver, dsn string, logger *utils.Logger) (*SQLLedger, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, storeErr("open", err)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, storeErr("open", err)
	}

	if d.name == "sqlite" {
		// SQLite allows one writer; an in-memory database also lives on a
		// single connection.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=30000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, storeErr("open", fmt.Errorf("%s: %w", pragma, err))
			}
		}
	} else {
		for i := 0; i < 10; i++ {
			if err = db.PingContext(ctx); err == nil {
				break
			}
			logger.Warn("[ledger] Ping failed (attempt %d/10): %v", i+1, err)
			time.Sleep(2 * time.Second)
		}
		if err != nil {
			_ = db.Close()
			return nil, storeErr("open", fmt.Errorf("ping failed after retries: %w", err))
		}
	}

	l := &SQLLedger{db: db, d: d, logger: logger, Now: time.Now}
	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, storeErr("migrate", err)
	}
	logger.Debug("[ledger] Opened %s store at schema version %d", d.name, SchemaVersion)
	return l, nil
}

func (l *SQLLedger) ListingExists(ctx context.Context, canonicalURL string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, l.d.rebind(`SELECT 1 FROM listings WHERE canonical_url = ?`), canonicalURL).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("listing exists", err)
	}
	return true, nil
}

func (l *SQLLedger) FindByFingerprint(ctx context.Context, fingerprint string) (string, bool, error) {
	if fingerprint == "" {
		return "", false, nil
	}
	var url string
	err := l.db.QueryRowContext(ctx, l.d.rebind(`
		SELECT canonical_url FROM listings
		WHERE fingerprint = ? AND canonical_url IS NOT NULL
		ORDER BY posted_at, canonical_url
		LIMIT 1
	`), fingerprint).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("find by fingerprint", err)
	}
	return url, true, nil
}

func (l *SQLLedger) FindSimilar(ctx context.Context, price, rooms int, area float64) ([]*models.ListingRecord, error) {
	rows, err := l.db.QueryContext(ctx, l.d.rebind(`
		SELECT canonical_url, COALESCE(address, ''), COALESCE(area, 0)
		FROM listings
		WHERE canonical_url IS NOT NULL AND price = ? AND rooms = ? AND area > ? AND area < ?
		ORDER BY canonical_url
	`), price, rooms, area-1, area+1)
	if err != nil {
		return nil, storeErr("find similar", err)
	}
	defer rows.Close()

	var out []*models.ListingRecord
	for rows.Next() {
		rec := &models.ListingRecord{Price: price, Rooms: rooms}
		if err := rows.Scan(&rec.CanonicalURL, &rec.Address, &rec.Area); err != nil {
			return nil, storeErr("find similar: scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find similar", err)
	}
	return out, nil
}

func (l *SQLLedger) UpsertListing(ctx context.Context, rec *models.ListingRecord) (bool, error) {
	if rec.CanonicalURL == "" {
		return false, storeErr("upsert listing", errors.New("empty canonical url"))
	}
	res, err := l.db.ExecContext(ctx, l.d.rebind(`
		INSERT INTO listings
			(canonical_url, fingerprint, source, external_id, url, price, rooms, area, address, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (canonical_url) DO NOTHING
	`), rec.CanonicalURL, rec.Fingerprint, string(rec.Source), rec.ExternalID, rec.URL,
		rec.Price, rec.Rooms, rec.Area, rec.Address, rec.PostedAt.UTC())
	if err != nil {
		return false, storeErr("upsert listing", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("upsert listing", err)
	}
	return n > 0, nil
}

func (l *SQLLedger) HasDelivered(ctx context.Context, canonicalURL string, destinationID int64) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx, l.d.rebind(`
		SELECT 1 FROM deliveries WHERE canonical_url = ? AND destination_id = ?
	`), canonicalURL, destinationID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("has delivered", err)
	}
	return true, nil
}

func (l *SQLLedger) RecordDelivery(ctx context.Context, canonicalURL string, destinationID int64) (bool, error) {
	res, err := l.db.ExecContext(ctx, l.d.rebind(`
		INSERT INTO deliveries (canonical_url, destination_id, delivered_at)
		VALUES (?, ?, ?)
		ON CONFLICT (canonical_url, destination_id) DO NOTHING
	`), canonicalURL, destinationID, l.Now().UTC())
	if err != nil {
		return false, storeErr("record delivery", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("record delivery", err)
	}
	return n > 0, nil
}

func (l *SQLLedger) Prune(ctx context.Context, olderThan time.Time) (PruneResult, error) {
	var result PruneResult

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return result, storeErr("prune", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, l.d.rebind(`DELETE FROM listings WHERE posted_at < ?`), olderThan.UTC())
	if err != nil {
		return result, storeErr("prune listings", err)
	}
	if result.DeletedListings, err = res.RowsAffected(); err != nil {
		return result, storeErr("prune listings", err)
	}

	res, err = tx.ExecContext(ctx, `
		DELETE FROM deliveries
		WHERE canonical_url IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM listings l WHERE l.canonical_url = deliveries.canonical_url)
	`)
	if err != nil {
		return result, storeErr("prune deliveries", err)
	}
	if result.DeletedDeliveries, err = res.RowsAffected(); err != nil {
		return result, storeErr("prune deliveries", err)
	}

	if err := tx.Commit(); err != nil {
		return PruneResult{}, storeErr("prune", err)
	}
	return result, nil
}

// Counts returns the number of stored listings and deliveries.
func (l *SQLLedger) Counts(ctx context.Context) (listings, deliveries int64, err error) {
	if err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&listings); err != nil {
		return 0, 0, storeErr("count listings", err)
	}
	if err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`).Scan(&deliveries); err != nil {
		return 0, 0, storeErr("count deliveries", err)
	}
	return listings, deliveries, nil
}

// Ping checks that the store is still reachable.
func (l *SQLLedger) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (l *SQLLedger) Close() error {
	return l.db.Close()
}
