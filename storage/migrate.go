package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"flat-notifier/canon"
)

// SchemaVersion is the layout this binary writes. Version 1 is the original
// offers/sent layout keyed by the provider's numeric offer id.
const SchemaVersion = 2

const (
	listingsTable   = "listings"
	deliveriesTable = "deliveries"
	versionTable    = "schema_version"
)

// legacyTables maps tables of earlier layouts to their current names.
var legacyTables = []struct{ from, to string }{
	{"offers", listingsTable},
	{"sent", deliveriesTable},
}

// legacyIdentityColumns are the identity columns of earlier layouts, in the
// order they are preferred as the source of a backfilled canonical_url.
var legacyIdentityColumns = []string{"offer_id", "url"}

type column struct {
	name string
	def  string
}

func listingColumns(d dialect) []column {
	return []column{
		{"canonical_url", "TEXT"},
		{"fingerprint", "TEXT NOT NULL DEFAULT ''"},
		{"source", "TEXT NOT NULL DEFAULT ''"},
		{"external_id", "TEXT NOT NULL DEFAULT ''"},
		{"url", "TEXT NOT NULL DEFAULT ''"},
		{"price", "BIGINT NOT NULL DEFAULT 0"},
		{"rooms", "INTEGER NOT NULL DEFAULT 0"},
		{"area", "DOUBLE PRECISION NOT NULL DEFAULT 0"},
		{"address", "TEXT NOT NULL DEFAULT ''"},
		{"posted_at", d.timestampType},
	}
}

func deliveryColumns(d dialect) []column {
	return []column{
		{"canonical_url", "TEXT"},
		{"destination_id", "BIGINT"},
		{"delivered_at", d.timestampType},
	}
}

func createStatements(d dialect) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS listings (
			canonical_url TEXT PRIMARY KEY,
			fingerprint   TEXT NOT NULL DEFAULT '',
			source        TEXT NOT NULL DEFAULT '',
			external_id   TEXT NOT NULL DEFAULT '',
			url           TEXT NOT NULL DEFAULT '',
			price         BIGINT NOT NULL DEFAULT 0,
			rooms         INTEGER NOT NULL DEFAULT 0,
			area          DOUBLE PRECISION NOT NULL DEFAULT 0,
			address       TEXT NOT NULL DEFAULT '',
			posted_at     ` + d.timestampType + `
		)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			canonical_url  TEXT NOT NULL,
			destination_id BIGINT NOT NULL,
			delivered_at   ` + d.timestampType + ` NOT NULL,
			PRIMARY KEY (canonical_url, destination_id)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER NOT NULL,
			applied_at ` + d.timestampType + ` NOT NULL
		)`,
	}
}

var indexStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_listings_canonical_url ON listings(canonical_url)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_deliveries_url_destination ON deliveries(canonical_url, destination_id)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_fingerprint ON listings(fingerprint)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_price_rooms ON listings(price, rooms)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_posted_at   ON listings(posted_at)`,
	`CREATE INDEX IF NOT EXISTS idx_listings_source      ON listings(source)`,
}

// migrate brings any earlier layout up to SchemaVersion inside one
// transaction. Every step is additive: tables are renamed rather than copied,
// missing columns are added, and no row or column is ever dropped.
func (l *SQLLedger) migrate(ctx context.Context) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m := &migration{tx: tx, d: l.d, ledger: l}

	version, err := m.recordedVersion(ctx)
	if err != nil {
		return err
	}
	if version > SchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	if err := m.adoptLegacyTables(ctx); err != nil {
		return err
	}
	for _, stmt := range createStatements(l.d) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}

	addedListing, err := m.addMissingColumns(ctx, listingsTable, listingColumns(l.d))
	if err != nil {
		return err
	}
	addedDelivery, err := m.addMissingColumns(ctx, deliveriesTable, deliveryColumns(l.d))
	if err != nil {
		return err
	}
	if err := m.backfill(ctx, addedListing, addedDelivery); err != nil {
		return err
	}

	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if version < SchemaVersion {
		if _, err := tx.ExecContext(ctx, l.d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`),
			SchemaVersion, time.Now().UTC()); err != nil {
			return fmt.Errorf("record version: %w", err)
		}
		if version > 0 {
			l.logger.Warn("[ledger] Store migrated from schema version %d to %d", version, SchemaVersion)
		}
	}

	return tx.Commit()
}

type migration struct {
	tx     *sql.Tx
	d      dialect
	ledger *SQLLedger

	// urlKeys maps raw legacy URLs to their backfilled key; claimed is the
	// reverse, guarding the unique index on listings.canonical_url.
	urlKeys map[string]string
	claimed map[string]string
}

func (m *migration) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := m.tx.QueryRowContext(ctx, m.d.rebind(m.d.tableExists), table).Scan(&n); err != nil {
		return false, fmt.Errorf("inspect table %s: %w", table, err)
	}
	return n > 0, nil
}

func (m *migration) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := m.tx.QueryContext(ctx, m.d.rebind(m.d.columns), table)
	if err != nil {
		return nil, fmt.Errorf("inspect columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// recordedVersion returns the stored schema version. A store holding the
// legacy offers table but no version table is version 1; an empty store is 0.
func (m *migration) recordedVersion(ctx context.Context) (int, error) {
	ok, err := m.tableExists(ctx, versionTable)
	if err != nil {
		return 0, err
	}
	if ok {
		var v sql.NullInt64
		if err := m.tx.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
			return 0, fmt.Errorf("read schema version: %w", err)
		}
		if v.Valid {
			return int(v.Int64), nil
		}
	}
	for _, t := range []string{"offers", listingsTable} {
		ok, err := m.tableExists(ctx, t)
		if err != nil {
			return 0, err
		}
		if ok {
			return 1, nil
		}
	}
	return 0, nil
}

func (m *migration) adoptLegacyTables(ctx context.Context) error {
	for _, lt := range legacyTables {
		legacy, err := m.tableExists(ctx, lt.from)
		if err != nil {
			return err
		}
		current, err := m.tableExists(ctx, lt.to)
		if err != nil {
			return err
		}
		if !legacy || current {
			continue
		}
		if _, err := m.tx.ExecContext(ctx, "ALTER TABLE "+lt.from+" RENAME TO "+lt.to); err != nil {
			return fmt.Errorf("rename %s to %s: %w", lt.from, lt.to, err)
		}
		m.ledger.logger.Warn("[ledger] Adopted legacy table %q as %q", lt.from, lt.to)
	}
	return nil
}

// addMissingColumns adds every expected column absent from table and returns
// the names it added.
func (m *migration) addMissingColumns(ctx context.Context, table string, want []column) (map[string]bool, error) {
	have, err := m.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	added := make(map[string]bool)
	for _, c := range want {
		if have[c.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.def)
		if _, err := m.tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("add column %s.%s: %w", table, c.name, err)
		}
		m.ledger.logger.Warn("[ledger] Column %s.%s was missing, added it", table, c.name)
		added[c.name] = true
	}
	return added, nil
}

// backfill derives the new key columns for rows written under a legacy layout.
// Both tables use the same legacy column, so a legacy delivery keeps pointing
// at its legacy listing and is never delivered again.
func (m *migration) backfill(ctx context.Context, addedListing, addedDelivery map[string]bool) error {
	if addedListing["canonical_url"] {
		if err := m.backfillKey(ctx, listingsTable); err != nil {
			return err
		}
	}
	if addedDelivery["canonical_url"] {
		if err := m.backfillKey(ctx, deliveriesTable); err != nil {
			return err
		}
	}

	if addedDelivery["destination_id"] {
		cols, err := m.columns(ctx, deliveriesTable)
		if err != nil {
			return err
		}
		if cols["chat_id"] {
			if err := m.exec(ctx, deliveriesTable,
				`UPDATE deliveries SET destination_id = chat_id WHERE destination_id IS NULL AND chat_id IS NOT NULL`); err != nil {
				return err
			}
		}
	}
	if addedDelivery["delivered_at"] {
		if err := m.exec(ctx, deliveriesTable,
			m.d.rebind(`UPDATE deliveries SET delivered_at = ? WHERE delivered_at IS NULL`), time.Now().UTC()); err != nil {
			return err
		}
	}

	if addedListing["posted_at"] {
		cols, err := m.columns(ctx, listingsTable)
		if err != nil {
			return err
		}
		if cols["date"] {
			if err := m.exec(ctx, listingsTable, `UPDATE listings SET posted_at = `+m.d.castTimestamp("date")+
				` WHERE posted_at IS NULL AND date IS NOT NULL`); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *migration) backfillKey(ctx context.Context, table string) error {
	cols, err := m.columns(ctx, table)
	if err != nil {
		return err
	}
	for _, legacy := range legacyIdentityColumns {
		if !cols[legacy] {
			continue
		}
		if legacy == "url" {
			if err := m.backfillFromURL(ctx, table); err != nil {
				return err
			}
		} else {
			stmt := fmt.Sprintf(`UPDATE %s SET canonical_url = 'legacy:' || CAST(offer_id AS TEXT)
				WHERE canonical_url IS NULL AND offer_id IS NOT NULL`, table)
			if err := m.exec(ctx, table, stmt); err != nil {
				return err
			}
		}
		m.ledger.logger.Warn("[ledger] Backfilled %s.canonical_url from legacy column %s", table, legacy)
		return nil
	}
	return nil
}

// backfillFromURL keys URL-keyed legacy rows by their canonical URL. A raw URL
// that does not parse, or whose canonical form is already taken by another
// raw URL, keeps its raw value. Both tables share the mapping, so a legacy
// delivery follows its listing.
func (m *migration) backfillFromURL(ctx context.Context, table string) error {
	rows, err := m.tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT DISTINCT url FROM %s WHERE canonical_url IS NULL AND url IS NOT NULL ORDER BY url`, table))
	if err != nil {
		return fmt.Errorf("backfill %s: read urls: %w", table, err)
	}
	var raws []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return fmt.Errorf("backfill %s: scan url: %w", table, err)
		}
		raws = append(raws, raw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("backfill %s: read urls: %w", table, err)
	}

	stmt := m.d.rebind(fmt.Sprintf(`UPDATE %s SET canonical_url = ? WHERE canonical_url IS NULL AND url = ?`, table))
	for _, raw := range raws {
		if err := m.exec(ctx, table, stmt, m.keyFor(raw), raw); err != nil {
			return err
		}
	}
	return nil
}

func (m *migration) keyFor(raw string) string {
	if key, ok := m.urlKeys[raw]; ok {
		return key
	}
	if m.urlKeys == nil {
		m.urlKeys = make(map[string]string)
		m.claimed = make(map[string]string)
	}

	key := raw
	if c, err := canon.URL(raw); err == nil {
		if owner, taken := m.claimed[c]; !taken || owner == raw {
			key = c
		}
	}
	m.claimed[key] = raw
	m.urlKeys[raw] = key
	return key
}

func (m *migration) exec(ctx context.Context, table, stmt string, args ...any) error {
	res, err := m.tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("backfill %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		m.ledger.logger.Debug("[ledger] Backfill touched %d rows in %s", n, table)
	}
	return nil
}
