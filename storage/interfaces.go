package storage

import (
	"context"
	"fmt"
	"time"

	"flat-notifier/models"
)

// Ledger is the persisted record of seen listings and of which destinations
// have received them.
type Ledger interface {
	// ListingExists reports whether a listing with this canonical URL is stored.
	ListingExists(ctx context.Context, canonicalURL string) (bool, error)
	// FindByFingerprint returns the canonical URL of a stored listing with the
	// given content fingerprint.
	FindByFingerprint(ctx context.Context, fingerprint string) (string, bool, error)
	// FindSimilar returns stored listings with the given price and rooms and an
	// area within one square metre.
	FindSimilar(ctx context.Context, price, rooms int, area float64) ([]*models.ListingRecord, error)

	// UpsertListing inserts the record unless its canonical URL is already
	// present. It reports whether a row was written.
	UpsertListing(ctx context.Context, rec *models.ListingRecord) (bool, error)
	HasDelivered(ctx context.Context, canonicalURL string, destinationID int64) (bool, error)
	// RecordDelivery is idempotent; an existing pair is a no-op reported as false.
	RecordDelivery(ctx context.Context, canonicalURL string, destinationID int64) (bool, error)
	// Prune deletes listings posted before olderThan and every delivery left
	// without a listing.
	Prune(ctx context.Context, olderThan time.Time) (PruneResult, error)

	Close() error
}

// PruneResult reports how many rows a retention sweep removed.
type PruneResult struct {
	DeletedListings   int64
	DeletedDeliveries int64
}

// StoreCorruptionError is returned for any failure to open, migrate, read or
// write the store. It is fatal to a run: continuing could deliver twice or
// lose deliveries.
type StoreCorruptionError struct {
	Op  string
	Err error
}

func (e *StoreCorruptionError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreCorruptionError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreCorruptionError{Op: op, Err: err}
}
