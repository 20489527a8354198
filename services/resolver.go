package services

import (
	"context"
	"fmt"
	"math"

	"flat-notifier/canon"
	"flat-notifier/models"
)

// MatchRule names the rule that settled a listing's identity.
type MatchRule string

const (
	MatchNone        MatchRule = "none"
	MatchURL         MatchRule = "canonical_url"
	MatchFingerprint MatchRule = "fingerprint"
	MatchFuzzy       MatchRule = "fuzzy"
)

// fuzzyAreaTolerance is the exclusive bound on the area difference, in m².
const fuzzyAreaTolerance = 1.0

// ListingFinder is the slice of the ledger the resolver reads.
type ListingFinder interface {
	ListingExists(ctx context.Context, canonicalURL string) (bool, error)
	FindByFingerprint(ctx context.Context, fingerprint string) (string, bool, error)
	FindSimilar(ctx context.Context, price, rooms int, area float64) ([]*models.ListingRecord, error)
}

// Identity is the authoritative key for a candidate listing.
type Identity struct {
	CanonicalURL string
	IsNew        bool
	MatchedBy    MatchRule
}

// Resolver maps candidates onto stored listings.
type Resolver struct {
	store ListingFinder
}

func NewResolver(store ListingFinder) *Resolver {
	return &Resolver{store: store}
}

// Resolve applies the identity rules in order: exact canonical URL, content
// fingerprint, then same price and rooms with area within 1 m² and the same
// address. The first match wins and its stored key replaces the candidate's.
func (r *Resolver) Resolve(ctx context.Context, c *models.CanonicalListing) (Identity, error) {
	exists, err := r.store.ListingExists(ctx, c.CanonicalURL)
	if err != nil {
		return Identity{}, fmt.Errorf("resolver: exact: %w", err)
	}
	if exists {
		return Identity{CanonicalURL: c.CanonicalURL, MatchedBy: MatchURL}, nil
	}

	url, ok, err := r.store.FindByFingerprint(ctx, c.Fingerprint)
	if err != nil {
		return Identity{}, fmt.Errorf("resolver: fingerprint: %w", err)
	}
	if ok {
		return Identity{CanonicalURL: url, MatchedBy: MatchFingerprint}, nil
	}

	similar, err := r.store.FindSimilar(ctx, c.Price, c.RoomCount, c.AreaSqm)
	if err != nil {
		return Identity{}, fmt.Errorf("resolver: fuzzy: %w", err)
	}
	for _, rec := range similar {
		if math.Abs(rec.Area-c.AreaSqm) < fuzzyAreaTolerance && canon.SameAddress(rec.Address, c.Address) {
			return Identity{CanonicalURL: rec.CanonicalURL, MatchedBy: MatchFuzzy}, nil
		}
	}

	return Identity{CanonicalURL: c.CanonicalURL, IsNew: true, MatchedBy: MatchNone}, nil
}
