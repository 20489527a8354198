package models

import "time"

// Source identifies the listing provider a record came from.
type Source string

const (
	SourceCian   Source = "cian"
	SourceYandex Source = "yandex"
)

// RawListing holds a provider record exactly as fetched. Numeric fields are kept
// as strings; coercion happens in the normalizer so one bad record can be skipped
// without losing the rest of the batch.
type RawListing struct {
	Source      Source
	ExternalID  string
	URL         string
	RawPrice    string
	RawRooms    string
	RawArea     string
	Address     string
	RawPostedAt string
	FetchedAt   time.Time
}

// Listing is a validated provider record.
type Listing struct {
	Source     Source
	ExternalID string
	RawURL     string
	Price      int
	RoomCount  int
	AreaSqm    float64
	Address    string
	PostedAt   time.Time
}

// CanonicalListing is a Listing plus the identity keys derived from it.
type CanonicalListing struct {
	Listing
	CanonicalURL string
	Fingerprint  string
}

// ListingRecord is the persisted form of a listing. CanonicalURL is the primary
// identity; the remaining attributes only serve duplicate detection.
type ListingRecord struct {
	CanonicalURL string
	Fingerprint  string
	Source       Source
	ExternalID   string
	URL          string
	Price        int
	Rooms        int
	Area         float64
	Address      string
	PostedAt     time.Time
}

// Record converts a canonical listing into the row written to the ledger.
func (c *CanonicalListing) Record() *ListingRecord {
	return &ListingRecord{
		CanonicalURL: c.CanonicalURL,
		Fingerprint:  c.Fingerprint,
		Source:       c.Source,
		ExternalID:   c.ExternalID,
		URL:          c.RawURL,
		Price:        c.Price,
		Rooms:        c.RoomCount,
		Area:         c.AreaSqm,
		Address:      c.Address,
		PostedAt:     c.PostedAt,
	}
}
