package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"flat-notifier/canon"
	"flat-notifier/models"
	"flat-notifier/utils"
)

// MalformedRecordError reports a provider record that failed coercion.
type MalformedRecordError struct {
	Source     models.Source
	ExternalID string
	Field      string
	Value      string
	Reason     string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record %q: %s %q: %s", e.Source, e.ExternalID, e.Field, e.Value, e.Reason)
}

// postedAtLayouts are tried in order after unix seconds.
var postedAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// priceJunk removes thousands separators and currency marks.
var priceJunk = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"\u2009", "",
	"\u202f", "",
	"₽", "",
	"руб.", "",
	"руб", "",
)

// Normalize coerces a raw provider record into a CanonicalListing. It does
// no I/O.
func Normalize(raw *models.RawListing) (*models.CanonicalListing, error) {
	bad := func(field, value, reason string) error {
		return &MalformedRecordError{
			Source:     raw.Source,
			ExternalID: raw.ExternalID,
			Field:      field,
			Value:      value,
			Reason:     reason,
		}
	}

	canonicalURL, err := canon.URL(raw.URL)
	if err != nil {
		return nil, bad("url", raw.URL, err.Error())
	}

	price, err := parsePrice(raw.RawPrice)
	if err != nil {
		return nil, bad("price", raw.RawPrice, err.Error())
	}

	rooms, err := parseRooms(raw.RawRooms)
	if err != nil {
		return nil, bad("rooms", raw.RawRooms, err.Error())
	}

	area, err := parseArea(raw.RawArea)
	if err != nil {
		return nil, bad("area", raw.RawArea, err.Error())
	}

	address := normaliseText(raw.Address)
	if address == "" {
		return nil, bad("address", raw.Address, "empty")
	}

	postedAt, err := parsePostedAt(raw.RawPostedAt, raw.FetchedAt)
	if err != nil {
		return nil, bad("posted_at", raw.RawPostedAt, err.Error())
	}

	return &models.CanonicalListing{
		Listing: models.Listing{
			Source:     raw.Source,
			ExternalID: strings.TrimSpace(raw.ExternalID),
			RawURL:     strings.TrimSpace(raw.URL),
			Price:      price,
			RoomCount:  rooms,
			AreaSqm:    area,
			Address:    address,
			PostedAt:   postedAt,
		},
		CanonicalURL: canonicalURL,
		Fingerprint:  canon.Fingerprint(price, rooms, area, address),
	}, nil
}

// Normalizer runs Normalize over a batch, logging and dropping bad records.
type Normalizer struct {
	logger *utils.Logger
}

func NewNormalizer(logger *utils.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Clean returns the records that normalized successfully, in input order, and
// the number that were skipped as malformed.
func (n *Normalizer) Clean(raw []*models.RawListing) ([]*models.CanonicalListing, int) {
	result := make([]*models.CanonicalListing, 0, len(raw))
	malformed := 0

	for _, r := range raw {
		l, err := Normalize(r)
		if err != nil {
			n.logger.Warn("[normalizer] Skipping record: %v", err)
			malformed++
			continue
		}
		result = append(result, l)
	}

	n.logger.Debug("[normalizer] Normalized %d → %d listings (malformed %d)",
		len(raw), len(result), malformed)
	return result, malformed
}

// parsePrice accepts "45000", "45 000", "45 000 ₽" and "45000.4".
func parsePrice(raw string) (int, error) {
	s := priceJunk.Replace(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a number")
	}
	if v < 0 {
		return 0, fmt.Errorf("negative")
	}
	return int(math.Round(v)), nil
}

func parseRooms(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	if strings.EqualFold(s, "STUDIO") {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < 0 {
		return 0, fmt.Errorf("negative")
	}
	return n, nil
}

func parseArea(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("missing")
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a number")
	}
	if v < 0 {
		return 0, fmt.Errorf("negative")
	}
	return v, nil
}

// parsePostedAt falls back to fetchedAt when the provider sent nothing.
func parsePostedAt(raw string, fetchedAt time.Time) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return fetchedAt.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range postedAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp")
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
