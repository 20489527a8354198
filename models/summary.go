package models

import "time"

// SourceStats holds per-provider counters for one run.
type SourceStats struct {
	Source      Source `json:"source"`
	Fetched     int    `json:"fetched"`
	Processed   int    `json:"processed"`
	Malformed   int    `json:"malformed"`
	Skipped     int    `json:"skipped"`
	Recorded    int    `json:"recorded"`
	Delivered   int    `json:"delivered"`
	Failed      int    `json:"failed"`
	FetchFailed bool   `json:"fetch_failed"`
}

// RunSummary holds the aggregate counts the coordinator reports to its caller.
type RunSummary struct {
	RunID            string         `json:"run_id"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Sources          []*SourceStats `json:"sources"`
	PrunedListings   int64          `json:"pruned_listings"`
	PrunedDeliveries int64          `json:"pruned_deliveries"`
}

// Stats returns the counters for src, creating them on first use.
func (r *RunSummary) Stats(src Source) *SourceStats {
	for _, s := range r.Sources {
		if s.Source == src {
			return s
		}
	}
	s := &SourceStats{Source: src}
	r.Sources = append(r.Sources, s)
	return s
}

// Processed is the number of successfully normalized listings across sources.
func (r *RunSummary) Processed() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Processed
	}
	return n
}

// Recorded is the number of listings newly written to the ledger.
func (r *RunSummary) Recorded() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Recorded
	}
	return n
}

// Delivered is the number of new (listing, destination) deliveries.
func (r *RunSummary) Delivered() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Delivered
	}
	return n
}
