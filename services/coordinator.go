package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"flat-notifier/metrics"
	"flat-notifier/models"
	"flat-notifier/scraper"
	"flat-notifier/storage"
	"flat-notifier/utils"
)

// Sender delivers a text message to chat destinations.
type Sender interface {
	Send(ctx context.Context, destinationID int64, text string) error
	Broadcast(ctx context.Context, destinationIDs []int64, text string) error
}

// State is where a listing ended up in a run.
type State int

const (
	StateSkipped State = iota
	StateDelivered
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSkipped:
		return "skipped"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome describes what happened to one listing.
type Outcome struct {
	State    State
	Reason   string
	Identity Identity
	Recorded bool

	// Delivered counts new deliveries; Failed counts destinations whose send
	// failed.
	Delivered int
	Failed    int
}

// RawSink receives every raw candidate before normalization.
type RawSink interface {
	WriteRaw(runID string, listings []*models.RawListing) error
}

// Options are the run parameters taken from configuration. RawSink may be nil.
type Options struct {
	Filter       Filter
	Destinations []int64
	Retention    time.Duration
	SendSummary  bool
	RawSink      RawSink
}

// Coordinator drives listings from providers through normalization,
// filtering, identity resolution, delivery and the ledger.
type Coordinator struct {
	ledger     storage.Ledger
	resolver   *Resolver
	normalizer *Normalizer
	sender     Sender
	opts       Options
	logger     *utils.Logger
	metrics    *metrics.Metrics

	seen  *utils.KeySet
	runID string

	Now      func() time.Time
	NewRunID func() string
}

// NewCoordinator wires a Coordinator. m may be nil.
func NewCoordinator(ledger storage.Ledger, sender Sender, opts Options, logger *utils.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		ledger:     ledger,
		resolver:   NewResolver(ledger),
		normalizer: NewNormalizer(logger),
		sender:     sender,
		opts:       opts,
		logger:     logger,
		metrics:    m,
		seen:       utils.NewKeySet(),
		Now:        time.Now,
		NewRunID:   uuid.NewString,
	}
}

// Run processes every fetcher in order, prunes the ledger and, when anything
// was delivered, announces the summary. It returns an error only when the
// store fails or ctx is cancelled; the partial summary is returned with it.
func (c *Coordinator) Run(ctx context.Context, fetchers ...scraper.Fetcher) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     c.NewRunID(),
		StartedAt: c.Now().UTC(),
	}
	c.seen = utils.NewKeySet()
	c.runID = summary.RunID

	c.logger.Info("[run] Run %s started: %d providers, %d destinations",
		summary.RunID, len(fetchers), len(c.opts.Destinations))

	for _, f := range fetchers {
		if err := c.RunSource(ctx, f, summary.Stats(f.Source())); err != nil {
			summary.FinishedAt = c.Now().UTC()
			return summary, err
		}
	}

	pruned, err := c.Prune(ctx, c.Now())
	if err != nil {
		summary.FinishedAt = c.Now().UTC()
		return summary, err
	}
	summary.PrunedListings = pruned.DeletedListings
	summary.PrunedDeliveries = pruned.DeletedDeliveries

	if c.opts.SendSummary && summary.Delivered() > 0 {
		if err := c.sender.Broadcast(ctx, c.opts.Destinations, FormatSummary(summary)); err != nil {
			c.logger.Warn("[run] Summary broadcast incomplete: %v", err)
		}
	}

	summary.FinishedAt = c.Now().UTC()
	c.metrics.RunFinished(summary.StartedAt, summary.FinishedAt)
	c.logger.Info("[run] Run %s finished: processed %d, recorded %d, delivered %d",
		summary.RunID, summary.Processed(), summary.Recorded(), summary.Delivered())
	return summary, nil
}

// RunSource fetches one provider and processes its candidates. A fetch
// failure counts as zero candidates.
func (c *Coordinator) RunSource(ctx context.Context, f scraper.Fetcher, stats *models.SourceStats) error {
	src := string(f.Source())

	raw, err := f.FetchCandidates(ctx)
	if err != nil {
		var fetchErr *scraper.FetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = &scraper.FetchError{Source: f.Source(), Op: "fetch", Err: err}
		}
		c.logger.Error("[run] Provider %s yielded no candidates: %v", src, fetchErr)
		stats.FetchFailed = true
		c.metrics.FetchFailed(src)
		return nil
	}
	stats.Fetched += len(raw)
	c.logger.Info("[run] Provider %s returned %d candidates", src, len(raw))

	if c.opts.RawSink != nil {
		if err := c.opts.RawSink.WriteRaw(c.runID, raw); err != nil {
			c.logger.Warn("[run] Raw dump for %s failed: %v", src, err)
		}
	}

	listings, malformed := c.normalizer.Clean(raw)
	stats.Malformed += malformed
	for i := 0; i < malformed; i++ {
		c.metrics.Skipped(src, "malformed")
	}

	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Processed++
		c.metrics.Processed(src)

		out, err := c.Process(ctx, l)
		if err != nil {
			return err
		}

		if out.State == StateSkipped {
			stats.Skipped++
			c.metrics.Skipped(src, out.Reason)
		}
		if out.Recorded {
			stats.Recorded++
			c.metrics.Recorded(src)
		}
		stats.Delivered += out.Delivered
		stats.Failed += out.Failed
	}

	c.logger.Info("[run] Provider %s: %d processed, %d new deliveries", src, stats.Processed, stats.Delivered)
	return nil
}

// Process takes one normalized listing to a terminal state. Only store
// failures are returned as errors; a failed send is counted in the outcome.
func (c *Coordinator) Process(ctx context.Context, l *models.CanonicalListing) (Outcome, error) {
	if !c.opts.Filter.Accept(&l.Listing) {
		c.logger.Debug("[run] Rejected by filter: %s (%d ₽, %d rooms)", l.CanonicalURL, l.Price, l.RoomCount)
		return Outcome{State: StateSkipped, Reason: "filter"}, nil
	}
	// A listing past the retention window would be pruned and then
	// delivered again on the next run.
	if c.opts.Retention > 0 && l.PostedAt.Before(c.Now().Add(-c.opts.Retention)) {
		c.logger.Debug("[run] Stale listing skipped: %s posted %s", l.CanonicalURL, l.PostedAt.Format(time.DateOnly))
		return Outcome{State: StateSkipped, Reason: "stale"}, nil
	}
	if !c.seen.Add(l.CanonicalURL) {
		return Outcome{State: StateSkipped, Reason: "duplicate"}, nil
	}

	id, err := c.resolver.Resolve(ctx, l)
	if err != nil {
		return Outcome{}, err
	}
	if id.CanonicalURL != l.CanonicalURL {
		c.logger.Debug("[run] %s matches stored %s by %s", l.CanonicalURL, id.CanonicalURL, id.MatchedBy)
		if !c.seen.Add(id.CanonicalURL) {
			return Outcome{State: StateSkipped, Reason: "duplicate", Identity: id}, nil
		}
	}

	out := Outcome{Identity: id}

	rec := l.Record()
	rec.CanonicalURL = id.CanonicalURL
	if out.Recorded, err = c.ledger.UpsertListing(ctx, rec); err != nil {
		return out, err
	}

	text := FormatListing(&l.Listing)
	for _, dest := range c.opts.Destinations {
		delivered, err := c.ledger.HasDelivered(ctx, id.CanonicalURL, dest)
		if err != nil {
			return out, err
		}
		if delivered {
			continue
		}

		if err := c.sender.Send(ctx, dest, text); err != nil {
			c.logger.Error("[run] Delivery of %s to %d failed: %v", id.CanonicalURL, dest, err)
			out.Failed++
			c.metrics.Delivery("failed")
			continue
		}
		if _, err := c.ledger.RecordDelivery(ctx, id.CanonicalURL, dest); err != nil {
			return out, err
		}
		out.Delivered++
		c.metrics.Delivery("delivered")
	}

	out.State = StateDelivered
	if out.Failed > 0 && out.Delivered == 0 {
		out.State = StateFailed
	}
	return out, nil
}

// Prune removes listings older than the retention window, measured from now,
// together with their deliveries.
func (c *Coordinator) Prune(ctx context.Context, now time.Time) (storage.PruneResult, error) {
	if c.opts.Retention <= 0 {
		return storage.PruneResult{}, nil
	}
	res, err := c.ledger.Prune(ctx, now.Add(-c.opts.Retention))
	if err != nil {
		return res, err
	}
	if res.DeletedListings > 0 || res.DeletedDeliveries > 0 {
		c.logger.Info("[run] Pruned %d listings and %d deliveries older than %s",
			res.DeletedListings, res.DeletedDeliveries, c.opts.Retention)
	}
	c.metrics.PrunedRows(res.DeletedListings, res.DeletedDeliveries)
	return res, nil
}
