// Package cian reads rental offers from the CIAN search API.
package cian

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"flat-notifier/models"
	"flat-notifier/scraper"
	"flat-notifier/utils"
)

const DefaultEndpoint = "https://api.cian.ru/search-offers/v2/search-offers-desktop/"

// Options configure the search query.
type Options struct {
	Endpoint string
	Region   int
	Rooms    []int
	MaxPrice int
	Timeout  time.Duration
}

// Fetcher queries one page of the newest owner-listed long-term rentals.
type Fetcher struct {
	opts   Options
	client *http.Client
	logger *utils.Logger

	Now func() time.Time
}

var _ scraper.Fetcher = (*Fetcher)(nil)

func New(opts Options, logger *utils.Logger) *Fetcher {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	return &Fetcher{
		opts:   opts,
		client: scraper.NewHTTPClient(opts.Timeout),
		logger: logger,
		Now:    time.Now,
	}
}

func (f *Fetcher) Source() models.Source { return models.SourceCian }

type term struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// query builds the jsonQuery body: region, flat rent, rooms, owners only,
// newest first, price capped.
func (f *Fetcher) query() map[string]any {
	q := map[string]any{
		"region":          term{"terms", []int{f.opts.Region}},
		"_type":           "flatrent",
		"engine_version":  term{"term", 2},
		"for_day":         term{"term", "!1"},
		"is_by_homeowner": term{"term", true},
		"sort":            term{"term", "creation_date_desc"},
	}
	if len(f.opts.Rooms) > 0 {
		q["room"] = term{"terms", f.opts.Rooms}
	}
	if f.opts.MaxPrice > 0 {
		q["bargain_terms"] = term{"range", map[string]int{"lte": f.opts.MaxPrice}}
	}
	return map[string]any{"jsonQuery": q}
}

type searchResponse struct {
	Data struct {
		OffersSerialized []offer `json:"offersSerialized"`
	} `json:"data"`
}

type offer struct {
	FullURL        string       `json:"fullUrl"`
	ID             scraper.Text `json:"id"`
	AddedTimestamp scraper.Text `json:"addedTimestamp"`
	BargainTerms   struct {
		PriceRur scraper.Text `json:"priceRur"`
	} `json:"bargainTerms"`
	Geo struct {
		UserInput string `json:"userInput"`
	} `json:"geo"`
	TotalArea  scraper.Text `json:"totalArea"`
	RoomsCount scraper.Text `json:"roomsCount"`
}

func (f *Fetcher) FetchCandidates(ctx context.Context) ([]*models.RawListing, error) {
	fail := func(op string, err error) error {
		return &scraper.FetchError{Source: models.SourceCian, Op: op, Err: err}
	}

	payload, err := json.Marshal(f.query())
	if err != nil {
		return nil, fail("encode query", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fail("build request", err)
	}
	req.Header.Set("User-Agent", scraper.UserAgent)
	req.Header.Set("Content-Type", "application/json")

	f.logger.Debug("[cian] POST %s", f.opts.Endpoint)
	res, err := f.client.Do(req)
	if err != nil {
		return nil, fail("search", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		return nil, fail("search", &scraper.StatusError{StatusCode: res.StatusCode, Body: string(snippet)})
	}

	var body searchResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fail("decode", err)
	}

	fetchedAt := f.Now().UTC()
	out := make([]*models.RawListing, 0, len(body.Data.OffersSerialized))
	for _, o := range body.Data.OffersSerialized {
		out = append(out, &models.RawListing{
			Source:      models.SourceCian,
			ExternalID:  o.ID.String(),
			URL:         o.FullURL,
			RawPrice:    o.BargainTerms.PriceRur.String(),
			RawRooms:    o.RoomsCount.String(),
			RawArea:     o.TotalArea.String(),
			Address:     o.Geo.UserInput,
			RawPostedAt: o.AddedTimestamp.String(),
			FetchedAt:   fetchedAt,
		})
	}

	f.logger.Info("[cian] Fetched %d offers", len(out))
	return out, nil
}
