// Package yandex reads rental offers from the Yandex Realty search gate.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"flat-notifier/models"
	"flat-notifier/scraper"
	"flat-notifier/utils"
)

const DefaultEndpoint = "https://realty.yandex.ru/gate/react-page/get/"

var providers = []string{
	"search", "filters", "searchParams", "seo", "queryId",
	"forms", "filtersParams", "searchPresets", "react-search-data",
}

// PageLoader renders a URL in a real browser and returns the page text.
type PageLoader interface {
	LoadText(ctx context.Context, url string) (string, error)
}

// PageError is an HTML answer where JSON was expected, usually the
// anti-bot captcha.
type PageError struct {
	Title   string
	Captcha bool
}

func (e *PageError) Error() string {
	if e.Captcha {
		return fmt.Sprintf("captcha page %q instead of JSON", e.Title)
	}
	return fmt.Sprintf("HTML page %q instead of JSON", e.Title)
}

// Options configure the search query and the retry policy.
type Options struct {
	Endpoint string
	RGID     string
	Rooms    []int
	MaxPrice int
	Timeout  time.Duration
	Retries  int

	// Browser, when set, is tried once after an HTML answer.
	Browser PageLoader
}

// Fetcher queries one page of the newest owner-listed apartment rentals.
type Fetcher struct {
	opts   Options
	client *http.Client
	retry  *utils.RetryConfig
	logger *utils.Logger

	Now func() time.Time
}

var _ scraper.Fetcher = (*Fetcher)(nil)

func New(opts Options, logger *utils.Logger) *Fetcher {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Retries < 1 {
		opts.Retries = 5
	}
	return &Fetcher{
		opts:   opts,
		client: scraper.NewHTTPClient(opts.Timeout),
		retry: &utils.RetryConfig{
			MaxAttempts: opts.Retries,
			MinDelay:    time.Second,
			MaxDelay:    3 * time.Second,
			Logger:      logger,
		},
		logger: logger,
		Now:    time.Now,
	}
}

// SetSleep replaces the pause between attempts. Used by tests.
func (f *Fetcher) SetSleep(sleep func(time.Duration)) {
	f.retry.Sleep = sleep
}

func (f *Fetcher) Source() models.Source { return models.SourceYandex }

// SearchURL is the full gate URL with filters applied.
func (f *Fetcher) SearchURL() string {
	params := url.Values{}
	for _, p := range providers {
		params.Add("_providers", p)
	}
	params.Set("sort", "DATE_DESC")
	params.Set("rgid", f.opts.RGID)
	params.Set("type", "RENT")
	params.Set("category", "APARTMENT")
	params.Set("agents", "NO")
	params.Set("_pageType", "search")
	if len(f.opts.Rooms) > 0 {
		params.Set("roomsTotalMin", strconv.Itoa(slices.Min(f.opts.Rooms)))
		params.Set("roomsTotalMax", strconv.Itoa(slices.Max(f.opts.Rooms)))
	}
	if f.opts.MaxPrice > 0 {
		params.Set("priceMax", strconv.Itoa(f.opts.MaxPrice))
	}
	return f.opts.Endpoint + "?" + params.Encode()
}

type searchResponse struct {
	Response struct {
		Search struct {
			Offers struct {
				Entities []offer `json:"entities"`
			} `json:"offers"`
		} `json:"search"`
	} `json:"response"`
}

type offer struct {
	ShareURL     string       `json:"shareUrl"`
	OfferID      scraper.Text `json:"offerId"`
	UpdateDate   string       `json:"updateDate"`
	CreationDate string       `json:"creationDate"`
	Price        struct {
		Value scraper.Text `json:"value"`
	} `json:"price"`
	Location struct {
		Address string `json:"address"`
	} `json:"location"`
	Area struct {
		Value scraper.Text `json:"value"`
	} `json:"area"`
	RoomsTotalKey scraper.Text `json:"roomsTotalKey"`
}

func (f *Fetcher) FetchCandidates(ctx context.Context) ([]*models.RawListing, error) {
	searchURL := f.SearchURL()

	var body []byte
	err := f.retry.Do(ctx, "yandex search", func() error {
		var err error
		body, err = f.get(ctx, searchURL)
		return err
	})

	var page *PageError
	if errors.As(err, &page) && f.opts.Browser != nil {
		f.logger.Warn("[yandex] %v, retrying in headless browser", page)
		text, berr := f.opts.Browser.LoadText(ctx, searchURL)
		if berr != nil {
			return nil, &scraper.FetchError{Source: models.SourceYandex, Op: "browser", Err: errors.Join(err, berr)}
		}
		body, err = []byte(text), nil
	}
	if err != nil {
		return nil, &scraper.FetchError{Source: models.SourceYandex, Op: "search", Err: err}
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &scraper.FetchError{Source: models.SourceYandex, Op: "decode", Err: err}
	}

	fetchedAt := f.Now().UTC()
	entities := resp.Response.Search.Offers.Entities
	out := make([]*models.RawListing, 0, len(entities))
	for _, o := range entities {
		postedAt := o.UpdateDate
		if postedAt == "" {
			postedAt = o.CreationDate
		}
		out = append(out, &models.RawListing{
			Source:      models.SourceYandex,
			ExternalID:  o.OfferID.String(),
			URL:         o.ShareURL,
			RawPrice:    o.Price.Value.String(),
			RawRooms:    o.RoomsTotalKey.String(),
			RawArea:     o.Area.Value.String(),
			Address:     o.Location.Address,
			RawPostedAt: postedAt,
			FetchedAt:   fetchedAt,
		})
	}

	f.logger.Info("[yandex] Fetched %d offers", len(out))
	return out, nil
}

// get performs one attempt. Client errors and HTML pages are permanent;
// server errors and transport failures may be retried.
func (f *Fetcher) get(ctx context.Context, searchURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, utils.Permanent(err)
	}
	req.Header.Set("User-Agent", scraper.UserAgent)
	req.Header.Set("Accept", "application/json")

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 16<<20))
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		statusErr := &scraper.StatusError{StatusCode: res.StatusCode, Body: snippet(body)}
		if statusErr.Retryable() {
			return nil, statusErr
		}
		return nil, utils.Permanent(statusErr)
	}

	if looksLikeHTML(res.Header.Get("Content-Type"), body) {
		return nil, utils.Permanent(inspectPage(body))
	}
	return body, nil
}

func looksLikeHTML(contentType string, body []byte) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '<'
}

// inspectPage names the HTML page that came back instead of JSON.
func inspectPage(body []byte) *PageError {
	page := &PageError{}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.Captcha = doc.Find(`form[action*="captcha"], .CheckboxCaptcha, .AdvancedCaptcha, #checkbox-captcha-form`).Length() > 0 ||
		strings.Contains(strings.ToLower(page.Title), "robot") ||
		strings.Contains(strings.ToLower(page.Title), "робот")
	return page
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
