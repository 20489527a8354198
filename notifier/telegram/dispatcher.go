// Package telegram delivers messages through the Telegram Bot API with
// per-chat pacing and server-directed back-off on 429.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flat-notifier/metrics"
	"flat-notifier/utils"
)

const (
	defaultRetryAfter = time.Second
	requestTimeout    = 10 * time.Second
)

// DeliveryError is a send that failed for a reason other than rate limiting.
// It is not retried.
type DeliveryError struct {
	DestinationID int64
	StatusCode    int
	Description   string
	Err           error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("telegram: send to %d: %v", e.DestinationID, e.Err)
	case e.Description != "":
		return fmt.Sprintf("telegram: send to %d: status %d: %s", e.DestinationID, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("telegram: send to %d: status %d", e.DestinationID, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// apiResponse is the envelope of every Bot API reply.
type apiResponse struct {
	OK          bool               `json:"ok"`
	ErrorCode   int                `json:"error_code"`
	Description string             `json:"description"`
	Parameters  responseParameters `json:"parameters"`
}

type responseParameters struct {
	RetryAfter int `json:"retry_after"`
}

// Dispatcher sends messages one at a time. It is safe for sequential use by a
// single run.
type Dispatcher struct {
	endpoint string
	client   *http.Client
	pacer    *utils.Pacer
	logger   *utils.Logger
	metrics  *metrics.Metrics

	sleep func(time.Duration)
}

// NewDispatcher creates a Dispatcher for the bot token against apiURL
// (normally https://api.telegram.org). m may be nil.
func NewDispatcher(apiURL, token string, minInterval time.Duration, logger *utils.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		endpoint: strings.TrimRight(apiURL, "/") + "/bot" + token + "/sendMessage",
		client:   &http.Client{Timeout: requestTimeout},
		pacer:    utils.NewPacer(minInterval),
		logger:   logger,
		metrics:  m,
		sleep:    time.Sleep,
	}
}

// WithClock replaces the clock and sleep used for pacing and 429 waits.
func (d *Dispatcher) WithClock(now func() time.Time, sleep func(time.Duration)) *Dispatcher {
	d.pacer.Now = now
	d.pacer.Sleep = sleep
	d.sleep = sleep
	return d
}

// Send delivers text to one chat. It waits out the pacing interval first and
// retries for as long as the API answers 429.
func (d *Dispatcher) Send(ctx context.Context, destinationID int64, text string) error {
	if pause := d.pacer.Wait(destinationID); pause > 0 {
		d.logger.Debug("[dispatch] Paced %d for %s", destinationID, pause)
	}

	for {
		status, resp, header, err := d.post(ctx, destinationID, text)
		if err != nil {
			return &DeliveryError{DestinationID: destinationID, Err: err}
		}

		if status == http.StatusTooManyRequests {
			wait := retryAfter(resp, header)
			d.logger.Warn("[dispatch] 429 for %d, waiting %s", destinationID, wait)
			d.metrics.RateLimit()
			d.sleep(wait)
			continue
		}

		if status < 200 || status > 299 || !resp.OK {
			return &DeliveryError{
				DestinationID: destinationID,
				StatusCode:    status,
				Description:   resp.Description,
			}
		}

		d.pacer.Mark(destinationID)
		d.logger.Info("[dispatch] Sent to %d", destinationID)
		return nil
	}
}

// Broadcast sends text to every destination in order. Failures are collected,
// not retried, and do not stop the remaining sends.
func (d *Dispatcher) Broadcast(ctx context.Context, destinationIDs []int64, text string) error {
	var errs []error
	for _, id := range destinationIDs {
		if err := d.Send(ctx, id, text); err != nil {
			d.logger.Error("[dispatch] %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) post(ctx context.Context, destinationID int64, text string) (int, apiResponse, http.Header, error) {
	var resp apiResponse

	form := url.Values{
		"chat_id":                  {strconv.FormatInt(destinationID, 10)},
		"text":                     {text},
		"parse_mode":               {"HTML"},
		"disable_web_page_preview": {"false"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, resp, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := d.client.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return 0, resp, nil, fmt.Errorf("post: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return res.StatusCode, resp, res.Header, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		resp = apiResponse{Description: truncate(strings.TrimSpace(string(body)), 200)}
	}
	return res.StatusCode, resp, res.Header, nil
}

// retryAfter prefers the body's parameters.retry_after, then the Retry-After
// header, then one second.
func retryAfter(resp apiResponse, header http.Header) time.Duration {
	if resp.Parameters.RetryAfter > 0 {
		return time.Duration(resp.Parameters.RetryAfter) * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header.Get("Retry-After"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
