package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"slot-sync-backend/config"
	"slot-sync-backend/internal/apperr"
	"slot-sync-backend/internal/logging"
	"slot-sync-backend/internal/metrics"
	"slot-sync-backend/internal/window"
)

const breakerName = "scheduling-api"

// Client talks to the scheduling vendor over HTTP. Every request waits on a
// shared rate limiter, retries HTTP 429 with backoff and runs inside a
// circuit breaker.
type Client struct {
	baseURL        string
	userID         string
	apiKey         string
	resultCap      int
	maxRetries     int
	retryBaseDelay time.Duration
	client         *http.Client
	limiter        *rate.Limiter
	cb             *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a vendor client from configuration.
func NewClient(cfg *config.UpstreamConfig) *Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			logging.Warn().Err(err).Str("proxy", cfg.HTTPProxy).Msg("invalid proxy URL; upstream client will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		userID:         cfg.UserID,
		apiKey:         cfg.APIKey,
		resultCap:      cfg.ResultCap,
		maxRetries:     cfg.MaxRetries,
		retryBaseDelay: time.Second,
		client:         &http.Client{Transport: transport, Timeout: timeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:             cb,
	}
}

// ListAppointmentTypes returns every appointment type, active or not.
func (c *Client) ListAppointmentTypes(ctx context.Context) ([]AppointmentType, error) {
	return getList[AppointmentType](ctx, c, "appointment-types", nil)
}

// ListResources returns every calendar.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	return getList[Resource](ctx, c, "calendars", nil)
}

// ListAppointments queries bookings whose date falls in w.
func (c *Client) ListAppointments(ctx context.Context, w window.Window, f AppointmentFilter) ([]Appointment, error) {
	q := url.Values{}
	q.Set("minDate", w.Start.Format(window.DateLayout))
	q.Set("maxDate", w.End.Format(window.DateLayout))
	if f.TypeID != "" {
		q.Set("appointmentTypeID", f.TypeID.String())
	}
	if f.ResourceID != "" {
		q.Set("calendarID", f.ResourceID.String())
	}
	if f.IncludeCanceled {
		q.Set("showall", "true")
	}
	if c.resultCap > 0 {
		q.Set("max", strconv.Itoa(c.resultCap))
	}

	return getList[Appointment](ctx, c, "appointments", q)
}

// ListAvailableSlots returns the open start times of a type on one date.
func (c *Client) ListAvailableSlots(ctx context.Context, date time.Time, typeID, resourceID ID) ([]Slot, error) {
	q := url.Values{}
	q.Set("date", date.Format(window.DateLayout))
	q.Set("appointmentTypeID", typeID.String())
	if resourceID != "" {
		q.Set("calendarID", resourceID.String())
	}

	return getList[Slot](ctx, c, "availability/times", q)
}

// getList fetches a JSON array from endpoint and decodes it element by
// element. An element that does not decode is logged and returned as the
// zero value, so the page keeps the length the vendor sent and callers drop
// it as a record without identity. Request failures and bodies that are not
// an array are returned as apperr.TransientAPI.
func getList[T any](ctx context.Context, c *Client, endpoint string, q url.Values) ([]T, error) {
	body, err := c.get(ctx, endpoint, q)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, apperr.New(apperr.TransientAPI, "decode "+endpoint, q.Encode(), err)
	}
	out := make([]T, len(raw))
	for i, elem := range raw {
		if err := json.Unmarshal(elem, &out[i]); err != nil {
			var zero T
			out[i] = zero
			metrics.UpstreamRequests.WithLabelValues(endpoint, "malformed").Inc()
			logging.Warn().Err(err).Str("endpoint", endpoint).Int("index", i).Msg("dropping undecodable record")
		}
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	return out, nil
}

// get fetches endpoint and returns the raw body. Failures are returned as
// apperr.TransientAPI.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	reqURL := c.baseURL + "/" + endpoint
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}

	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.fetch(ctx, endpoint, reqURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.UpstreamRequests.WithLabelValues(endpoint, "rejected").Inc()
		}
		return nil, apperr.New(apperr.TransientAPI, "GET "+endpoint, q.Encode(), err)
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, endpoint, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.doRequestWithRateLimit(ctx, endpoint, reqURL)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// doRequestWithRateLimit retries HTTP 429 with exponential backoff
// (1s, 2s, 4s, ...) or the server's Retry-After.
func (c *Client) doRequestWithRateLimit(ctx context.Context, endpoint, reqURL string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.SetBasicAuth(c.userID, c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request failed: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		_ = resp.Body.Close()
		metrics.UpstreamRequests.WithLabelValues(endpoint, "rate_limited").Inc()

		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("rate limit exceeded after %d retries (HTTP 429)", c.maxRetries)
		}

		delay := c.retryBaseDelay * time.Duration(1<<uint(attempt))
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds >= 0 {
				delay = time.Duration(seconds) * time.Second
			}
		}
		logging.Warn().Str("endpoint", endpoint).Dur("retry_delay", delay).Int("attempt", attempt+1).Msg("scheduling API rate limited (HTTP 429), retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
