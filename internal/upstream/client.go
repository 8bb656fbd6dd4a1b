// Package upstream fetches the broadcaster's schedule feed and area-to-HLS
// configuration, normalises both into canonical types, and caches each for
// six hours with single-flight-coalesced refresh.
package upstream

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"nhkrec/internal/apperr"
	"nhkrec/internal/log"
	"nhkrec/internal/metrics"
	"nhkrec/internal/model"
)

// Config carries the upstream endpoints and tuning knobs. Exact schemas for
// both documents are treated as opaque per spec; only the fields this
// client actually consumes are typed.
type Config struct {
	EventsBaseURL      string        // template, see FetchEvents
	SeriesListURL       string
	StreamConfigURL     string
	CacheTTL            time.Duration // default 6h
	RequestTimeout      time.Duration // default 60s per-call deadline
	MaxRetries          int           // default 3
	OutboundRPS         float64       // default 2
}

func (c *Config) setDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 6 * time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.OutboundRPS <= 0 {
		c.OutboundRPS = 2
	}
}

// Client is the UpstreamClient component: it fetches and normalises the
// remote schedule and area/HLS configuration.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	limiter    *rate.Limiter
	group      singleflight.Group

	mu              sync.Mutex
	seriesCache     []model.Series
	seriesExpiry    time.Time
	streamCache     map[string]streamCatalogEntry // keyed by area key and area name, lowercased
	streamExpiry    time.Time
}

type streamCatalogEntry struct {
	areaKey  string
	streams  map[model.ServiceID]string
}

// NewClient builds a Client against cfg, defaulting unset tuning knobs.
func NewClient(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     log.WithComponent("upstream"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.OutboundRPS), 1),
	}
}

// ListSeries returns the cached series list, refreshing it (at most once
// concurrently, via singleflight) if the cache has expired.
func (c *Client) ListSeries(ctx context.Context) ([]model.Series, error) {
	c.mu.Lock()
	if time.Now().Before(c.seriesExpiry) {
		cached := c.seriesCache
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("series", func() (any, error) {
		series, err := c.fetchSeriesList(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.seriesCache = series
		c.seriesExpiry = time.Now().Add(c.cfg.CacheTTL)
		c.mu.Unlock()
		return series, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Series), nil
}

func (c *Client) fetchSeriesList(ctx context.Context) ([]model.Series, error) {
	if c.cfg.SeriesListURL == "" {
		return nil, apperr.New(apperr.Internal, "series list URL not configured")
	}
	body, err := c.getWithRetry(ctx, "series_list", c.cfg.SeriesListURL)
	if isNotFoundErr(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, malformed("series list is not valid JSON")
	}
	if obj, ok := payload.(map[string]any); ok && isNotFoundPayload(obj) {
		return nil, nil
	}

	var out []model.Series
	walk(payload, func(obj map[string]any) {
		id, ok := firstString(obj, []string{"seriesId", "series_id"})
		if !ok {
			return
		}
		code, _ := firstString(obj, []string{"seriesCode", "series_code"})
		title, _ := firstString(obj, titleKeys)
		urlStr, _ := firstString(obj, []string{"url", "seriesUrl"})
		out = append(out, model.Series{SeriesID: id, SeriesCode: code, Title: title, URL: urlStr})
	})
	return out, nil
}

// ResolveSeriesCode resolves a series URL to its series code via the cached
// series list, returning NotFound if no entry matches.
func (c *Client) ResolveSeriesCode(ctx context.Context, seriesURL string) (string, error) {
	series, err := c.ListSeries(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range series {
		if s.URL == seriesURL {
			return s.SeriesCode, nil
		}
	}
	return "", apperr.Newf(apperr.NotFound, "no series matches url %q", seriesURL)
}

// ResolveSeriesID resolves a series_code or series_url query parameter to
// its canonical series id via the cached series list. Exactly one of
// seriesCode/seriesURL should be non-empty; seriesCode is tried first.
func (c *Client) ResolveSeriesID(ctx context.Context, seriesCode, seriesURL string) (string, error) {
	series, err := c.ListSeries(ctx)
	if err != nil {
		return "", err
	}
	for _, s := range series {
		if seriesCode != "" && s.SeriesCode == seriesCode {
			return s.SeriesID, nil
		}
		if seriesURL != "" && s.URL == seriesURL {
			return s.SeriesID, nil
		}
	}
	return "", apperr.New(apperr.NotFound, "no series matches the given code or url")
}

// FetchEvents fetches canonical broadcast events for seriesID over the
// given horizon. A 404 (transport-level or payload-shaped) is a successful
// empty result, not an error.
func (c *Client) FetchEvents(ctx context.Context, seriesID string, horizon time.Duration) ([]model.BroadcastEvent, error) {
	if c.cfg.EventsBaseURL == "" {
		return nil, apperr.New(apperr.Internal, "events base URL not configured")
	}
	to := time.Now().Add(horizon).UTC().Format("2006-01-02T15:04")
	endpoint := fmt.Sprintf("%s/%s.json?to=%s&status=scheduled", strings.TrimSuffix(c.cfg.EventsBaseURL, "/"), url.PathEscape(seriesID), url.QueryEscape(to))

	body, err := c.getWithRetry(ctx, "events", endpoint)
	if isNotFoundErr(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, malformed("events payload is not valid JSON")
	}
	if obj, ok := payload.(map[string]any); ok && isNotFoundPayload(obj) {
		return nil, nil
	}

	events := extractEvents(payload)
	sortEventsByStart(events)
	return events, nil
}

func sortEventsByStart(events []model.BroadcastEvent) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].Start.Before(events[j-1].Start); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

// FetchHLSSource returns the live HLS playlist URL for serviceID in areaID,
// applying the fixed r1->r1, r2->r2, r3->fm mapping and refreshing the
// cached area/service table if it has expired.
func (c *Client) FetchHLSSource(ctx context.Context, serviceID model.ServiceID, areaID string) (string, error) {
	mapped := serviceID
	if serviceID == "r3" {
		mapped = model.ServiceFM
	}

	c.mu.Lock()
	fresh := time.Now().Before(c.streamExpiry)
	cache := c.streamCache
	c.mu.Unlock()

	if !fresh {
		v, err, _ := c.group.Do("streams", func() (any, error) {
			catalog, err := c.fetchStreamCatalog(ctx)
			if err != nil {
				return nil, err
			}
			c.mu.Lock()
			c.streamCache = catalog
			c.streamExpiry = time.Now().Add(c.cfg.CacheTTL)
			c.mu.Unlock()
			return catalog, nil
		})
		if err != nil {
			return "", err
		}
		cache = v.(map[string]streamCatalogEntry)
	}

	entry, ok := cache[strings.ToLower(areaID)]
	if !ok {
		return "", apperr.Newf(apperr.NotFound, "no stream catalog entry for area %q", areaID)
	}
	streamURL, ok := entry.streams[mapped]
	if !ok {
		return "", apperr.Newf(apperr.NotFound, "no %s stream for area %q", mapped, areaID)
	}
	return streamURL, nil
}

type streamConfigXML struct {
	Data []struct {
		AreaJP  string `xml:"areajp"`
		Area    string `xml:"area"`
		AreaKey string `xml:"areakey"`
		R1HLS   string `xml:"r1hls"`
		R2HLS   string `xml:"r2hls"`
		FMHLS   string `xml:"fmhls"`
	} `xml:"data"`
}

func (c *Client) fetchStreamCatalog(ctx context.Context) (map[string]streamCatalogEntry, error) {
	if c.cfg.StreamConfigURL == "" {
		return nil, apperr.New(apperr.Internal, "stream config URL not configured")
	}
	body, err := c.getWithRetry(ctx, "stream_config", c.cfg.StreamConfigURL)
	if err != nil {
		return nil, err
	}
	var parsed streamConfigXML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, malformed("stream config document is not valid XML")
	}

	out := make(map[string]streamCatalogEntry)
	for _, d := range parsed.Data {
		streams := make(map[model.ServiceID]string)
		if d.R1HLS != "" {
			streams[model.ServiceR1] = d.R1HLS
		}
		if d.R2HLS != "" {
			streams[model.ServiceR2] = d.R2HLS
		}
		if d.FMHLS != "" {
			streams[model.ServiceFM] = d.FMHLS
		}
		if len(streams) == 0 || d.AreaKey == "" {
			continue
		}
		entry := streamCatalogEntry{areaKey: d.AreaKey, streams: streams}
		out[strings.ToLower(d.AreaKey)] = entry
		if d.Area != "" {
			if _, exists := out[strings.ToLower(d.Area)]; !exists {
				out[strings.ToLower(d.Area)] = entry
			}
		}
	}
	return out, nil
}

// upstreamHTTPError distinguishes 404 (empty-result) from other statuses.
type upstreamHTTPError struct {
	status int
}

func (e *upstreamHTTPError) Error() string { return fmt.Sprintf("upstream returned HTTP %d", e.status) }

func isNotFoundErr(err error) bool {
	if err == nil {
		return false
	}
	e, ok := err.(*upstreamHTTPError)
	return ok && e.status == http.StatusNotFound
}

// getWithRetry performs a rate-limited GET, retrying transient failures
// (timeouts, connection errors, 5xx) with bounded exponential backoff. A
// 404 is returned as *upstreamHTTPError for the caller to treat as empty;
// any other 4xx is surfaced immediately without retry.
func (c *Client) getWithRetry(ctx context.Context, endpoint, targetURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 500 * time.Millisecond
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, apperr.Wrap(apperr.Canceled, ctx.Err(), "upstream request canceled during backoff")
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(apperr.Canceled, err, "rate limiter wait canceled")
		}

		body, status, err := c.doGet(ctx, targetURL)
		if err == nil && status == http.StatusOK {
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "success").Inc()
			return body, nil
		}
		if status == http.StatusNotFound {
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "not_found").Inc()
			return nil, &upstreamHTTPError{status: status}
		}
		if status >= 400 && status < 500 {
			metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "client_error").Inc()
			return nil, apperr.Newf(apperr.UpstreamUnavailable, "upstream returned HTTP %d", status)
		}
		if err != nil {
			lastErr = apperr.Wrap(apperr.UpstreamUnavailable, err, "upstream request failed")
		} else {
			lastErr = apperr.Newf(apperr.UpstreamUnavailable, "upstream returned HTTP %d", status)
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "retry").Inc()
		c.logger.Warn().Err(lastErr).Str("url", targetURL).Int("attempt", attempt+1).Msg("upstream request failed, retrying")
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, "failure").Inc()
	return nil, lastErr
}

func (c *Client) doGet(ctx context.Context, targetURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
