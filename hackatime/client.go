// Package hackatime talks to the external time-tracking service and
// aggregates tracked seconds over a project's effective window.
package hackatime

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ProjectStat is one named activity with its tracked total for a range.
type ProjectStat struct {
	Name         string `json:"name"`
	TotalSeconds int64  `json:"total_seconds"`
}

// StatsClient fetches tracked-activity stats for a user over a date range.
// Implementations must treat the range as inclusive.
type StatsClient interface {
	Stats(ctx context.Context, userID, startDate, endDate string) ([]ProjectStat, error)
}

// ClientConfig configures the HTTP stats client.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	TeamPrefix     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RatePerMinute  int
}

// Client is the HTTP implementation of StatsClient.
type Client struct {
	baseURL    string
	apiKey     string
	teamPrefix string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a stats client with explicit connect and read
// timeouts so a slow upstream cannot hold a request open indefinitely.
func NewClient(cfg ClientConfig) *Client {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}
	read := cfg.ReadTimeout
	if read <= 0 {
		read = 30 * time.Second
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 120
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connect}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: read,
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		teamPrefix: cfg.TeamPrefix,
		httpClient: &http.Client{Transport: transport, Timeout: connect + read},
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

type statsResponse struct {
	Data struct {
		Projects []ProjectStat `json:"projects"`
	} `json:"data"`
}

// Stats fetches per-activity totals for the inclusive [startDate, endDate]
// range. The upstream end date is exclusive, so one day is added before the
// call.
func (c *Client) Stats(ctx context.Context, userID, startDate, endDate string) ([]ProjectStat, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("hackatime: client not configured")
	}
	cleanID := c.NormalizeUserID(userID)
	if cleanID == "" {
		return []ProjectStat{}, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	adjustedEnd, err := addDay(endDate)
	if err != nil {
		return nil, fmt.Errorf("hackatime: invalid end date %q: %w", endDate, err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/users/%s/stats", c.baseURL, url.PathEscape(cleanID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("start_date", startDate)
	q.Set("end_date", adjustedEnd)
	q.Set("features", "projects")
	req.URL.RawQuery = q.Encode()
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hackatime: unexpected status %d", resp.StatusCode)
	}

	var payload statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("hackatime: decode response: %w", err)
	}
	if payload.Data.Projects == nil {
		return []ProjectStat{}, nil
	}
	return payload.Data.Projects, nil
}

// NormalizeUserID strips the workspace team prefix so cache keys and API
// paths agree on a single identifier form.
func (c *Client) NormalizeUserID(userID string) string {
	id := strings.TrimSpace(userID)
	if c.teamPrefix != "" {
		id = strings.TrimPrefix(id, c.teamPrefix)
	}
	return id
}

func addDay(date string) (string, error) {
	d, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return "", err
	}
	return d.AddDate(0, 0, 1).Format("2006-01-02"), nil
}

var _ StatsClient = (*Client)(nil)
