// Package api is the REST client for the backend's device, point and
// geofence listings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"herd-monitor/dashboard/internal/domain"
)

const (
	EndpointDevices      = "/api/devices"
	EndpointLatestPoints = "/api/points/latest"
	EndpointGeofences    = "/api/geofences"

	maxBodyBytes = 4 << 20
)

var ErrUnauthorized = errors.New("backend rejected credentials")

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Code, e.Body)
}

type TokenSource interface {
	Token() (string, error)
}

type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
	}
}

// WithHTTPClient swaps the underlying client, mostly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

func (c *Client) ListDevices(ctx context.Context) ([]domain.Device, error) {
	body, err := c.get(ctx, EndpointDevices)
	if err != nil {
		return nil, err
	}
	var devices []domain.Device
	if err := json.Unmarshal(body, &devices); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", EndpointDevices, err)
	}
	return devices, nil
}

// ListLatestPoints returns the newest point per device. Elements that fail
// to decode are skipped and counted, not fatal.
func (c *Client) ListLatestPoints(ctx context.Context) ([]domain.LivePoint, int, error) {
	body, err := c.get(ctx, EndpointLatestPoints)
	if err != nil {
		return nil, 0, err
	}
	points, skipped, err := domain.DecodePoints(body)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: decode: %w", EndpointLatestPoints, err)
	}
	return points, skipped, nil
}

func (c *Client) ListGeofences(ctx context.Context) ([]domain.Geofence, error) {
	body, err := c.get(ctx, EndpointGeofences)
	if err != nil {
		return nil, err
	}
	var fences []domain.Geofence
	if err := json.Unmarshal(body, &fences); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", EndpointGeofences, err)
	}
	return fences, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s: %w", endpoint, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(truncate(string(body), 256))}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
