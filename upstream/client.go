package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrUnavailable indicates the platform could not be reached or answered
	// with a server error. Recoverable inside the reconciler, propagated from
	// tool-triggered calls.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrNotFound indicates the addressed resource does not exist upstream,
	// e.g. a target that was deleted while a session was still focused on it.
	ErrNotFound = errors.New("upstream resource not found")

	// ErrUnauthorized indicates the platform rejected the credential.
	ErrUnauthorized = errors.New("upstream rejected credential")
)

const defaultTimeout = 30 * time.Second

// Client is a typed TestLens API client. The credential is per call, not per
// client: one process serves many sessions with distinct tokens.
type Client struct {
	baseURL string
	hc      *http.Client
}

// New creates a Client for the given API base URL, e.g.
// "https://api.testlens.dev". A nil httpClient gets a default with a 30s
// timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: baseURL, hc: httpClient}
}

// ListTargets returns the targets visible to the credential.
func (c *Client) ListTargets(ctx context.Context, credential string) ([]Target, error) {
	var out []Target
	err := c.get(ctx, credential, "/api/v1/targets", nil, &out)
	return out, err
}

// GetTarget returns a single target.
func (c *Client) GetTarget(ctx context.Context, credential, targetID string) (*Target, error) {
	var out Target
	if err := c.get(ctx, credential, "/api/v1/targets/"+url.PathEscape(targetID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListReports returns the run reports for a target, newest first.
func (c *Client) ListReports(ctx context.Context, credential, targetID string) ([]Report, error) {
	var out []Report
	err := c.get(ctx, credential, "/api/v1/targets/"+url.PathEscape(targetID)+"/reports", nil, &out)
	return out, err
}

// GetReport returns a single run report including its results.
func (c *Client) GetReport(ctx context.Context, credential, targetID, reportID string) (*Report, error) {
	var out Report
	p := "/api/v1/targets/" + url.PathEscape(targetID) + "/reports/" + url.PathEscape(reportID)
	if err := c.get(ctx, credential, p, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCases returns the discovered test cases for a target. The filter is a
// platform-side substring match over case titles; empty means all.
func (c *Client) ListCases(ctx context.Context, credential, targetID, filter string) ([]CaseSummary, error) {
	var q url.Values
	if filter != "" {
		q = url.Values{"filter": []string{filter}}
	}
	var out []CaseSummary
	err := c.get(ctx, credential, "/api/v1/targets/"+url.PathEscape(targetID)+"/cases", q, &out)
	return out, err
}

// Notifications returns the notification feed scoped to a target.
func (c *Client) Notifications(ctx context.Context, credential, targetID string) ([]Notification, error) {
	var out []Notification
	err := c.get(ctx, credential, "/api/v1/targets/"+url.PathEscape(targetID)+"/notifications", nil, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, credential, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s: status %d", ErrUnauthorized, path, res.StatusCode)
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case res.StatusCode >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrUnavailable, path, res.StatusCode)
	case res.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: unexpected status %d", path, res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
