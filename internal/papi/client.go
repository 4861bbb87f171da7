// Package papi talks to the property manager bulk search endpoints.
package papi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/hyperjump/bulksearch/internal/searcherr"
	"go.uber.org/zap"
)

const (
	apiPrefix         = "/papi/v1"
	searchPath        = apiPrefix + "/bulk/rules-search-requests"
	accountKeyParam   = "accountSwitchKey"
	maxBodySize       = 64 << 20
	maxSnippet        = 512
	usePrefixesHeader = "PAPI-Use-Prefixes"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client submits bulk searches, polls their status and fetches rule trees.
type Client struct {
	doer       Doer
	base       *url.URL
	accountKey string
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAccountSwitchKey attaches the tenant token to every request.
func WithAccountSwitchKey(key string) Option {
	return func(c *Client) {
		c.accountKey = strings.TrimSpace(key)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a client for the service at baseURL (scheme and host, e.g.
// https://akab-xxx.luna.akamaiapis.net).
func NewClient(doer Doer, baseURL string, opts ...Option) (*Client, error) {
	if doer == nil {
		return nil, errors.New("papi: nil transport")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("papi: invalid base URL %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("papi: base URL %q needs a scheme and host", baseURL)
	}
	c := &Client{doer: doer, base: base, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type submitResponse struct {
	BulkSearchLink string `json:"bulkSearchLink"`
}

type statusResponse struct {
	SearchTargetStatus string        `json:"searchTargetStatus"`
	Results            []resultEntry `json:"results"`
}

type resultEntry struct {
	PropertyID      string   `json:"propertyId"`
	PropertyVersion int      `json:"propertyVersion"`
	PropertyName    string   `json:"propertyName"`
	IncludeID       string   `json:"includeId"`
	IncludeVersion  int      `json:"includeVersion"`
	IncludeName     string   `json:"includeName"`
	MatchLocations  []string `json:"matchLocations"`
}

func (r resultEntry) summary() models.MatchSummary {
	if r.PropertyID == "" && r.IncludeID != "" {
		return models.MatchSummary{
			Kind:           models.KindInclude,
			EntityID:       r.IncludeID,
			EntityVersion:  r.IncludeVersion,
			EntityName:     r.IncludeName,
			MatchLocations: r.MatchLocations,
		}
	}
	return models.MatchSummary{
		Kind:           models.KindProperty,
		EntityID:       r.PropertyID,
		EntityVersion:  r.PropertyVersion,
		EntityName:     r.PropertyName,
		MatchLocations: r.MatchLocations,
	}
}

// Submit starts a bulk search job for q.
func (c *Client) Submit(ctx context.Context, q models.SearchQuery) (models.JobHandle, error) {
	payload, err := json.Marshal(models.SearchRequest{BulkSearchQuery: q})
	if err != nil {
		return models.JobHandle{}, fmt.Errorf("encode search request: %w", err)
	}
	endpoint := c.endpoint(searchPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.JobHandle{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.send(req)
	if err != nil {
		return models.JobHandle{}, err
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.JobHandle{}, &searcherr.AuthError{Status: status, URL: endpoint, Body: snippet(body)}
	case status != http.StatusAccepted:
		return models.JobHandle{}, &searcherr.SubmissionError{Status: status, Body: snippet(body), Query: q.Match}
	}

	var parsed submitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return models.JobHandle{}, &searcherr.ProtocolError{URL: endpoint, Status: status, Reason: "cannot parse submit response", Err: err}
	}
	link := strings.TrimSpace(parsed.BulkSearchLink)
	if link == "" {
		return models.JobHandle{}, &searcherr.ProtocolError{URL: endpoint, Status: status, Reason: "response has no bulkSearchLink"}
	}
	c.logger.Info("Bulk search submitted", zap.String("status_location", link))
	return models.JobHandle{StatusLocation: link}, nil
}

// CheckStatus asks the service where the job stands.
func (c *Client) CheckStatus(ctx context.Context, h models.JobHandle) (models.JobStatus, error) {
	if h.StatusLocation == "" {
		return models.JobStatus{}, errors.New("papi: empty job handle")
	}
	endpoint := c.endpoint(h.StatusLocation)
	body, status, err := c.get(ctx, endpoint, nil)
	if err != nil {
		return models.JobStatus{}, err
	}

	var parsed statusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return models.JobStatus{}, &searcherr.ProtocolError{URL: endpoint, Status: status, Reason: "cannot parse job status", Err: err}
	}
	state, ok := parseState(parsed.SearchTargetStatus)
	if !ok {
		return models.JobStatus{}, &searcherr.ProtocolError{
			URL:    endpoint,
			Status: status,
			Reason: fmt.Sprintf("unknown searchTargetStatus %q", parsed.SearchTargetStatus),
		}
	}

	out := models.JobStatus{State: state}
	switch state {
	case models.JobComplete:
		out.Results = make([]models.MatchSummary, 0, len(parsed.Results))
		for _, r := range parsed.Results {
			out.Results = append(out.Results, r.summary())
		}
	case models.JobFailed:
		out.Reason = "service reported " + parsed.SearchTargetStatus
	}
	return out, nil
}

// FetchDocument downloads the rule tree of one entity version.
func (c *Client) FetchDocument(ctx context.Context, ref models.EntityRef) (models.Document, error) {
	collection := "properties"
	if ref.Kind == models.KindInclude {
		collection = "includes"
	}
	path := fmt.Sprintf("%s/%s/%s/versions/%d/rules", apiPrefix, collection, url.PathEscape(ref.ID), ref.Version)
	endpoint := c.endpoint(path)

	header := http.Header{}
	header.Set(usePrefixesHeader, "false")
	body, status, err := c.get(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &searcherr.ProtocolError{
			URL:    endpoint,
			Status: status,
			Reason: "cannot parse rule tree of " + ref.String(),
			Err:    err,
		}
	}
	c.logger.Debug("Fetched rule tree", zap.Stringer("entity", ref), zap.Int("bytes", len(body)))
	return doc, nil
}

// get performs a GET and maps every non-200 outcome to the error taxonomy.
func (c *Client) get(ctx context.Context, endpoint string, header http.Header) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	status, body, err := c.send(req)
	if err != nil {
		return nil, 0, err
	}
	switch {
	case status == http.StatusOK:
		return body, status, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, status, &searcherr.AuthError{Status: status, URL: endpoint, Body: snippet(body)}
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, status, &searcherr.TransientFetchError{URL: endpoint, Status: status, Err: errors.New(snippet(body))}
	default:
		return nil, status, &searcherr.ProtocolError{URL: endpoint, Status: status, Reason: snippet(body)}
	}
}

// send executes req and reads the whole body. Transport failures are transient
// unless the request's own context ended.
func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.doer.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &searcherr.TransientFetchError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &searcherr.TransientFetchError{URL: req.URL.String(), Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

// endpoint resolves ref (absolute URL or path) against the base URL and
// attaches the account switch key.
func (c *Client) endpoint(ref string) string {
	u, err := c.base.Parse(ref)
	if err != nil {
		u = c.base.JoinPath(ref)
	}
	if c.accountKey != "" {
		q := u.Query()
		q.Set(accountKeyParam, c.accountKey)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func parseState(s string) (models.JobState, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING", "SUBMITTED", "IN_PROGRESS", "RUNNING":
		return models.JobPending, true
	case "COMPLETE", "COMPLETED":
		return models.JobComplete, true
	case "FAILED", "ERROR":
		return models.JobFailed, true
	}
	return "", false
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
