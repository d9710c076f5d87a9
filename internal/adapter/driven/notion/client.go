// Package notion implements the RemoteClient port over the Notion REST API.
package notion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/notionwidgets/internal/domain/model"
	"github.com/ericfisherdev/notionwidgets/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RemoteClient = (*Client)(nil)

const (
	defaultBaseURL    = "https://api.notion.com"
	defaultVersion    = "2022-06-28"
	defaultTimeout    = 20 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 250 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second

	// maxSearchPages bounds the collection search so a misbehaving cursor
	// cannot loop forever.
	maxSearchPages = 50
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	Version    string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client implements the driven.RemoteClient port. It holds no session state:
// every call authenticates with the secret it is given.
type Client struct {
	baseURL    string
	version    string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// httpClientFor returns the HTTP client for a secret.
	httpClientFor func(secret string) *http.Client
}

// NewClient creates a Notion API client. Each secret gets its own transport
// stack so cached responses are never shared across workspaces:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (rate limit middleware, sleeps on 429)
//  3. exponential retry of transport-class failures (cenkalti/backoff)
func NewClient(opts Options) *Client {
	c := newClient(opts)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var clients sync.Map
	c.httpClientFor = func(secret string) *http.Client {
		sum := sha256.Sum256([]byte(secret))
		key := hex.EncodeToString(sum[:])
		if existing, ok := clients.Load(key); ok {
			return existing.(*http.Client)
		}

		cacheTransport := httpcache.NewMemoryCacheTransport()
		rateLimitClient := github_ratelimit.NewClient(cacheTransport)
		rateLimitClient.Timeout = timeout

		actual, _ := clients.LoadOrStore(key, rateLimitClient)
		return actual.(*http.Client)
	}

	return c
}

// NewClientWithHTTPClient creates a Client that sends every request through
// httpClient. This constructor is intended for testing, allowing injection of
// an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, opts Options) (*Client, error) {
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	c := newClient(opts)
	c.httpClientFor = func(string) *http.Client { return httpClient }
	return c, nil
}

func newClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = defaultVersion
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	return &Client{
		baseURL:    baseURL,
		version:    version,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// ValidateIdentity resolves the bot user behind secret.
func (c *Client) ValidateIdentity(ctx context.Context, secret string) (model.Identity, error) {
	var user userJSON
	if err := c.do(ctx, secret, http.MethodGet, "/v1/users/me", nil, &user); err != nil {
		return model.Identity{}, fmt.Errorf("validate identity: %w", err)
	}

	return model.Identity{
		ID:            user.ID,
		Name:          user.Name,
		WorkspaceID:   user.Bot.WorkspaceID,
		WorkspaceName: user.Bot.WorkspaceName,
	}, nil
}

// ListCollections returns every database shared with the integration. It
// follows search cursors until the result set is exhausted.
func (c *Client) ListCollections(ctx context.Context, secret string) ([]model.CollectionSummary, error) {
	body := searchRequest{PageSize: 100}
	body.Filter.Property = "object"
	body.Filter.Value = "database"

	summaries := []model.CollectionSummary{}
	for page := 0; page < maxSearchPages; page++ {
		var resp listJSON[databaseJSON]
		if err := c.do(ctx, secret, http.MethodPost, "/v1/search", body, &resp); err != nil {
			return nil, fmt.Errorf("search databases (page %d): %w", page, err)
		}

		for _, db := range resp.Results {
			if db.Archived || db.InTrash {
				continue
			}
			summaries = append(summaries, model.CollectionSummary{
				ID:        db.ID,
				Title:     plainText(db.Title),
				URL:       db.URL,
				UpdatedAt: db.LastEditedTime,
			})
		}

		slog.Debug("notion search page", "page", page, "results", len(resp.Results), "has_more", resp.HasMore)

		if !resp.HasMore || resp.NextCursor == "" {
			return summaries, nil
		}
		body.StartCursor = resp.NextCursor
	}

	slog.Warn("notion search truncated", "pages", maxSearchPages, "collections", len(summaries))
	return summaries, nil
}

// GetCollection fetches one database. CredentialID and the local-only widget
// fields are left for the caller to fill.
func (c *Client) GetCollection(ctx context.Context, secret, id string) (model.RemoteCollection, error) {
	var db databaseJSON
	if err := c.do(ctx, secret, http.MethodGet, "/v1/databases/"+url.PathEscape(id), nil, &db); err != nil {
		return model.RemoteCollection{}, fmt.Errorf("get database %q: %w", id, err)
	}

	return model.RemoteCollection{
		ID:          db.ID,
		Title:       plainText(db.Title),
		Description: plainText(db.Description),
		URL:         db.URL,
		CreatedAt:   db.CreatedTime,
		UpdatedAt:   db.LastEditedTime,
	}, nil
}

// ListItems fetches one page of a database query.
func (c *Client) ListItems(ctx context.Context, secret, collectionID string, pageSize int, cursor string) (model.ItemPage, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	body := queryRequest{PageSize: pageSize, StartCursor: cursor}

	var resp listJSON[pageJSON]
	path := "/v1/databases/" + url.PathEscape(collectionID) + "/query"
	if err := c.do(ctx, secret, http.MethodPost, path, body, &resp); err != nil {
		return model.ItemPage{}, fmt.Errorf("query database %q: %w", collectionID, err)
	}

	items := make([]model.ItemPayload, 0, len(resp.Results))
	for _, p := range resp.Results {
		items = append(items, mapPage(p))
	}

	return model.ItemPage{
		Items:      items,
		NextCursor: resp.NextCursor,
		HasMore:    resp.HasMore,
	}, nil
}

// GetItem fetches one page.
func (c *Client) GetItem(ctx context.Context, secret, id string) (model.ItemPayload, error) {
	var p pageJSON
	if err := c.do(ctx, secret, http.MethodGet, "/v1/pages/"+url.PathEscape(id), nil, &p); err != nil {
		return model.ItemPayload{}, fmt.Errorf("get page %q: %w", id, err)
	}
	return mapPage(p), nil
}

// do sends one API request, retrying transport-class failures with
// exponential back-off, and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, secret, method, path string, in, out any) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &APIError{StatusCode: http.StatusUnauthorized, Code: "unauthorized", Message: "empty secret"}
	}

	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	httpClient := c.httpClientFor(secret)
	policy := &hintedBackOff{BackOff: c.newBackOff(), maxDelay: c.maxDelay}

	attempt := 0
	operation := func() error {
		attempt++

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+secret)
		req.Header.Set("Notion-Version", c.version)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(transportError(method+" "+path, err))
			}
			return transportError(method+" "+path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return transportError("read response", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := parseAPIError(resp, respBody)
			if !apiErr.Retryable() {
				return backoff.Permanent(apiErr)
			}
			policy.hint = apiErr.RetryAfter
			slog.Debug("notion request retryable failure",
				"method", method, "path", path, "status", apiErr.StatusCode, "attempt", attempt)
			return apiErr
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func (c *Client) newBackOff() backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.baseDelay
	expo.MaxInterval = c.maxDelay
	expo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(expo, uint64(c.maxRetries))
}

// hintedBackOff prefers a server-provided Retry-After delay over the wrapped
// policy's next interval, capped at maxDelay. The wrapped policy still decides
// when to stop.
type hintedBackOff struct {
	backoff.BackOff
	hint     time.Duration
	maxDelay time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop || b.hint <= 0 {
		return next
	}
	hint := min(b.hint, b.maxDelay)
	b.hint = 0
	return hint
}

func parseAPIError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var parsed errorJSON
	if json.Unmarshal(body, &parsed) == nil {
		apiErr.Code = parsed.Code
		if strings.TrimSpace(parsed.Message) != "" {
			apiErr.Message = parsed.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
