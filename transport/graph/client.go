// Package graph is a paged source over the Microsoft Graph REST API.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	syncErrors "github.com/c0deZ3R0/dirsync/errors"
	"github.com/c0deZ3R0/dirsync/logging"
	"github.com/c0deZ3R0/dirsync/synckit"
)

const (
	// DefaultBaseURL is the Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	// DefaultAuthorityURL is the Microsoft identity platform host.
	DefaultAuthorityURL = "https://login.microsoftonline.com"

	// DefaultScope requests every application permission granted to the app.
	DefaultScope = "https://graph.microsoft.com/.default"

	// DefaultMaxResponseSize bounds a single page body.
	DefaultMaxResponseSize = 32 * 1024 * 1024

	// DefaultRequestTimeout bounds a single page request.
	DefaultRequestTimeout = 60 * time.Second
)

// Credentials identify an app registration for the client-credentials flow.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// AuthorityURL defaults to DefaultAuthorityURL.
	AuthorityURL string

	// Scopes default to DefaultScope.
	Scopes []string
}

// TokenURL returns <authority>/<tenant>/oauth2/v2.0/token.
func (c Credentials) TokenURL() string {
	authority := c.AuthorityURL
	if authority == "" {
		authority = DefaultAuthorityURL
	}
	return strings.TrimRight(authority, "/") + "/" + c.TenantID + "/oauth2/v2.0/token"
}

func (c Credentials) validate() error {
	var errs []error
	if c.TenantID == "" {
		errs = append(errs, errors.New("tenant id is required"))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}
	if c.ClientSecret == "" {
		errs = append(errs, errors.New("client secret is required"))
	}
	return errors.Join(errs...)
}

// Client fetches Graph collection pages. It implements synckit.PageSource.
type Client struct {
	baseURL         string
	http            *http.Client
	maxResponseSize int64
	logger          *logging.Logger
}

var _ synckit.PageSource = (*Client)(nil)

// Option configures a Client using the functional options pattern.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. It must add authorization itself.
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithMaxResponseSize sets the largest accepted page body in bytes.
func WithMaxResponseSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResponseSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for baseURL. Without WithHTTPClient requests are sent
// unauthenticated; use NewWithCredentials for a real tenant.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		maxResponseSize: DefaultMaxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultRequestTimeout}
	}
	c.logger = logging.OrDefault(c.logger).WithComponent(logging.Component("graph"))
	return c
}

// NewWithCredentials creates a client whose requests carry an app-only token
// obtained with the client-credentials grant. Tokens are cached and renewed
// by the oauth2 package. base supplies timeouts and the underlying transport;
// nil means a client with DefaultRequestTimeout.
func NewWithCredentials(ctx context.Context, creds Credentials, baseURL string, base *http.Client, opts ...Option) (*Client, error) {
	if err := creds.validate(); err != nil {
		return nil, syncErrors.NewConfigError(fmt.Errorf("graph credentials: %w", err))
	}
	scopes := creds.Scopes
	if len(scopes) == 0 {
		scopes = []string{DefaultScope}
	}
	if base == nil {
		base = &http.Client{Timeout: DefaultRequestTimeout}
	}

	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL(),
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	// token requests use base as well, so tests can point both at httptest
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	authed := cfg.Client(ctx)
	authed.Timeout = base.Timeout

	return New(baseURL, append([]Option{WithHTTPClient(authed)}, opts...)...), nil
}

// collectionPage is the Graph paging envelope.
type collectionPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// errorEnvelope is the Graph error body.
type errorEnvelope struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		InnerError struct {
			RequestID string `json:"request-id"`
		} `json:"innerError"`
	} `json:"error"`
}

// Fetch requests one page. request is a path with query relative to the base
// URL, or an absolute continuation link which is used verbatim.
func (c *Client) Fetch(ctx context.Context, request string) (*synckit.Page, error) {
	url := c.resolve(request)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, syncErrors.NewFetchError(fmt.Errorf("failed to create request: %w", err), false)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, url, err)
	}
	defer resp.Body.Close()

	reader := newMaxBodyReader(resp.Body, c.maxResponseSize)

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(ctx, url, resp, reader)
	}

	var page collectionPage
	if err := json.NewDecoder(reader).Decode(&page); err != nil {
		if errors.Is(err, errResponseTooLarge) {
			return nil, syncErrors.NewFetchError(fmt.Errorf("page exceeds %d bytes: %w", c.maxResponseSize, err), false).
				WithMetadata("url", url)
		}
		return nil, syncErrors.NewFetchError(fmt.Errorf("failed to decode page: %w", err), false).
			WithMetadata("url", url)
	}

	c.logger.DebugContext(ctx, "page fetched",
		slog.String("url", url),
		slog.Int("records", len(page.Value)),
		slog.Bool("has_next", page.NextLink != ""),
		slog.Duration("duration", time.Since(start)),
	)

	return &synckit.Page{Records: page.Value, Next: page.NextLink}, nil
}

func (c *Client) resolve(request string) string {
	if strings.HasPrefix(request, "https://") || strings.HasPrefix(request, "http://") {
		return request
	}
	if !strings.HasPrefix(request, "/") {
		request = "/" + request
	}
	return c.baseURL + request
}

func (c *Client) transportError(ctx context.Context, url string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		// a rejected token request will not heal by itself
		fetchErr := syncErrors.NewFetchError(fmt.Errorf("token request failed: %w", err), false)
		if retrieveErr.Response != nil {
			fetchErr.WithMetadata("status", retrieveErr.Response.StatusCode)
		}
		return fetchErr
	}

	retryable := ctx.Err() == nil
	return syncErrors.NewFetchError(fmt.Errorf("network error: %w", err), retryable).
		WithMetadata("url", url)
}

func (c *Client) statusError(ctx context.Context, url string, resp *http.Response, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 64*1024))

	msg := strings.TrimSpace(string(data))
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil && env.Error.Code != "" {
		msg = env.Error.Code + ": " + env.Error.Message
	}

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	err := syncErrors.NewFetchError(fmt.Errorf("graph returned status %d: %s", resp.StatusCode, msg), retryable).
		WithMetadata("url", url).
		WithMetadata("status", resp.StatusCode)
	if env.Error.InnerError.RequestID != "" {
		err.WithMetadata("request_id", env.Error.InnerError.RequestID)
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, convErr := strconv.Atoi(ra); convErr == nil {
			err.WithMetadata("retry_after", time.Duration(secs)*time.Second)
		}
	}

	c.logger.DebugContext(ctx, "page request rejected",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Bool("retryable", retryable),
	)
	return err
}
