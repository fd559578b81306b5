package gist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v71/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public GitHub REST endpoint.
const DefaultBaseURL = "https://api.github.com/"

// MaxPageSize is the largest page GitHub allows for gist listings.
const MaxPageSize = 100

// Config holds configuration for creating a new Client.
type Config struct {
	// Token is sent as the bearer credential. Required.
	Token string
	// BaseURL overrides DefaultBaseURL, e.g. for GitHub Enterprise or tests.
	BaseURL string
	// HTTPClient is the base client the authenticating transport wraps.
	HTTPClient *http.Client
	// RateLimit paces outgoing requests. Zero means unlimited.
	RateLimit rate.Limit
	// Burst is the limiter burst size; ignored when RateLimit is zero.
	Burst int
	// PageSize is the number of gists requested per listing page. Defaults to MaxPageSize.
	PageSize int
	Logger   *slog.Logger
}

// Client implements API with go-github.
type Client struct {
	gh       *github.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *slog.Logger
}

// NewClient creates a gists client authenticated with cfg.Token.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("token is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))

	gh := github.NewClient(httpClient)
	gh.BaseURL = baseURL

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	return &Client{gh: gh, limiter: limiter, pageSize: cfg.PageSize, logger: cfg.Logger}, nil
}

// List returns all gists of the authenticated user, following the Link
// header from page to page.
func (c *Client) List(ctx context.Context) ([]Gist, error) {
	var gists []Gist
	page := 1
	for {
		var raw []wireGist
		path := fmt.Sprintf("gists?per_page=%d&page=%d", c.pageSize, page)
		resp, err := c.do(ctx, http.MethodGet, path, nil, &raw)
		if err != nil {
			return nil, fmt.Errorf("failed to list gists: %w", err)
		}
		// An empty list decodes to a non-nil slice; null or no body leaves it nil.
		if raw == nil {
			return nil, fmt.Errorf("failed to list gists: %w: page %d is not a list", ErrDecode, page)
		}
		for _, w := range raw {
			gists = append(gists, w.toGist())
		}
		if resp.NextPage <= page {
			return gists, nil
		}
		page = resp.NextPage
	}
}

// Create creates a gist.
func (c *Client) Create(ctx context.Context, g NewGist) (Gist, error) {
	body := &github.Gist{
		Description: github.Ptr(g.Description),
		Public:      github.Ptr(g.Public),
		Files:       make(map[github.GistFilename]github.GistFile, len(g.Files)),
	}
	for name, content := range g.Files {
		body.Files[github.GistFilename(name)] = github.GistFile{Content: github.Ptr(content)}
	}

	var created wireGist
	if _, err := c.do(ctx, http.MethodPost, "gists", body, &created); err != nil {
		return Gist{}, fmt.Errorf("failed to create gist: %w", err)
	}
	return created.toGist(), nil
}

// Get fetches a gist by id.
func (c *Client) Get(ctx context.Context, id string) (Gist, error) {
	if id == "" {
		return Gist{}, errors.New("gist id is required")
	}
	var w wireGist
	if _, err := c.do(ctx, http.MethodGet, "gists/"+url.PathEscape(id), nil, &w); err != nil {
		return Gist{}, fmt.Errorf("failed to get gist %s: %w", id, err)
	}
	return w.toGist(), nil
}

// UpdateFile sets the content of one file of a gist.
func (c *Client) UpdateFile(ctx context.Context, id, name, content string) (Gist, error) {
	if id == "" {
		return Gist{}, errors.New("gist id is required")
	}
	body := &github.Gist{
		Files: map[github.GistFilename]github.GistFile{
			github.GistFilename(name): {Content: github.Ptr(content)},
		},
	}
	var w wireGist
	if _, err := c.do(ctx, http.MethodPatch, "gists/"+url.PathEscape(id), body, &w); err != nil {
		return Gist{}, fmt.Errorf("failed to update gist %s: %w", id, err)
	}
	return w.toGist(), nil
}

// do sends one request. There are no retries: any failure is returned to the caller.
func (c *Client) do(ctx context.Context, method, path string, body, v any) (*github.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := c.gh.NewRequest(method, path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", MediaType)

	c.logger.DebugContext(ctx, "calling GitHub API", "method", method, "path", path)
	resp, err := c.gh.Do(ctx, req, v)
	if err != nil {
		return resp, classify(resp, err)
	}
	return resp, nil
}

func classify(resp *github.Response, err error) error {
	if resp != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return fmt.Errorf("%w: %d: %w", ErrUnexpectedStatus, resp.StatusCode, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return err
}

var _ API = (*Client)(nil)
