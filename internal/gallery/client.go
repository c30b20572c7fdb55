// Package gallery lists the collection's minted tokens from a marketplace
// indexer. Responses are cached briefly; the indexer lags the chain anyway,
// so hammering it buys nothing.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Defaults.
const (
	DefaultCacheTTL  = 60 * time.Second
	DefaultPageLimit = 100
	DefaultTimeout   = 15 * time.Second
)

// Item is one listed token.
type Item struct {
	TokenID   int64
	Name      string
	Image     string
	Owner     string
	Composite bool
}

// Client queries the marketplace token API for one collection.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	cacheTTL   time.Duration
	pageLimit  int

	mu        sync.Mutex
	cached    []Item
	fetchedAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithCacheTTL sets how long a listing is served from cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cacheTTL = ttl }
}

// WithPageLimit sets the per-request token limit.
func WithPageLimit(n int) Option {
	return func(c *Client) { c.pageLimit = n }
}

// NewClient creates a gallery client for the collection contract address.
func NewClient(baseURL, collection string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if collection == "" {
		return nil, errors.New("collection address is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		cacheTTL:   DefaultCacheTTL,
		pageLimit:  DefaultPageLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// tokenResponse is the indexer's wire format.
type tokenResponse struct {
	Tokens []struct {
		Token struct {
			TokenID string `json:"tokenId"`
			Name    string `json:"name"`
			Image   string `json:"image"`
			Owner   string `json:"owner"`
		} `json:"token"`
	} `json:"tokens"`
	Continuation string `json:"continuation"`
}

// List returns the collection's tokens, served from cache when fresh.
func (c *Client) List(ctx context.Context) ([]Item, error) {
	c.mu.Lock()
	if c.cached != nil && time.Since(c.fetchedAt) < c.cacheTTL {
		items := c.cached
		c.mu.Unlock()
		return items, nil
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh bypasses the cache and refetches the listing.
func (c *Client) Refresh(ctx context.Context) ([]Item, error) {
	items, err := c.fetchAll(ctx, "/tokens/v6")
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cached = items
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return items, nil
}

// ListByOwner returns the collection tokens held by one address. Holdings
// change with every wallet action, so these are never cached.
func (c *Client) ListByOwner(ctx context.Context, owner string) ([]Item, error) {
	if owner == "" {
		return nil, errors.New("owner address is required")
	}
	items, err := c.fetchAll(ctx, "/users/"+url.PathEscape(owner)+"/tokens/v6")
	if err != nil {
		return nil, err
	}
	// The per-user endpoint omits the owner on each token.
	for i := range items {
		if items[i].Owner == "" {
			items[i].Owner = owner
		}
	}
	return items, nil
}

func (c *Client) fetchAll(ctx context.Context, path string) ([]Item, error) {
	var items []Item
	continuation := ""
	for {
		page, next, err := c.fetchPage(ctx, path, continuation)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)
		if next == "" {
			break
		}
		continuation = next
	}
	return items, nil
}

func (c *Client) fetchPage(ctx context.Context, path, continuation string) ([]Item, string, error) {
	q := url.Values{}
	q.Set("collection", c.collection)
	q.Set("limit", strconv.Itoa(c.pageLimit))
	if continuation != "" {
		q.Set("continuation", continuation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("gallery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("gallery returned status %d", resp.StatusCode)
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, "", fmt.Errorf("decode gallery response: %w", err)
	}

	items := make([]Item, 0, len(decoded.Tokens))
	for _, entry := range decoded.Tokens {
		tok := entry.Token
		// The collection contract also mints unrelated test tokens on some
		// deployments; keep only the canvas naming convention.
		isPixel := strings.HasPrefix(tok.Name, "Pixel (")
		isComposite := strings.HasPrefix(tok.Name, "Composite")
		if !isPixel && !isComposite {
			continue
		}
		id, err := strconv.ParseInt(tok.TokenID, 10, 64)
		if err != nil {
			continue
		}
		items = append(items, Item{
			TokenID:   id,
			Name:      tok.Name,
			Image:     tok.Image,
			Owner:     tok.Owner,
			Composite: isComposite,
		})
	}
	return items, decoded.Continuation, nil
}
