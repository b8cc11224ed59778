// Package oembed looks up public metadata (title, channel, thumbnail) for a
// media reference through YouTube's oEmbed endpoint.
package oembed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goburrow/cache"

	"github.com/ytget/qrplay/errs"
	"github.com/ytget/qrplay/internal/logger"
	"github.com/ytget/qrplay/pkg/client"
	"github.com/ytget/qrplay/types"
)

const (
	// Endpoint is the public oEmbed endpoint.
	Endpoint = "https://www.youtube.com/oembed"

	defaultCacheSize = 256
	defaultCacheTTL  = time.Hour
)

// response is the subset of the oEmbed document we use.
type response struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	AuthorURL    string `json:"author_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Type         string `json:"type"`
}

// Client performs cached oEmbed lookups.
type Client struct {
	endpoint string
	http     *client.Client
	cache    cache.Cache
	log      *logger.ComponentLogger
}

// New returns a client using httpClient, or a default one when nil.
func New(httpClient *client.Client) *Client {
	if httpClient == nil {
		httpClient = client.New()
	}
	return &Client{
		endpoint: Endpoint,
		http:     httpClient,
		cache:    newCache(defaultCacheSize, defaultCacheTTL),
		log:      logger.WithComponent(logger.ComponentOEmbed),
	}
}

// WithEndpoint points the client at another oEmbed endpoint.
func (c *Client) WithEndpoint(endpoint string) *Client {
	c.endpoint = endpoint
	return c
}

// WithCache replaces the result cache. A non-positive size disables caching.
func (c *Client) WithCache(size int, ttl time.Duration) *Client {
	if size <= 0 {
		c.cache = nil
		return c
	}
	c.cache = newCache(size, ttl)
	return c
}

func newCache(size int, ttl time.Duration) cache.Cache {
	return cache.New(
		cache.WithMaximumSize(size),
		cache.WithExpireAfterWrite(ttl),
	)
}

// Lookup returns the metadata for ref. Results are cached per video id since
// both services play the same video.
func (c *Client) Lookup(ctx context.Context, ref types.MediaReference) (types.VideoInfo, error) {
	if !ref.Valid() {
		return types.VideoInfo{}, errs.ErrNothingLoaded
	}
	key := ref.VideoID()
	if c.cache != nil {
		if v, ok := c.cache.GetIfPresent(key); ok {
			c.log.Trace("Cache hit", map[string]interface{}{"id": key})
			return v.(types.VideoInfo), nil
		}
	}

	info, err := c.fetch(ctx, key)
	if err != nil {
		c.log.Warn("Lookup failed", map[string]interface{}{"id": key, "error": err})
		return types.VideoInfo{}, err
	}
	if c.cache != nil {
		c.cache.Put(key, info)
	}
	c.log.Debug("Lookup succeeded", map[string]interface{}{"id": key, "title": info.Title})
	return info, nil
}

func (c *Client) fetch(ctx context.Context, videoID string) (types.VideoInfo, error) {
	q := url.Values{}
	q.Set("url", "https://www.youtube.com/watch?v="+videoID)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return types.VideoInfo{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return types.VideoInfo{}, fmt.Errorf("oembed request: %w", err)
	}
	body, err := client.ReadBody(resp)
	if err != nil {
		return types.VideoInfo{}, err
	}

	if err := statusError(resp.StatusCode); err != nil {
		return types.VideoInfo{}, fmt.Errorf("oembed %s: %w", videoID, err)
	}

	var doc response
	if err := json.Unmarshal(body, &doc); err != nil {
		return types.VideoInfo{}, fmt.Errorf("failed to parse oembed response: %w", err)
	}
	return types.VideoInfo{
		Title:        doc.Title,
		Author:       doc.AuthorName,
		AuthorURL:    doc.AuthorURL,
		ThumbnailURL: doc.ThumbnailURL,
	}, nil
}

// statusError maps oEmbed HTTP statuses to sentinel errors.
func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return errs.ErrNotEmbeddable
	case code == http.StatusNotFound, code == http.StatusBadRequest:
		return errs.ErrVideoUnavailable
	case code == http.StatusTooManyRequests:
		return errs.ErrRateLimited
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}
