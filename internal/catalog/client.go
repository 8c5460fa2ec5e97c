// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package catalog wraps the remote podcast catalog: keyword search, chunked
// ID lookup, and the country chart feed. Search and chart results are served
// through the TTL cache; lookups are cheap enough to always hit the remote.
package catalog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/earshot-audio/earshot/internal/cache"
	"github.com/earshot-audio/earshot/internal/fetch"
)

const (
	defaultSearchURL = "https://itunes.apple.com/search"
	defaultLookupURL = "https://itunes.apple.com/lookup"
	defaultChartURL  = "https://rss.applemarketingtools.com/api/v2/%s/podcasts/top/%d/podcasts.json"

	// LookupChunkSize bounds how many IDs one lookup request carries.
	LookupChunkSize = 50

	defaultSearchTTL      = 30 * time.Minute
	defaultNegativeTTL    = 10 * time.Minute
	defaultSearchHorizon  = 3 * time.Hour
	defaultChartTTL       = 24 * time.Hour
	defaultChartHorizon   = 72 * time.Hour
	defaultSearchLimit    = 25
	defaultChartChunkSize = LookupChunkSize
)

// Options tunes cache lifetimes. Zero fields use the defaults above.
type Options struct {
	SearchTTL   time.Duration
	NegativeTTL time.Duration
	ChartTTL    time.Duration
}

// Client resolves catalog endpoints through the resilient fetcher.
type Client struct {
	fetcher *fetch.Client
	logger  zerolog.Logger

	searchStore *cache.Store[[]Podcast]
	chartStore  *cache.Store[[]Podcast]
	flight      cache.Flight[[]Podcast]

	searchURL string
	lookupURL string
	chartURL  string
}

func NewClient(fetcher *fetch.Client, caches *cache.Manager, opts Options) *Client {
	searchTTL := opts.SearchTTL
	if searchTTL <= 0 {
		searchTTL = defaultSearchTTL
	}
	negativeTTL := opts.NegativeTTL
	if negativeTTL <= 0 {
		negativeTTL = defaultNegativeTTL
	}
	chartTTL := opts.ChartTTL
	if chartTTL <= 0 {
		chartTTL = defaultChartTTL
	}

	return &Client{
		fetcher: fetcher,
		logger:  log.Logger.With().Str("module", "catalog").Logger(),
		searchStore: cache.NewManagedStore[[]Podcast](caches, cache.Family{
			Namespace:    "search",
			TTL:          searchTTL,
			NegativeTTL:  negativeTTL,
			PurgeHorizon: defaultSearchHorizon,
		}),
		chartStore: cache.NewManagedStore[[]Podcast](caches, cache.Family{
			Namespace:    "chart",
			TTL:          chartTTL,
			NegativeTTL:  negativeTTL,
			PurgeHorizon: defaultChartHorizon,
		}),
		searchURL: defaultSearchURL,
		lookupURL: defaultLookupURL,
		chartURL:  defaultChartURL,
	}
}

// Search runs a keyword search, serving cached results when fresh and
// falling back to stale cache if the remote cannot be reached.
func (c *Client) Search(ctx context.Context, term, country string, limit int) ([]Podcast, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &fetch.ConfigError{Reason: "search term is required"}
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	key := c.searchStore.Key(country, strconv.Itoa(limit), term)
	status, cached := c.searchStore.Read(ctx, key)
	if status == cache.Fresh {
		return cached, nil
	}

	results, err := c.flight.Do(ctx, key, func() ([]Podcast, error) {
		return c.fetchSearch(ctx, term, country, limit, key)
	})
	if err != nil {
		if fetch.IsCancellation(err) {
			return nil, err
		}
		if status == cache.Stale {
			c.logger.Debug().Err(err).Str("term", term).Msg("Search failed, serving stale cache")
			return cached, nil
		}
		return nil, err
	}
	return results, nil
}

func (c *Client) fetchSearch(ctx context.Context, term, country string, limit int, key string) ([]Podcast, error) {
	q := url.Values{}
	q.Set("media", "podcast")
	q.Set("entity", "podcast")
	q.Set("term", term)
	q.Set("limit", strconv.Itoa(limit))
	if country != "" {
		q.Set("country", country)
	}

	var resp searchResponse
	if _, err := c.fetcher.FetchJSON(ctx, c.searchURL+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	results := normalizeEntries(resp.Results)
	if len(results) == 0 {
		c.searchStore.WriteNegative(ctx, key, results)
	} else {
		c.searchStore.Write(ctx, key, results)
	}
	return results, nil
}

// LookupByIDs resolves catalog entries by ID, issuing sequential chunked
// requests. Cancellation stops before the next chunk is sent.
func (c *Client) LookupByIDs(ctx context.Context, ids []int64, country string) ([]Podcast, error) {
	results := make([]Podcast, 0, len(ids))

	for start := 0; start < len(ids); start += LookupChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + LookupChunkSize
		if end > len(ids) {
			end = len(ids)
		}

		joined := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			joined = append(joined, strconv.FormatInt(id, 10))
		}

		q := url.Values{}
		q.Set("id", strings.Join(joined, ","))
		q.Set("entity", "podcast")
		if country != "" {
			q.Set("country", country)
		}

		var resp searchResponse
		if _, err := c.fetcher.FetchJSON(ctx, c.lookupURL+"?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		results = append(results, normalizeEntries(resp.Results)...)
	}

	return results, nil
}

// TopPodcasts returns the country chart, resolved through the lookup
// endpoint so every entry carries a feed URL. Results are cached for a day.
func (c *Client) TopPodcasts(ctx context.Context, country string, limit int) ([]Podcast, error) {
	if country == "" {
		return nil, &fetch.ConfigError{Reason: "country is required"}
	}
	if limit <= 0 || limit > 100 {
		limit = defaultChartChunkSize
	}

	key := c.chartStore.Key(country, strconv.Itoa(limit))
	status, cached := c.chartStore.Read(ctx, key)
	if status == cache.Fresh {
		return cached, nil
	}

	results, err := c.flight.Do(ctx, key, func() ([]Podcast, error) {
		return c.fetchChart(ctx, country, limit, key)
	})
	if err != nil {
		if fetch.IsCancellation(err) {
			return nil, err
		}
		if status == cache.Stale {
			c.logger.Debug().Err(err).Str("country", country).Msg("Chart fetch failed, serving stale cache")
			return cached, nil
		}
		return nil, err
	}
	return results, nil
}

func (c *Client) fetchChart(ctx context.Context, country string, limit int, key string) ([]Podcast, error) {
	target := fmt.Sprintf(c.chartURL, strings.ToLower(country), limit)

	var chart chartResponse
	if _, err := c.fetcher.FetchJSON(ctx, target, &chart); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(chart.Feed.Results))
	rankByID := make(map[int64]int, len(chart.Feed.Results))
	for i, entry := range chart.Feed.Results {
		id, err := strconv.ParseInt(entry.ID, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		ids = append(ids, id)
		rankByID[id] = i + 1
	}

	resolved, err := c.LookupByIDs(ctx, ids, country)
	if err != nil {
		return nil, err
	}

	// Lookup returns entries in arbitrary order and drops unusable ones;
	// restore chart order and attach ranks.
	byID := make(map[int64]Podcast, len(resolved))
	for _, p := range resolved {
		byID[p.ID] = p
	}
	results := make([]Podcast, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			continue
		}
		p.Rank = rankByID[id]
		results = append(results, p)
	}

	if len(results) == 0 {
		c.chartStore.WriteNegative(ctx, key, results)
	} else {
		c.chartStore.Write(ctx, key, results)
	}
	return results, nil
}

func normalizeEntries(entries []searchEntry) []Podcast {
	results := make([]Podcast, 0, len(entries))
	for _, e := range entries {
		if p, ok := e.normalize(); ok {
			results = append(results, p)
		}
	}
	return results
}
