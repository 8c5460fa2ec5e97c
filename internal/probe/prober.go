// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package probe answers whether a feed URL can be fetched and parsed from
// here, right now. Verdicts are cached per (country, feed URL) so a broken
// feed is not retried on every recommendation pass.
package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/earshot-audio/earshot/internal/cache"
	"github.com/earshot-audio/earshot/internal/fetch"
)

// Reason tags are diagnostics only; control flow reads OK and nothing else.
const (
	ReasonOKDirect    = "ok_direct"
	ReasonOKProxy     = "ok_proxy"
	ReasonTimeout     = "timeout"
	ReasonBlocklisted = "blocklisted"
	ReasonFetchFailed = "fetch_failed"
)

const defaultTTL = 7 * 24 * time.Hour

// Record is the cached fetchability verdict for one (country, feed URL)
// pair. Every probe overwrites the whole record.
type Record struct {
	OK        bool      `json:"ok"`
	CheckedAt time.Time `json:"checkedAt"`
	Reason    string    `json:"reason"`
}

// Prober validates feed URLs through the resilient fetcher and caches the
// verdicts.
type Prober struct {
	fetcher *fetch.Client
	store   *cache.Store[Record]
	flight  cache.Flight[Record]
	logger  zerolog.Logger
}

// Options tunes the verdict lifetime. Zero fields use the 7-day default.
type Options struct {
	TTL time.Duration
}

func NewProber(fetcher *fetch.Client, caches *cache.Manager, opts Options) *Prober {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	return &Prober{
		fetcher: fetcher,
		store: cache.NewManagedStore[Record](caches, cache.Family{
			Namespace: "fetchable",
			TTL:       ttl,
		}),
		logger: log.Logger.With().Str("module", "probe").Logger(),
	}
}

// GetStatus returns the cached verdict and its age classification without
// probing.
func (p *Prober) GetStatus(ctx context.Context, country, feedURL string) (Record, cache.Status) {
	status, rec := p.store.Read(ctx, p.key(country, feedURL))
	return rec, status
}

// SetStatus overwrites the cached verdict.
func (p *Prober) SetStatus(ctx context.Context, country, feedURL string, rec Record) {
	p.store.Write(ctx, p.key(country, feedURL), rec)
}

// Probe reports whether the feed is fetchable, consulting the cache first.
// A fresh verdict short-circuits; deny-listed hosts are refused without a
// network attempt. Cancellation propagates without a cache write.
func (p *Prober) Probe(ctx context.Context, country, feedURL string) (bool, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return false, &fetch.ConfigError{Reason: "feed url is required"}
	}

	key := p.key(country, feedURL)
	status, cached := p.store.Read(ctx, key)
	if status == cache.Fresh {
		return cached.OK, nil
	}

	if Denied(feedURL) {
		p.SetStatus(ctx, country, feedURL, Record{OK: false, CheckedAt: time.Now().UTC(), Reason: ReasonBlocklisted})
		return false, nil
	}

	rec, err := p.flight.Do(ctx, key, func() (Record, error) {
		return p.attempt(ctx, feedURL)
	})
	if err != nil {
		if fetch.IsCancellation(err) {
			return false, err
		}
		if status == cache.Stale {
			// The remote could not be reached just now; the previous verdict
			// is better than no verdict.
			return cached.OK, nil
		}
		rec = Record{OK: false, CheckedAt: time.Now().UTC(), Reason: reasonFor(err)}
		p.store.Write(ctx, key, rec)
		return false, nil
	}

	p.store.Write(ctx, key, rec)
	return rec.OK, nil
}

// attempt fetches and parses the feed. Parsing happens inside the fetch
// accept hook so a relay that mangles the body triggers the next provider.
func (p *Prober) attempt(ctx context.Context, feedURL string) (Record, error) {
	res, err := p.fetcher.FetchWith(ctx, feedURL, func(body string) error {
		_, parseErr := gofeed.NewParser().ParseString(body)
		return parseErr
	})
	if err != nil {
		return Record{}, err
	}

	reason := ReasonOKDirect
	if res.Via == fetch.ViaProxy {
		reason = ReasonOKProxy
	}
	return Record{OK: true, CheckedAt: time.Now().UTC(), Reason: reason}, nil
}

func (p *Prober) key(country, feedURL string) string {
	return p.store.Key(country, feedURL)
}

func reasonFor(err error) string {
	if fetch.IsTimeout(err) {
		return ReasonTimeout
	}
	var netErr *fetch.NetworkError
	if errors.As(err, &netErr) && netErr.Status > 0 {
		return fmt.Sprintf("http_%d", netErr.Status)
	}
	return ReasonFetchFailed
}
