// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package recommend drives category-by-category population of the
// recommended-podcasts surface. Progress is persisted after every category
// so an interrupted session resumes instead of re-validating feeds it
// already knows about.
package recommend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/earshot-audio/earshot/internal/cache"
	"github.com/earshot-audio/earshot/internal/catalog"
	"github.com/earshot-audio/earshot/internal/fetch"
	"github.com/earshot-audio/earshot/internal/probe"
)

const (
	defaultPoolWidth   = 3
	defaultAcceptCap   = 3
	defaultSearchLimit = 25
	defaultStateTTL    = 6 * time.Hour
)

// Group is one populated recommendation category. Immutable once appended;
// refresh replaces whole groups, never mutates them.
type Group struct {
	ID    string            `json:"id"`
	Label string            `json:"label"`
	Term  string            `json:"term"`
	Items []catalog.Podcast `json:"items"`
}

// BatchResult is what one batch call hands back to the caller.
type BatchResult struct {
	Groups    []Group `json:"groups"`
	AllLoaded bool    `json:"allLoaded"`
}

// savedState is the persisted per-locale progress snapshot.
type savedState struct {
	Groups    []Group  `json:"groups"`
	Tried     []string `json:"tried"`
	AllLoaded bool     `json:"allLoaded"`
}

// Searcher is the catalog capability the loader consumes.
type Searcher interface {
	Search(ctx context.Context, term, country string, limit int) ([]catalog.Podcast, error)
}

// FeedProber is the fetchability capability the loader consumes.
type FeedProber interface {
	Probe(ctx context.Context, country, feedURL string) (bool, error)
	GetStatus(ctx context.Context, country, feedURL string) (probe.Record, cache.Status)
}

type localeState struct {
	groups []Group
	tried  map[string]struct{}
	seeded bool
}

// Options tunes pool width, per-category accept cap, and candidate count.
// Zero fields use the defaults.
type Options struct {
	PoolWidth   int
	AcceptCap   int
	SearchLimit int
	StateTTL    time.Duration
}

// Service is the per-locale batch loader.
type Service struct {
	searcher Searcher
	prober   FeedProber
	store    *cache.Store[savedState]
	flight   cache.Flight[BatchResult]
	logger   zerolog.Logger

	mu     sync.Mutex
	states map[string]*localeState

	poolWidth   int
	acceptCap   int
	searchLimit int
}

func NewService(searcher Searcher, prober FeedProber, caches *cache.Manager, opts Options) *Service {
	if opts.PoolWidth <= 0 {
		opts.PoolWidth = defaultPoolWidth
	}
	if opts.AcceptCap <= 0 {
		opts.AcceptCap = defaultAcceptCap
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = defaultSearchLimit
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = defaultStateTTL
	}

	return &Service{
		searcher: searcher,
		prober:   prober,
		store: cache.NewManagedStore[savedState](caches, cache.Family{
			Namespace: "recommended",
			TTL:       opts.StateTTL,
		}),
		logger:      log.Logger.With().Str("module", "recommend").Logger(),
		states:      make(map[string]*localeState),
		poolWidth:   opts.PoolWidth,
		acceptCap:   opts.AcceptCap,
		searchLimit: opts.SearchLimit,
	}
}

// Batch adds up to desired new groups for the locale, resuming from
// persisted progress. Concurrent calls for the same locale share one pass.
// Cancellation mid-category leaves that category untried and unpersisted.
func (s *Service) Batch(ctx context.Context, country, language string, desired int) (BatchResult, error) {
	if desired <= 0 || desired > len(Categories) {
		desired = len(Categories)
	}

	key := s.store.Key(country, language)
	return s.flight.Do(ctx, key, func() (BatchResult, error) {
		return s.batch(ctx, key, country, desired)
	})
}

func (s *Service) batch(ctx context.Context, key, country string, desired int) (BatchResult, error) {
	st := s.state(ctx, key)
	added := 0

	for _, cat := range Categories {
		if err := ctx.Err(); err != nil {
			return BatchResult{}, err
		}
		if added >= desired {
			break
		}
		if _, done := st.tried[cat.ID]; done {
			continue
		}

		candidates, err := s.searcher.Search(ctx, cat.Term, country, s.searchLimit)
		if err != nil {
			if fetch.IsCancellation(err) {
				return BatchResult{}, err
			}
			// Leave the category untried so a later batch retries it.
			s.logger.Debug().Err(err).Str("category", cat.ID).Msg("Candidate fetch failed, skipping category for now")
			continue
		}

		items, err := s.pickFetchable(ctx, country, candidates)
		if err != nil {
			return BatchResult{}, err
		}

		st.tried[cat.ID] = struct{}{}
		if len(items) > 0 {
			st.groups = append(st.groups, Group{ID: cat.ID, Label: cat.Label, Term: cat.Term, Items: items})
			added++
		}
		s.persist(ctx, key, st)
	}

	return BatchResult{
		Groups:    append([]Group(nil), st.groups...),
		AllLoaded: len(st.tried) >= len(Categories),
	}, nil
}

// state returns the in-memory locale state, seeding it from the persisted
// snapshot on first use so a new session resumes where the last one left off.
func (s *Service) state(ctx context.Context, key string) *localeState {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		st = &localeState{tried: make(map[string]struct{})}
		s.states[key] = st
	}
	s.mu.Unlock()

	if st.seeded {
		return st
	}
	st.seeded = true

	status, saved := s.store.Read(ctx, key)
	if !status.Usable() {
		return st
	}
	st.groups = saved.Groups
	for _, id := range saved.Tried {
		if _, known := categoryByID(id); known {
			st.tried[id] = struct{}{}
		}
	}
	return st
}

// Refresh discards the locale's progress so the next batch rebuilds it.
func (s *Service) Refresh(ctx context.Context, country, language string) {
	key := s.store.Key(country, language)

	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()

	s.store.Write(ctx, key, savedState{})
}

// pickFetchable selects up to acceptCap candidates whose feeds are
// fetchable. Cached verdicts answer immediately; unknown feeds are probed by
// a bounded pool, allow-listed hosts first. The only error it returns is
// caller cancellation.
func (s *Service) pickFetchable(ctx context.Context, country string, candidates []catalog.Podcast) ([]catalog.Podcast, error) {
	accepted := make([]catalog.Podcast, 0, s.acceptCap)
	queue := make([]catalog.Podcast, 0, len(candidates))

	for _, c := range candidates {
		rec, status := s.prober.GetStatus(ctx, country, c.FeedURL)
		if status.Usable() {
			if rec.OK && len(accepted) < s.acceptCap {
				accepted = append(accepted, c)
			}
			continue
		}
		if probe.Denied(c.FeedURL) {
			continue
		}
		queue = append(queue, c)
	}

	if len(accepted) >= s.acceptCap || len(queue) == 0 {
		return accepted, ctx.Err()
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return probe.Allowlisted(queue[i].FeedURL) && !probe.Allowlisted(queue[j].FeedURL)
	})

	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()

	var mu sync.Mutex
	next := 0

	g, poolCtx := errgroup.WithContext(poolCtx)
	width := s.poolWidth
	if width > len(queue) {
		width = len(queue)
	}
	for w := 0; w < width; w++ {
		g.Go(func() error {
			for {
				mu.Lock()
				if len(accepted) >= s.acceptCap || next >= len(queue) {
					mu.Unlock()
					return nil
				}
				candidate := queue[next]
				next++
				mu.Unlock()

				ok, err := s.prober.Probe(poolCtx, country, candidate.FeedURL)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					if fetch.IsCancellation(err) {
						// Pool shutdown after the cap was reached.
						return nil
					}
					continue
				}
				if !ok {
					continue
				}

				mu.Lock()
				reached := false
				if len(accepted) < s.acceptCap {
					accepted = append(accepted, candidate)
					reached = len(accepted) >= s.acceptCap
				}
				mu.Unlock()
				if reached {
					cancelPool()
					return nil
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return accepted, nil
}

func (s *Service) persist(ctx context.Context, key string, st *localeState) {
	tried := make([]string, 0, len(st.tried))
	for id := range st.tried {
		tried = append(tried, id)
	}
	sort.Strings(tried)

	s.store.Write(ctx, key, savedState{
		Groups:    append([]Group(nil), st.groups...),
		Tried:     tried,
		AllLoaded: len(tried) >= len(Categories),
	})
}
