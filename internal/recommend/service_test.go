// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package recommend

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/earshot-audio/earshot/internal/cache"
	"github.com/earshot-audio/earshot/internal/catalog"
	"github.com/earshot-audio/earshot/internal/probe"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.sets++
	return nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) DeleteOlderThan(_ context.Context, _ string, _ time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeKV) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

type fakeSearcher struct {
	mu      sync.Mutex
	calls   []string
	results map[string][]catalog.Podcast
}

func (f *fakeSearcher) Search(ctx context.Context, term, _ string, _ int) ([]catalog.Podcast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, term)
	return f.results[term], nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeProber struct {
	mu        sync.Mutex
	cached    map[string]probe.Record
	fetchable map[string]bool
	probed    []string
	delay     time.Duration
	inflight  int
	maxFlight int
	onProbe   func()
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		cached:    make(map[string]probe.Record),
		fetchable: make(map[string]bool),
	}
}

func (f *fakeProber) Probe(ctx context.Context, _, feedURL string) (bool, error) {
	if f.onProbe != nil {
		f.onProbe()
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f.mu.Lock()
	f.probed = append(f.probed, feedURL)
	f.inflight++
	if f.inflight > f.maxFlight {
		f.maxFlight = f.inflight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inflight--
	ok := f.fetchable[feedURL]
	f.mu.Unlock()
	return ok, nil
}

func (f *fakeProber) GetStatus(_ context.Context, _, feedURL string) (probe.Record, cache.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.cached[feedURL]; ok {
		return rec, cache.Fresh
	}
	return probe.Record{}, cache.Absent
}

func (f *fakeProber) probedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

func pods(term string, n int) []catalog.Podcast {
	out := make([]catalog.Podcast, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, catalog.Podcast{
			ID:      int64(i),
			Title:   fmt.Sprintf("%s %d", term, i),
			FeedURL: fmt.Sprintf("https://example.com/%s/%d.xml", term, i),
		})
	}
	return out
}

func markFetchable(p *fakeProber, candidates []catalog.Podcast) {
	for _, c := range candidates {
		p.fetchable[c.FeedURL] = true
	}
}

func newService(t *testing.T, searcher Searcher, prober FeedProber, kv *fakeKV, opts Options) *Service {
	t.Helper()
	mgr := cache.NewManager(kv)
	t.Cleanup(mgr.Close)
	return NewService(searcher, prober, mgr, opts)
}

func TestService_BatchLoadsDesiredGroups(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{
		"news":       pods("news", 5),
		"technology": pods("tech", 5),
	}}
	prober := newFakeProber()
	markFetchable(prober, searcher.results["news"])
	markFetchable(prober, searcher.results["technology"])
	kv := newFakeKV()

	svc := newService(t, searcher, prober, kv, Options{})
	res, err := svc.Batch(context.Background(), "us", "en", 2)
	require.NoError(t, err)

	require.Len(t, res.Groups, 2)
	assert.Equal(t, "news", res.Groups[0].ID)
	assert.Equal(t, "technology", res.Groups[1].ID)
	assert.False(t, res.AllLoaded)
	assert.LessOrEqual(t, len(res.Groups[0].Items), 3, "accept cap bounds group size")
	assert.Equal(t, 2, searcher.callCount(), "loading stops once desired groups are added")
	assert.Equal(t, 2, kv.setCount(), "progress is persisted after each category")
}

func TestService_EmptyCategoriesAreTriedNotGrouped(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{}}
	kv := newFakeKV()

	svc := newService(t, searcher, newFakeProber(), kv, Options{})
	res, err := svc.Batch(context.Background(), "us", "en", 0)
	require.NoError(t, err)

	assert.Empty(t, res.Groups)
	assert.True(t, res.AllLoaded)
	assert.Equal(t, len(Categories), searcher.callCount())
}

func TestService_AllTriedAnswersWithoutFetches(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{}}
	kv := newFakeKV()
	svc := newService(t, searcher, newFakeProber(), kv, Options{})

	ctx := context.Background()
	_, err := svc.Batch(ctx, "us", "en", 0)
	require.NoError(t, err)
	callsAfterFirst := searcher.callCount()

	res, err := svc.Batch(ctx, "us", "en", 0)
	require.NoError(t, err)
	assert.True(t, res.AllLoaded)
	assert.Equal(t, callsAfterFirst, searcher.callCount(), "a fully-tried locale issues no further fetches")
}

func TestService_SecondBatchAddsExactlyOneGroup(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{
		"news":       pods("news", 3),
		"technology": pods("tech", 3),
	}}
	prober := newFakeProber()
	markFetchable(prober, searcher.results["news"])
	markFetchable(prober, searcher.results["technology"])
	kv := newFakeKV()
	svc := newService(t, searcher, prober, kv, Options{})

	ctx := context.Background()
	first, err := svc.Batch(ctx, "us", "en", 1)
	require.NoError(t, err)
	require.Len(t, first.Groups, 1)
	require.Equal(t, "news", first.Groups[0].ID)
	writesAfterFirst := kv.setCount()

	second, err := svc.Batch(ctx, "us", "en", 1)
	require.NoError(t, err)
	require.Len(t, second.Groups, 2)
	assert.Equal(t, "technology", second.Groups[1].ID)
	assert.Equal(t, writesAfterFirst+1, kv.setCount(), "exactly one more cache write")
}

func TestService_ProbePoolWidthIsBounded(t *testing.T) {
	t.Parallel()

	candidates := pods("news", 9)
	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{"news": candidates}}
	prober := newFakeProber()
	prober.delay = 20 * time.Millisecond
	kv := newFakeKV()

	svc := newService(t, searcher, prober, kv, Options{})
	_, err := svc.Batch(context.Background(), "us", "en", 1)
	require.NoError(t, err)

	assert.Len(t, prober.probedURLs(), 9, "every unknown candidate is probed when none is fetchable")
	prober.mu.Lock()
	maxFlight := prober.maxFlight
	prober.mu.Unlock()
	assert.LessOrEqual(t, maxFlight, 3, "no more than pool width probes in flight")
}

func TestService_CachedVerdictsSkipProbing(t *testing.T) {
	t.Parallel()

	known := catalog.Podcast{ID: 1, Title: "known good", FeedURL: "https://example.com/good.xml"}
	bad := catalog.Podcast{ID: 2, Title: "known bad", FeedURL: "https://example.com/bad.xml"}
	unknown := catalog.Podcast{ID: 3, Title: "unknown", FeedURL: "https://example.com/unknown.xml"}

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{
		"news": {known, bad, unknown},
	}}
	prober := newFakeProber()
	prober.cached[known.FeedURL] = probe.Record{OK: true, Reason: probe.ReasonOKDirect}
	prober.cached[bad.FeedURL] = probe.Record{OK: false, Reason: probe.ReasonFetchFailed}
	prober.fetchable[unknown.FeedURL] = true

	svc := newService(t, searcher, prober, newFakeKV(), Options{})
	res, err := svc.Batch(context.Background(), "us", "en", 1)
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	ids := []int64{res.Groups[0].Items[0].ID, res.Groups[0].Items[1].ID}
	assert.ElementsMatch(t, []int64{1, 3}, ids, "cached-good accepted, cached-bad skipped")
	assert.Equal(t, []string{unknown.FeedURL}, prober.probedURLs(), "only the unknown feed is probed")
}

func TestService_DeniedHostsAreNeverQueued(t *testing.T) {
	t.Parallel()

	denied := catalog.Podcast{ID: 1, Title: "platform page", FeedURL: "https://open.spotify.com/show/x"}
	plain := catalog.Podcast{ID: 2, Title: "plain", FeedURL: "https://example.com/feed.xml"}

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{"news": {denied, plain}}}
	prober := newFakeProber()
	prober.fetchable[plain.FeedURL] = true

	svc := newService(t, searcher, prober, newFakeKV(), Options{})
	res, err := svc.Batch(context.Background(), "us", "en", 1)
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, []string{plain.FeedURL}, prober.probedURLs())
}

func TestService_AllowlistedHostsProbedFirst(t *testing.T) {
	t.Parallel()

	unknown := catalog.Podcast{ID: 1, Title: "unknown", FeedURL: "https://example.com/feed.xml"}
	trusted := catalog.Podcast{ID: 2, Title: "trusted", FeedURL: "https://feeds.simplecast.com/abc"}

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{"news": {unknown, trusted}}}
	prober := newFakeProber()
	prober.fetchable[unknown.FeedURL] = true
	prober.fetchable[trusted.FeedURL] = true

	svc := newService(t, searcher, prober, newFakeKV(), Options{PoolWidth: 1})
	_, err := svc.Batch(context.Background(), "us", "en", 1)
	require.NoError(t, err)

	probed := prober.probedURLs()
	require.NotEmpty(t, probed)
	assert.Equal(t, trusted.FeedURL, probed[0], "allow-listed hosts go to the front of the probe queue")
}

func TestService_CancellationLeavesCategoryUntried(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{"news": pods("news", 3)}}
	prober := newFakeProber()
	kv := newFakeKV()
	svc := newService(t, searcher, prober, kv, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	prober.onProbe = cancel

	_, err := svc.Batch(ctx, "us", "en", 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, kv.setCount(), "an interrupted category persists nothing")

	// The next batch resumes the interrupted category.
	prober.onProbe = nil
	markFetchable(prober, searcher.results["news"])
	res, err := svc.Batch(context.Background(), "us", "en", 1)
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, "news", res.Groups[0].ID)
}

func TestService_NewSessionResumesFromPersistedState(t *testing.T) {
	t.Parallel()

	kv := newFakeKV()
	results := map[string][]catalog.Podcast{
		"news":       pods("news", 3),
		"technology": pods("tech", 3),
	}

	searcher1 := &fakeSearcher{results: results}
	prober1 := newFakeProber()
	markFetchable(prober1, results["news"])
	svc1 := newService(t, searcher1, prober1, kv, Options{})

	first, err := svc1.Batch(context.Background(), "us", "en", 1)
	require.NoError(t, err)
	require.Len(t, first.Groups, 1)

	// A fresh process over the same persisted store picks up where the old
	// one stopped.
	searcher2 := &fakeSearcher{results: results}
	prober2 := newFakeProber()
	markFetchable(prober2, results["technology"])
	svc2 := newService(t, searcher2, prober2, kv, Options{})

	second, err := svc2.Batch(context.Background(), "us", "en", 1)
	require.NoError(t, err)
	require.Len(t, second.Groups, 2)
	assert.Equal(t, "news", second.Groups[0].ID, "persisted group survives the restart")
	assert.Equal(t, "technology", second.Groups[1].ID)
	assert.Equal(t, []string{"technology"}, searcher2.calls, "already-tried categories are not re-fetched")
}

func TestService_LocalesAreIndependent(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{"news": pods("news", 3)}}
	prober := newFakeProber()
	markFetchable(prober, searcher.results["news"])
	svc := newService(t, searcher, prober, newFakeKV(), Options{})

	ctx := context.Background()
	_, err := svc.Batch(ctx, "us", "en", 1)
	require.NoError(t, err)
	_, err = svc.Batch(ctx, "de", "de", 1)
	require.NoError(t, err)

	assert.Equal(t, 2, searcher.callCount(), "each locale earns its own groups")
}

func TestService_RefreshRestartsTheLocale(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{results: map[string][]catalog.Podcast{}}
	kv := newFakeKV()
	svc := newService(t, searcher, newFakeProber(), kv, Options{})

	ctx := context.Background()
	_, err := svc.Batch(ctx, "us", "en", 0)
	require.NoError(t, err)
	callsAfterFirst := searcher.callCount()

	svc.Refresh(ctx, "us", "en")
	res, err := svc.Batch(ctx, "us", "en", 0)
	require.NoError(t, err)

	assert.True(t, res.AllLoaded)
	assert.Equal(t, callsAfterFirst*2, searcher.callCount(), "refresh rebuilds every category")
}
