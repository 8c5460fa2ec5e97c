// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKV struct {
	mu      sync.Mutex
	data    map[string][]byte
	stamps  map[string]time.Time
	failSet bool
	gets    int
	sets    int
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte), stamps: make(map[string]time.Time)}
}

func (f *fakeKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet {
		return errors.New("quota exceeded")
	}
	f.sets++
	f.data[key] = value
	f.stamps[key] = time.Now()
	return nil
}

func (f *fakeKV) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	delete(f.stamps, key)
	return nil
}

func (f *fakeKV) DeleteOlderThan(_ context.Context, prefix string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for k, at := range f.stamps {
		if strings.HasPrefix(k, prefix) && at.Before(cutoff) {
			delete(f.data, k)
			delete(f.stamps, k)
			deleted++
		}
	}
	return deleted, nil
}

func testFamily() Family {
	return Family{
		Namespace:   "test",
		TTL:         30 * time.Minute,
		NegativeTTL: 10 * time.Minute,
	}
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	kv := newFakeKV()
	store := NewStore[string](kv, testFamily())
	ctx := context.Background()

	key := store.Key("US", "news")
	store.Write(ctx, key, "hello")

	status, value := store.Read(ctx, key)
	assert.Equal(t, Fresh, status)
	assert.Equal(t, "hello", value)
}

func TestStore_KeyNormalization(t *testing.T) {
	store := NewStore[string](nil, testFamily())

	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{
			name:  "lowercases and trims",
			parts: []string{" US ", "News"},
			want:  "test:us:news",
		},
		{
			name:  "already normalized",
			parts: []string{"us", "news"},
			want:  "test:us:news",
		},
		{
			name:  "empty part kept as separator",
			parts: []string{"us", ""},
			want:  "test:us:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, store.Key(tt.parts...))
		})
	}
}

func TestStore_AgeClassification(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		negative bool
		want     Status
	}{
		{name: "within ttl is fresh", age: 10 * time.Minute, want: Fresh},
		{name: "past ttl is stale", age: 45 * time.Minute, want: Stale},
		{name: "at purge horizon is stale", age: 90 * time.Minute, want: Stale},
		{name: "past purge horizon is expired", age: 2 * time.Hour, want: Expired},
		{name: "negative entry expires on shorter ttl", age: 15 * time.Minute, negative: true, want: Stale},
		{name: "negative entry within negative ttl", age: 5 * time.Minute, negative: true, want: Fresh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore[int](newFakeKV(), testFamily())
			ctx := context.Background()
			key := store.Key("k")

			base := time.Now()
			store.now = func() time.Time { return base }
			if tt.negative {
				store.WriteNegative(ctx, key, 42)
			} else {
				store.Write(ctx, key, 42)
			}

			store.now = func() time.Time { return base.Add(tt.age) }
			status, value := store.Read(ctx, key)
			assert.Equal(t, tt.want, status)
			if tt.want.Usable() {
				assert.Equal(t, 42, value)
			} else {
				assert.Zero(t, value)
			}
		})
	}
}

func TestStore_PurgeDropsExpiredEntries(t *testing.T) {
	kv := newFakeKV()
	store := NewStore[string](kv, testFamily())
	ctx := context.Background()

	key := store.Key("old")
	store.Write(ctx, key, "value")

	// Backdate the persisted row so the purge pass sees it as expired.
	kv.mu.Lock()
	kv.stamps[key] = time.Now().Add(-3 * time.Hour)
	kv.mu.Unlock()

	deleted, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, found, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_PersistenceFailureDegradesToMemory(t *testing.T) {
	kv := newFakeKV()
	kv.failSet = true
	store := NewStore[string](kv, testFamily())
	ctx := context.Background()

	key := store.Key("k")
	store.Write(ctx, key, "survives")

	// The value is still served from the memory layer.
	status, value := store.Read(ctx, key)
	assert.Equal(t, Fresh, status)
	assert.Equal(t, "survives", value)
	assert.True(t, store.memOnly.Load())

	// Later writes stop touching the KV entirely.
	store.Write(ctx, store.Key("k2"), "memory only")
	assert.Zero(t, kv.sets)
}

func TestStore_CancelledWriteDoesNotDegrade(t *testing.T) {
	kv := newFakeKV()
	store := NewStore[string](kv, testFamily())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// A caller that disconnects mid-write must not poison persistence for
	// everyone after it.
	store.Write(cancelled, store.Key("k"), "lost")
	assert.False(t, store.memOnly.Load())

	ctx := context.Background()
	store.Write(ctx, store.Key("k2"), "persisted")
	assert.Equal(t, 1, kv.sets)

	restarted := NewStore[string](kv, testFamily())
	status, value := restarted.Read(ctx, restarted.Key("k2"))
	assert.Equal(t, Fresh, status)
	assert.Equal(t, "persisted", value)
}

func TestStore_CancelledReadDoesNotDegrade(t *testing.T) {
	kv := newFakeKV()
	store := NewStore[string](kv, testFamily())
	ctx := context.Background()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	status, _ := store.Read(cancelled, store.Key("missing"))
	assert.Equal(t, Absent, status)
	assert.False(t, store.memOnly.Load())

	store.Write(ctx, store.Key("k"), "still persisted")
	assert.Equal(t, 1, kv.sets)
}

func TestStore_MalformedPersistedValueIsAbsent(t *testing.T) {
	kv := newFakeKV()
	store := NewStore[string](kv, testFamily())
	ctx := context.Background()

	key := store.Key("bad")
	require.NoError(t, kv.Set(ctx, key, []byte("not json at all")))

	status, _ := store.Read(ctx, key)
	assert.Equal(t, Absent, status)

	// The broken row is cleared so it is not re-decoded every read.
	_, found, err := kv.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_ReadThroughPopulatesMemoryLayer(t *testing.T) {
	kv := newFakeKV()
	ctx := context.Background()

	writer := NewStore[string](kv, testFamily())
	key := writer.Key("shared")
	writer.Write(ctx, key, "persisted")

	// A second store over the same KV simulates a process restart.
	reader := NewStore[string](kv, testFamily())
	status, value := reader.Read(ctx, key)
	require.Equal(t, Fresh, status)
	assert.Equal(t, "persisted", value)

	before := kv.gets
	status, _ = reader.Read(ctx, key)
	assert.Equal(t, Fresh, status)
	assert.Equal(t, before, kv.gets, "second read should hit the memory layer")
}

func TestFlight_DeduplicatesConcurrentCalls(t *testing.T) {
	var flight Flight[int]
	var calls int
	var mu sync.Mutex

	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]int, 10)

	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := flight.Do(context.Background(), "key", func() (int, error) {
				mu.Lock()
				calls++
				mu.Unlock()
				<-release
				return 7, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// Give the goroutines a moment to pile onto the same key.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, calls, "all callers should share one execution")
	for _, v := range results {
		assert.Equal(t, 7, v)
	}
}

func TestFlight_FollowerRetriesAfterLeaderDisconnect(t *testing.T) {
	var flight Flight[string]

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderStarted := make(chan struct{})
	release := make(chan struct{})

	leaderDone := make(chan error, 1)
	go func() {
		_, err := flight.Do(leaderCtx, "key", func() (string, error) {
			close(leaderStarted)
			<-release
			return "", leaderCtx.Err()
		})
		leaderDone <- err
	}()
	<-leaderStarted

	followerDone := make(chan struct{})
	var followerValue string
	var followerErr error
	go func() {
		defer close(followerDone)
		followerValue, followerErr = flight.Do(context.Background(), "key", func() (string, error) {
			return "refetched", nil
		})
	}()

	// Let the follower join the in-flight call before the leader drops out.
	time.Sleep(20 * time.Millisecond)
	cancelLeader()
	close(release)

	require.ErrorIs(t, <-leaderDone, context.Canceled)
	<-followerDone
	require.NoError(t, followerErr)
	assert.Equal(t, "refetched", followerValue, "a live follower should retry instead of inheriting the leader's cancellation")
}
