// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cache

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"
)

// Flight deduplicates concurrent calls for the same cache key: callers that
// arrive while an identical call is in flight share its result instead of
// issuing a duplicate fetch.
type Flight[T any] struct {
	group singleflight.Group
}

// Do executes fn under key, coalescing concurrent callers. A shared result
// carries the leader's error, so a leader that disconnects would cancel its
// followers too; a follower whose own ctx is still live drops the dead
// record and retries as the new leader.
func (f *Flight[T]) Do(ctx context.Context, key string, fn func() (T, error)) (T, error) {
	for {
		v, err, shared := f.group.Do(key, func() (any, error) {
			return fn()
		})
		if err != nil {
			if shared && isCancellation(err) && ctx.Err() == nil {
				f.group.Forget(key)
				continue
			}
			var zero T
			return zero, err
		}
		return v.(T), nil
	}
}

// Forget drops the in-flight record for key so the next call re-executes.
func (f *Flight[T]) Forget(key string) {
	f.group.Forget(key)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
