// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fetch

import "fmt"

// NetworkError covers connection failures, CORS-style rejections, and non-2xx
// responses. Status is zero when no response was received.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s returned status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	_, ok := target.(*NetworkError)
	return ok
}

// TimeoutError marks the fetcher's own per-attempt deadline, as opposed to
// caller cancellation. Callers use the distinction for cache policy: a
// timeout may still fall back to stale cache, a cancellation must not.
type TimeoutError struct {
	URL string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch %s timed out", e.URL)
}

func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}

// ParseError marks a response body that could not be decoded as the expected
// format. Terminal for the attempt, but the chain may still try the next
// provider since a relay can mangle content.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse response from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	_, ok := target.(*ParseError)
	return ok
}

// ConfigError marks an unusable target URL or relay base.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}
