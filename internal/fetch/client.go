// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fetch performs resilient text/JSON fetches against third-party
// hosts: direct access first, then the CORS relay chain, with a per-attempt
// timeout that stays distinguishable from caller cancellation.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/earshot-audio/earshot/internal/buildinfo"
	"github.com/earshot-audio/earshot/internal/relay"
)

const maxBodyBytes int64 = 8 << 20 // 8 MiB cap on feed/chart documents

// DefaultTimeout bounds a single attempt when no timeout is configured.
const DefaultTimeout = 12 * time.Second

// Via records which path produced a successful response.
type Via string

const (
	ViaDirect Via = "direct"
	ViaProxy  Via = "proxy"
)

// Result is a successful fetch: the body text and the path that produced it.
type Result struct {
	Body string
	Via  Via
}

// Client is the resilient fetcher. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	resolver   *relay.Resolver
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewClient creates a Client using the given relay resolver. timeout bounds
// each individual attempt; zero means DefaultTimeout.
func NewClient(resolver *relay.Resolver, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		// No cookie jar: credentials never cross to third-party hosts.
		httpClient: &http.Client{},
		resolver:   resolver,
		timeout:    timeout,
		logger:     log.Logger.With().Str("module", "fetch").Logger(),
	}
}

// FetchText retrieves target as text, falling back through the relay chain.
func (c *Client) FetchText(ctx context.Context, target string) (*Result, error) {
	return c.FetchWith(ctx, target, nil)
}

// FetchJSON retrieves target and unmarshals it into out. A body that is not
// valid JSON counts as a failed attempt and the chain moves on, since a
// relay can mangle content.
func (c *Client) FetchJSON(ctx context.Context, target string, out any) (*Result, error) {
	return c.FetchWith(ctx, target, func(body string) error {
		return json.Unmarshal([]byte(body), out)
	})
}

// FetchWith retrieves target and runs accept over each candidate body. An
// accept failure is a ParseError for that attempt; the next provider in the
// chain is still tried. accept may be nil.
func (c *Client) FetchWith(ctx context.Context, target string, accept func(body string) error) (*Result, error) {
	if strings.TrimSpace(target) == "" {
		return nil, &ConfigError{Reason: "target url is required"}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	try := func(rawURL string, wrapped bool, via Via) (*Result, error) {
		body, err := c.attempt(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if wrapped {
			body, err = unwrapEnvelope(rawURL, body)
			if err != nil {
				return nil, err
			}
		}
		if accept != nil {
			if err := accept(body); err != nil {
				return nil, &ParseError{URL: rawURL, Err: err}
			}
		}
		return &Result{Body: body, Via: via}, nil
	}

	result, err := try(target, false, ViaDirect)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	lastErr := err

	for _, provider := range c.resolver.Providers() {
		attempts, aerr := relay.Attempts(provider, target)
		if aerr != nil {
			return nil, &ConfigError{Reason: aerr.Error()}
		}
		for _, attempt := range attempts {
			result, err = try(attempt.URL, attempt.Wrapped, ViaProxy)
			if err == nil {
				return result, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug().Err(err).
				Str("provider", provider.Kind.String()).
				Str("target", target).
				Msg("Relay attempt failed")
			lastErr = err
		}
	}

	return nil, lastErr
}

// attempt issues one GET bounded by the client's own timeout. The returned
// error distinguishes the internal deadline from caller cancellation.
func (c *Client) attempt(ctx context.Context, rawURL string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &ConfigError{Reason: fmt.Sprintf("build request for %s: %v", rawURL, err)}
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Accept", "application/json, application/rss+xml, application/xml, text/xml, text/plain, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller's own cancellation wins over everything else.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{URL: rawURL}
		}
		return "", &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", &TimeoutError{URL: rawURL}
		}
		return "", &NetworkError{URL: rawURL, Err: err}
	}
	if int64(len(data)) > maxBodyBytes {
		return "", &NetworkError{URL: rawURL, Err: fmt.Errorf("body exceeded %d bytes limit", maxBodyBytes)}
	}

	return string(data), nil
}

// envelope is the default relay's "get" mode response shape.
type envelope struct {
	Contents string `json:"contents"`
}

func unwrapEnvelope(rawURL, body string) (string, error) {
	var env envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return "", &ParseError{URL: rawURL, Err: err}
	}
	if env.Contents == "" {
		return "", &ParseError{URL: rawURL, Err: fmt.Errorf("relay envelope has no contents")}
	}
	return env.Contents, nil
}

// IsTimeout reports whether err is the fetcher's internal timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, &TimeoutError{})
}

// IsCancellation reports whether err is a caller-requested abort.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
