// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package relay resolves the ordered list of CORS relay providers used by
// the resilient fetcher when a direct fetch fails.
package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultBase is the built-in public relay. Its "get" mode wraps the target
// body in a JSON envelope; its "raw" mode returns the body directly.
const DefaultBase = "https://api.allorigins.win"

// Placeholder marks the insertion point for the encoded target URL in a
// custom relay template.
const Placeholder = "{url}"

// Kind tags a Provider variant.
type Kind int

const (
	// KindDefault is the built-in public relay.
	KindDefault Kind = iota
	// KindCustom is an operator-configured relay.
	KindCustom
)

func (k Kind) String() string {
	if k == KindCustom {
		return "custom"
	}
	return "default"
}

// Provider is one relay in the fallback chain.
type Provider struct {
	Kind Kind
	Base string
}

// Attempt is a single proxied request the fetcher should issue. Wrapped
// indicates the response body is the default relay's JSON envelope and must
// be unwrapped before use.
type Attempt struct {
	URL     string
	Wrapped bool
}

// Resolver determines provider order from configuration.
type Resolver struct {
	defaultBase   string
	customBase    string
	customPrimary bool
}

// NewResolver builds a Resolver. customBase may be empty; customPrimary
// moves the custom relay ahead of the default one.
func NewResolver(customBase string, customPrimary bool) *Resolver {
	return NewResolverWithDefault(DefaultBase, customBase, customPrimary)
}

// NewResolverWithDefault overrides the built-in relay base, for self-hosted
// relay deployments and tests.
func NewResolverWithDefault(defaultBase, customBase string, customPrimary bool) *Resolver {
	return &Resolver{
		defaultBase:   defaultBase,
		customBase:    strings.TrimSpace(customBase),
		customPrimary: customPrimary,
	}
}

// Providers returns the relay chain in the order it should be tried.
func (r *Resolver) Providers() []Provider {
	def := Provider{Kind: KindDefault, Base: r.defaultBase}
	if r.customBase == "" || r.customBase == r.defaultBase {
		return []Provider{def}
	}

	custom := Provider{Kind: KindCustom, Base: r.customBase}
	if r.customPrimary {
		return []Provider{custom, def}
	}
	return []Provider{def, custom}
}

// Attempts expands a provider into the proxied URLs to try for target, in
// order. The default relay gets two attempts because its wrapped and raw
// upstream modes differ in reliability per target host; a custom relay gets
// exactly one.
func Attempts(p Provider, target string) ([]Attempt, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("target url is required")
	}
	encoded := url.QueryEscape(target)

	switch p.Kind {
	case KindDefault:
		base := strings.TrimRight(p.Base, "/")
		return []Attempt{
			{URL: base + "/get?url=" + encoded, Wrapped: true},
			{URL: base + "/raw?url=" + encoded},
		}, nil
	case KindCustom:
		u, err := buildCustomURL(p.Base, encoded)
		if err != nil {
			return nil, err
		}
		return []Attempt{{URL: u}}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %d", p.Kind)
	}
}

// buildCustomURL supports the three accepted custom relay shapes: a template
// with a placeholder, a prefix already ending in a query assignment, or a
// bare base URL.
func buildCustomURL(base, encodedTarget string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("custom relay base is empty")
	}

	if strings.Contains(base, Placeholder) {
		return strings.ReplaceAll(base, Placeholder, encodedTarget), nil
	}
	if strings.HasSuffix(base, "=") {
		return base + encodedTarget, nil
	}
	if strings.Contains(base, "?") {
		return base + "&url=" + encodedTarget, nil
	}
	return base + "?url=" + encodedTarget, nil
}
