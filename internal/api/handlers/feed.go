// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/earshot-audio/earshot/internal/feed"
	"github.com/earshot-audio/earshot/internal/fetch"
)

// feedUnfetchableMessage is the user-facing text for a feed the resolver
// chain cannot reach or parse. The frontend shows it verbatim instead of a
// generic error.
const feedUnfetchableMessage = "this feed cannot be fetched from here"

type FeedFetcher interface {
	FetchWith(ctx context.Context, target string, accept func(body string) error) (*fetch.Result, error)
}

type FeedHandler struct {
	fetcher FeedFetcher
}

func NewFeedHandler(fetcher FeedFetcher) *FeedHandler {
	return &FeedHandler{
		fetcher: fetcher,
	}
}

func (h *FeedHandler) Get(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		RespondError(w, http.StatusBadRequest, "url is required")
		return
	}
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		RespondError(w, http.StatusBadRequest, "url must be absolute http(s)")
		return
	}

	// Parsing inside the accept hook lets an unparseable body (origin error
	// page, relay-mangled content) fail that provider and advance the chain
	// instead of ending the request.
	var podcast *feed.Podcast
	_, err := h.fetcher.FetchWith(r.Context(), target, func(body string) error {
		parsed, err := feed.Parse(body)
		if err != nil {
			return err
		}
		podcast = parsed
		return nil
	})
	if err != nil {
		if fetch.IsCancellation(err) {
			return
		}
		log.Debug().Err(err).Str("url", target).Msg("feed fetch exhausted every provider")
		RespondError(w, http.StatusBadGateway, feedUnfetchableMessage)
		return
	}

	RespondJSON(w, http.StatusOK, podcast)
}
