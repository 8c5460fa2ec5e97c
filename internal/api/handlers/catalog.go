// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/earshot-audio/earshot/internal/catalog"
	"github.com/earshot-audio/earshot/internal/domain"
	"github.com/earshot-audio/earshot/internal/fetch"
)

type CatalogService interface {
	Search(ctx context.Context, term, country string, limit int) ([]catalog.Podcast, error)
	LookupByIDs(ctx context.Context, ids []int64, country string) ([]catalog.Podcast, error)
	TopPodcasts(ctx context.Context, country string, limit int) ([]catalog.Podcast, error)
}

type CatalogHandler struct {
	service CatalogService
	config  *domain.Config
}

func NewCatalogHandler(service CatalogService, config *domain.Config) *CatalogHandler {
	return &CatalogHandler{
		service: service,
		config:  config,
	}
}

func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("term"))
	if term == "" {
		RespondError(w, http.StatusBadRequest, "term is required")
		return
	}

	results, err := h.service.Search(r.Context(), term, h.country(r), h.limit(r))
	if err != nil {
		h.respondUpstreamError(w, r, err, "catalog search failed")
		return
	}

	RespondJSON(w, http.StatusOK, results)
}

func (h *CatalogHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("ids"))
	if raw == "" {
		RespondError(w, http.StatusBadRequest, "ids is required")
		return
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			RespondError(w, http.StatusBadRequest, "ids must be positive integers")
			return
		}
		ids = append(ids, id)
	}

	results, err := h.service.LookupByIDs(r.Context(), ids, h.country(r))
	if err != nil {
		h.respondUpstreamError(w, r, err, "catalog lookup failed")
		return
	}

	RespondJSON(w, http.StatusOK, results)
}

func (h *CatalogHandler) Charts(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.TopPodcasts(r.Context(), h.country(r), h.limit(r))
	if err != nil {
		h.respondUpstreamError(w, r, err, "chart fetch failed")
		return
	}

	RespondJSON(w, http.StatusOK, results)
}

func (h *CatalogHandler) respondUpstreamError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if fetch.IsCancellation(err) {
		return
	}

	var cfgErr *fetch.ConfigError
	if errors.As(err, &cfgErr) {
		RespondError(w, http.StatusBadRequest, cfgErr.Reason)
		return
	}

	log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	RespondError(w, http.StatusBadGateway, "upstream catalog unavailable")
}

func (h *CatalogHandler) country(r *http.Request) string {
	if country := strings.TrimSpace(r.URL.Query().Get("country")); country != "" {
		return country
	}
	return h.config.Country
}

func (h *CatalogHandler) limit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}
