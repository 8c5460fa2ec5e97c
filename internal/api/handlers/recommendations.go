// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/earshot-audio/earshot/internal/domain"
	"github.com/earshot-audio/earshot/internal/fetch"
	"github.com/earshot-audio/earshot/internal/recommend"
)

type RecommendationService interface {
	Batch(ctx context.Context, country, language string, desired int) (recommend.BatchResult, error)
	Refresh(ctx context.Context, country, language string)
}

type RecommendationsHandler struct {
	service RecommendationService
	config  *domain.Config
}

func NewRecommendationsHandler(service RecommendationService, config *domain.Config) *RecommendationsHandler {
	return &RecommendationsHandler{
		service: service,
		config:  config,
	}
}

func (h *RecommendationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	country, language := h.locale(r)

	desired := 0
	if raw := r.URL.Query().Get("groups"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			RespondError(w, http.StatusBadRequest, "groups must be a non-negative integer")
			return
		}
		desired = n
	}

	result, err := h.service.Batch(r.Context(), country, language, desired)
	if err != nil {
		if fetch.IsCancellation(err) {
			// The client went away; nothing useful to write.
			return
		}
		// Callers get a smaller or empty surface, never a raw error.
		log.Error().Err(err).Str("country", country).Msg("recommendation batch failed")
		RespondJSON(w, http.StatusOK, recommend.BatchResult{Groups: []recommend.Group{}})
		return
	}

	if result.Groups == nil {
		result.Groups = []recommend.Group{}
	}
	RespondJSON(w, http.StatusOK, result)
}

func (h *RecommendationsHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	country, language := h.locale(r)
	h.service.Refresh(r.Context(), country, language)
	w.WriteHeader(http.StatusNoContent)
}

func (h *RecommendationsHandler) locale(r *http.Request) (string, string) {
	country := strings.TrimSpace(r.URL.Query().Get("country"))
	if country == "" {
		country = h.config.Country
	}
	language := strings.TrimSpace(r.URL.Query().Get("lang"))
	if language == "" {
		language = h.config.Language
	}
	return country, language
}
