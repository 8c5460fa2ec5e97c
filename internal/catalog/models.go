// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package catalog

import "strings"

// Podcast is the normalized subset of a catalog entry that downstream
// components consume. Entries missing an ID, title, or feed URL never leave
// this package.
type Podcast struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	ArtworkURL string   `json:"artworkUrl,omitempty"`
	FeedURL    string   `json:"feedUrl"`
	Genres     []string `json:"genres,omitempty"`
	Rank       int      `json:"rank,omitempty"`
}

type searchResponse struct {
	ResultCount int           `json:"resultCount"`
	Results     []searchEntry `json:"results"`
}

type searchEntry struct {
	CollectionID   int64    `json:"collectionId"`
	CollectionName string   `json:"collectionName"`
	ArtistName     string   `json:"artistName"`
	ArtworkURL600  string   `json:"artworkUrl600"`
	ArtworkURL100  string   `json:"artworkUrl100"`
	FeedURL        string   `json:"feedUrl"`
	Genres         []string `json:"genres"`
}

func (e searchEntry) normalize() (Podcast, bool) {
	p := Podcast{
		ID:         e.CollectionID,
		Title:      strings.TrimSpace(e.CollectionName),
		Author:     strings.TrimSpace(e.ArtistName),
		ArtworkURL: e.ArtworkURL600,
		FeedURL:    strings.TrimSpace(e.FeedURL),
		Genres:     e.Genres,
	}
	if p.ArtworkURL == "" {
		p.ArtworkURL = e.ArtworkURL100
	}
	if p.ID == 0 || p.Title == "" || p.FeedURL == "" {
		return Podcast{}, false
	}
	return p, true
}

type chartResponse struct {
	Feed struct {
		Results []chartEntry `json:"results"`
	} `json:"feed"`
}

type chartEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ArtistName string `json:"artistName"`
	ArtworkURL string `json:"artworkUrl100"`
	Genres     []struct {
		Name string `json:"name"`
	} `json:"genres"`
}
