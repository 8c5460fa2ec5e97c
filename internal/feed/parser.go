// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package feed

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/pkg/errors"
)

// Podcast is the parsed, display-ready form of a podcast feed.
type Podcast struct {
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Description string    `json:"description,omitempty"`
	ArtworkURL  string    `json:"artworkUrl,omitempty"`
	Link        string    `json:"link,omitempty"`
	Episodes    []Episode `json:"episodes"`
}

// Episode is a single playable entry. Items without an audio enclosure are
// dropped during parsing.
type Episode struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	AudioURL    string     `json:"audioUrl"`
	Duration    string     `json:"duration,omitempty"`
	Published   *time.Time `json:"published,omitempty"`
}

// Parse decodes an RSS or Atom document into a Podcast. HTML in
// descriptions is flattened to plain text.
func Parse(body string) (*Podcast, error) {
	f, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, errors.Wrap(err, "parse feed")
	}

	p := &Podcast{
		Title:       strings.TrimSpace(f.Title),
		Description: FlattenHTML(f.Description),
		Link:        f.Link,
		Episodes:    make([]Episode, 0, len(f.Items)),
	}

	if f.ITunesExt != nil {
		p.Author = strings.TrimSpace(f.ITunesExt.Author)
		if f.ITunesExt.Image != "" {
			p.ArtworkURL = f.ITunesExt.Image
		}
	}
	if p.ArtworkURL == "" && f.Image != nil {
		p.ArtworkURL = f.Image.URL
	}

	for _, item := range f.Items {
		audio := audioEnclosure(item)
		if audio == "" {
			continue
		}

		ep := Episode{
			Title:       strings.TrimSpace(item.Title),
			Description: FlattenHTML(item.Description),
			AudioURL:    audio,
			Published:   item.PublishedParsed,
		}
		if item.ITunesExt != nil {
			ep.Duration = item.ITunesExt.Duration
		}
		p.Episodes = append(p.Episodes, ep)
	}

	return p, nil
}

func audioEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") || enc.Type == "" {
			return enc.URL
		}
	}
	return ""
}
