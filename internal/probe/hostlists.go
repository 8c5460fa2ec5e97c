// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package probe

import (
	"net/url"
	"strings"
)

// denyHosts never serve parseable feeds; they are platform pages or
// player URLs that slip into catalog data as "feed" URLs. Deny-listed
// hosts are recorded as unfetchable without a network attempt.
var denyHosts = []string{
	"podcasts.apple.com",
	"music.apple.com",
	"open.spotify.com",
	"spotify.com",
	"music.amazon.com",
	"youtube.com",
	"youtu.be",
	"facebook.com",
	"instagram.com",
}

// allowHosts are hosting platforms whose feeds are reliably reachable.
// Allow-listing only promotes a candidate in probing order; it never
// substitutes for an actual successful fetch and parse, since hosts can
// change CORS posture without notice.
var allowHosts = []string{
	"feeds.megaphone.fm",
	"feeds.simplecast.com",
	"feeds.buzzsprout.com",
	"feeds.libsyn.com",
	"feeds.soundcloud.com",
	"feeds.acast.com",
	"feeds.transistor.fm",
	"feeds.npr.org",
	"rss.art19.com",
	"anchor.fm",
	"omny.fm",
	"audioboom.com",
	"podbean.com",
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func matchesAny(host string, list []string) bool {
	if host == "" {
		return false
	}
	for _, entry := range list {
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// Denied reports whether the feed URL's host is deny-listed.
func Denied(feedURL string) bool {
	return matchesAny(hostOf(feedURL), denyHosts)
}

// Allowlisted reports whether the feed URL's host is a known-reliable
// hosting platform. Used for probing order only.
func Allowlisted(feedURL string) bool {
	return matchesAny(hostOf(feedURL), allowHosts)
}
