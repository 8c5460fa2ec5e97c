// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package recommend

// Category seeds one catalog search for the recommendation surface.
type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Term  string `json:"term"`
}

// Categories is the fixed traversal order for batch loading. IDs are stable
// across releases; persisted "tried" sets reference them.
var Categories = []Category{
	{ID: "news", Label: "News", Term: "news"},
	{ID: "technology", Label: "Technology", Term: "technology"},
	{ID: "comedy", Label: "Comedy", Term: "comedy"},
	{ID: "society", Label: "Society & Culture", Term: "society culture"},
	{ID: "business", Label: "Business", Term: "business"},
	{ID: "truecrime", Label: "True Crime", Term: "true crime"},
	{ID: "health", Label: "Health & Fitness", Term: "health fitness"},
	{ID: "education", Label: "Education", Term: "education"},
	{ID: "science", Label: "Science", Term: "science"},
	{ID: "history", Label: "History", Term: "history"},
	{ID: "sports", Label: "Sports", Term: "sports"},
	{ID: "arts", Label: "Arts", Term: "arts"},
	{ID: "music", Label: "Music", Term: "music"},
	{ID: "film", Label: "TV & Film", Term: "tv film"},
}

func categoryByID(id string) (Category, bool) {
	for _, c := range Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}
