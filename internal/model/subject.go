package model

import "time"

// Subject is a tracked entity together with its per-platform identifiers.
type Subject struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subreddit string    `json:"subreddit"`
	Hashtag   string    `json:"hashtag"`
	VideoLink string    `json:"videoLink"` // YouTube search term
	Img       string    `json:"img,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identifier returns the value passed to the collector of p.
func (s Subject) Identifier(p Platform) string {
	switch p {
	case Reddit:
		return s.Subreddit
	case Twitter:
		return s.Hashtag
	case YouTube:
		return s.VideoLink
	}
	return ""
}
