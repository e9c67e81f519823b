package domain

import "time"

// ContentItem is one activity item fetched from the source repository.
// CreatedAt is always aware UTC by the time it leaves the fetch client.
type ContentItem struct {
	Type      ItemType  `json:"type"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Body      string    `json:"body"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Discussion is a community forum thread reduced to its first post.
type Discussion struct {
	Title   string    `json:"title"`
	Content string    `json:"content"`
	URL     string    `json:"url"`
	Date    time.Time `json:"date"`
	Source  string    `json:"source"`
}
