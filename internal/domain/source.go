package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ItemType is the closed set of external item kinds an article can cite.
type ItemType string

const (
	ItemIssue      ItemType = "issue"
	ItemCommit     ItemType = "commit"
	ItemForumTopic ItemType = "forum-topic"
)

// Validate rejects item types outside the closed set.
func (t ItemType) Validate() error {
	switch t {
	case ItemIssue, ItemCommit, ItemForumTopic:
		return nil
	}
	return fmt.Errorf("unknown item type %q", string(t))
}

// Source is a single attributed external item backing an article. It has no
// lifecycle of its own: deleting the article deletes its sources.
type Source struct {
	ID        uuid.UUID `json:"id"`
	ArticleID uuid.UUID `json:"articleId"`
	URL       string    `json:"url"`
	Type      ItemType  `json:"type"`
	Title     string    `json:"title"`
	Origin    string    `json:"origin"`
	FetchedAt time.Time `json:"fetchedAt"`
}
