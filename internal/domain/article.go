package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ArticleStatus is the lifecycle state of a weekly digest article.
type ArticleStatus string

const (
	StatusDraft      ArticleStatus = "draft"
	StatusGenerating ArticleStatus = "generating"
	StatusScheduled  ArticleStatus = "scheduled"
	StatusPublished  ArticleStatus = "published"
	StatusFailed     ArticleStatus = "failed"
)

// Article is one weekly digest. PublicationDate is always the Monday 00:00:00
// UTC of the week the article covers; the slug derives from it.
type Article struct {
	ID                   uuid.UUID     `json:"id"`
	Slug                 string        `json:"slug"`
	Title                string        `json:"title"`
	Content              string        `json:"content"`
	PublicationDate      time.Time     `json:"publicationDate"`
	Status               ArticleStatus `json:"status"`
	ScheduledPublishDate *time.Time    `json:"scheduledPublishDate,omitempty"`
	PublishedAt          *time.Time    `json:"publishedAt,omitempty"`
	ForumSummary         string        `json:"forumSummary,omitempty"`
	CreatedAt            time.Time     `json:"createdAt"`
	UpdatedAt            time.Time     `json:"updatedAt"`
	Sources              []Source      `json:"sources,omitempty"`
}

// WeekSlug returns the canonical slug for a week Monday, e.g. week-of-2025-03-10.
func WeekSlug(weekMonday time.Time) string {
	return fmt.Sprintf("week-of-%s", weekMonday.UTC().Format("2006-01-02"))
}

// Public reports whether the article belongs in the public feed. Failed and
// in-flight articles are never listed.
func (a *Article) Public() bool {
	return a.Status == StatusPublished
}

// GenerationState is the derived pipeline state computed from article rows.
type GenerationState string

const (
	GenerationIdle    GenerationState = "idle"
	GenerationRunning GenerationState = "generating"
	GenerationFailed  GenerationState = "failed"
)

// GenerationStatus reports whether a generation is in flight or has failed,
// with the relevant article when not idle. Computed on demand, never persisted.
type GenerationStatus struct {
	State     GenerationState `json:"state"`
	ArticleID *uuid.UUID      `json:"articleId,omitempty"`
	Error     string          `json:"error,omitempty"`
}
