// Package generator drives the weekly digest pipeline: resolve the target
// week, claim it, fetch content, summarize and persist the result.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/llm"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
	"github.com/google/uuid"
)

// staleThreshold is how long a generating row may go without updates before a
// later request may presume it abandoned and reclaim its week.
const staleThreshold = 5 * time.Minute

const (
	placeholderTitle = "Article Generation in Progress"
	placeholderBody  = "<p>Please wait while the article is being generated...</p>"
)

// Store is the persistence surface the orchestrator needs. The pg package
// provides the production implementation.
type Store interface {
	// ReclaimStale force-fails generating articles whose last update is older
	// than the threshold and returns how many were reclaimed.
	ReclaimStale(ctx context.Context, olderThan time.Duration, failureBody string) (int, error)

	// FindGenerating returns the in-flight article, or nil when none exists.
	FindGenerating(ctx context.Context) (*domain.Article, error)

	// FindLiveByWeek returns the article for the week whose status is not
	// failed, or nil.
	FindLiveByWeek(ctx context.Context, weekStart time.Time) (*domain.Article, error)

	// ClaimWeek atomically claims the article's week: it inserts the
	// placeholder, or takes over an existing failed row for the same week.
	// claimed is false when a live article already holds the week.
	ClaimWeek(ctx context.Context, a *domain.Article) (claimed bool, err error)

	Update(ctx context.Context, a *domain.Article) error
	AttachSources(ctx context.Context, articleID uuid.UUID, sources []domain.Source) error
}

// ContentFetcher is the repository activity client.
type ContentFetcher interface {
	Fetch(ctx context.Context, start, end time.Time) []domain.ContentItem
}

// DiscussionFetcher lists the week's forum discussions.
type DiscussionFetcher interface {
	FetchDiscussions(ctx context.Context, weekDate time.Time) []domain.Discussion
}

// DiscussionSummarizer renders discussions into digest HTML, or "" when there
// is nothing to tell.
type DiscussionSummarizer interface {
	Summarize(ctx context.Context, discussions []domain.Discussion) string
}

// Summarizer produces the article draft for a week of content items.
type Summarizer interface {
	GenerateWeeklySummary(ctx context.Context, items []domain.ContentItem, weekStart time.Time) (*llm.Draft, error)
}

// Orchestrator owns the generation state machine. The persisted generating
// row is the only cross-process coordination point, so at most one generation
// runs at a time regardless of how many triggers fire.
type Orchestrator struct {
	store      Store
	content    ContentFetcher
	forum      DiscussionFetcher
	digest     DiscussionSummarizer
	summarizer Summarizer
	log        *slog.Logger
}

type Deps struct {
	Store      Store
	Content    ContentFetcher
	Forum      DiscussionFetcher
	Digest     DiscussionSummarizer
	Summarizer Summarizer
	Logger     *slog.Logger
}

func New(deps Deps) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = slog.Default().With("component", "generator")
	}
	return &Orchestrator{
		store:      deps.Store,
		content:    deps.Content,
		forum:      deps.Forum,
		digest:     deps.Digest,
		summarizer: deps.Summarizer,
		log:        log,
	}
}

// TargetWeek resolves the week an article should cover. A zero requested time
// means the most recently completed week; anything else normalizes to the
// Monday 00:00 UTC of its own week.
func TargetWeek(requested time.Time) time.Time {
	if requested.IsZero() {
		return timeutil.LastCompletedWeek()
	}
	return timeutil.MondayOf(requested)
}

// Generate runs one generation attempt for the requested week. A true
// conflict flag means no new work was started and the returned article is the
// one that held the week (or the one currently generating). On a failed
// attempt the returned article carries status failed with the error text as
// its body; err is reserved for storage-level problems.
func (o *Orchestrator) Generate(ctx context.Context, requested time.Time) (a *domain.Article, conflict bool, err error) {
	target := TargetWeek(requested)
	placeholder, conflict, err := o.claim(ctx, target)
	if err != nil || conflict {
		return placeholder, conflict, err
	}
	log := o.log.With("week_start", target.Format("2006-01-02"))
	return o.run(ctx, placeholder, target, log), false, nil
}

// GenerateAsync claims the week synchronously and finishes generation in the
// background, detached from the request context. The returned article is the
// placeholder on a fresh claim, or the conflicting article.
func (o *Orchestrator) GenerateAsync(ctx context.Context, requested time.Time) (a *domain.Article, conflict bool, err error) {
	target := TargetWeek(requested)
	placeholder, conflict, err := o.claim(ctx, target)
	if err != nil || conflict {
		return placeholder, conflict, err
	}
	log := o.log.With("week_start", target.Format("2006-01-02"))
	go o.run(context.WithoutCancel(ctx), placeholder, target, log)
	return placeholder, false, nil
}

// claim runs the pre-generation gate: stale reclaim, in-flight check, live
// article check and the atomic week claim. A true conflict means the returned
// article holds the week and no placeholder was created.
func (o *Orchestrator) claim(ctx context.Context, target time.Time) (a *domain.Article, conflict bool, err error) {
	log := o.log.With("week_start", target.Format("2006-01-02"))
	log.Info("starting article generation")

	// Step 1: a generating row that stopped updating is presumed abandoned.
	reclaimed, err := o.store.ReclaimStale(ctx, staleThreshold,
		llm.FailureHTML("Generation timed out and was reclaimed by a later request."))
	if err != nil {
		return nil, false, fmt.Errorf("failed to reclaim stale articles: %w", err)
	}
	if reclaimed > 0 {
		log.Warn("reclaimed stale generating articles", "count", reclaimed)
	}

	// Step 2: a fresh generating row anywhere means another run is in flight.
	if inflight, err := o.store.FindGenerating(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to check in-flight generation: %w", err)
	} else if inflight != nil {
		log.Warn("another article is currently being generated", "article_id", inflight.ID)
		return inflight, true, nil
	}

	// Step 3: one live article per week.
	if existing, err := o.store.FindLiveByWeek(ctx, target); err != nil {
		return nil, false, fmt.Errorf("failed to check existing article: %w", err)
	} else if existing != nil {
		log.Warn("article already exists for target week", "article_id", existing.ID, "status", existing.Status)
		return existing, true, nil
	}

	// Step 4: claim the week with a placeholder. The store enforces
	// uniqueness, so losing a race here surfaces as claimed == false.
	placeholder := &domain.Article{
		ID:              uuid.New(),
		Slug:            domain.WeekSlug(target),
		Title:           placeholderTitle,
		Content:         placeholderBody,
		PublicationDate: target,
		Status:          domain.StatusGenerating,
	}
	claimed, err := o.store.ClaimWeek(ctx, placeholder)
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim week: %w", err)
	}
	if !claimed {
		winner, err := o.store.FindLiveByWeek(ctx, target)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load conflicting article: %w", err)
		}
		log.Warn("lost claim race for target week")
		return winner, true, nil
	}
	log.Info("created placeholder article", "article_id", placeholder.ID)

	return placeholder, false, nil
}

// run executes fetch, summarize and commit against a claimed placeholder.
// Every failure path lands the placeholder in failed status; it is never left
// generating.
func (o *Orchestrator) run(ctx context.Context, article *domain.Article, target time.Time, log *slog.Logger) *domain.Article {
	defer func() {
		if r := recover(); r != nil {
			log.Error("generation panicked", "panic", r)
			o.markFailed(ctx, article, fmt.Sprintf("generation aborted: %v", r), log)
		}
	}()

	weekEnd := target.AddDate(0, 0, 7).Add(-time.Second)
	items := o.content.Fetch(ctx, target, weekEnd)
	if len(items) == 0 {
		log.Warn("no content fetched for target week")
		o.markFailed(ctx, article, "No repository activity could be fetched for this week.", log)
		return article
	}
	log.Info("fetched content items", "count", len(items))

	// Forum digest is best effort: its absence never fails the article.
	var forumHTML string
	if o.forum != nil && o.digest != nil {
		discussions := o.forum.FetchDiscussions(ctx, target)
		forumHTML = o.digest.Summarize(ctx, discussions)
		if forumHTML != "" {
			forumHTML = llm.Sanitize(forumHTML)
		}
	}

	draft, err := o.summarizer.GenerateWeeklySummary(ctx, items, target)
	if err != nil {
		log.Error("summarizer failed", "error", err)
		o.markFailed(ctx, article, err.Error(), log)
		return article
	}
	if draft == nil {
		log.Warn("summarizer produced no draft")
		o.markFailed(ctx, article, "No content remained for this week after filtering.", log)
		return article
	}

	now := timeutil.Now()
	article.Title = draft.Title
	article.Content = draft.HTML
	article.ForumSummary = forumHTML
	article.Status = domain.StatusPublished
	article.PublishedAt = &now

	sources := make([]domain.Source, 0, len(items))
	for _, item := range items {
		sources = append(sources, domain.Source{
			ID:        uuid.New(),
			ArticleID: article.ID,
			URL:       item.URL,
			Type:      item.Type,
			Title:     item.Title,
			Origin:    item.Origin,
			FetchedAt: now,
		})
	}
	if err := o.store.AttachSources(ctx, article.ID, sources); err != nil {
		log.Error("failed to attach sources", "error", err)
		o.markFailed(ctx, article, fmt.Sprintf("failed to attach sources: %v", err), log)
		return article
	}
	article.Sources = sources

	if err := o.store.Update(ctx, article); err != nil {
		log.Error("failed to publish article", "error", err)
		o.markFailed(ctx, article, fmt.Sprintf("failed to persist article: %v", err), log)
		return article
	}

	log.Info("published article", "article_id", article.ID, "title", article.Title, "sources", len(sources))
	return article
}

// markFailed replaces the article body with an error message and moves it to
// failed. A failed transition that itself fails is only logged; the stale
// reclaim pass will pick the row up later.
func (o *Orchestrator) markFailed(ctx context.Context, article *domain.Article, msg string, log *slog.Logger) {
	article.Status = domain.StatusFailed
	article.Title = "Article Generation Failed"
	article.Content = llm.FailureHTML(msg)
	if err := o.store.Update(ctx, article); err != nil {
		log.Error("failed to mark article as failed", "article_id", article.ID, "error", err)
	}
}
