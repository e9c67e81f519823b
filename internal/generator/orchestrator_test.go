package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/llm"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
)

var target = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

// fakeStore is an in-memory Store keyed by week Monday.
type fakeStore struct {
	byWeek    map[time.Time]*domain.Article
	sources   map[uuid.UUID][]domain.Source
	reclaimed int

	claimErr  error
	updateErr error
	attachErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byWeek:  make(map[time.Time]*domain.Article),
		sources: make(map[uuid.UUID][]domain.Source),
	}
}

func (s *fakeStore) ReclaimStale(ctx context.Context, olderThan time.Duration, failureBody string) (int, error) {
	cutoff := timeutil.Now().Add(-olderThan)
	n := 0
	for _, a := range s.byWeek {
		if a.Status == domain.StatusGenerating && a.UpdatedAt.Before(cutoff) {
			a.Status = domain.StatusFailed
			a.Content = failureBody
			n++
		}
	}
	s.reclaimed += n
	return n, nil
}

func (s *fakeStore) FindGenerating(ctx context.Context) (*domain.Article, error) {
	for _, a := range s.byWeek {
		if a.Status == domain.StatusGenerating {
			return a, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindLiveByWeek(ctx context.Context, weekStart time.Time) (*domain.Article, error) {
	if a, ok := s.byWeek[timeutil.MondayOf(weekStart)]; ok && a.Status != domain.StatusFailed {
		return a, nil
	}
	return nil, nil
}

func (s *fakeStore) ClaimWeek(ctx context.Context, a *domain.Article) (bool, error) {
	if s.claimErr != nil {
		return false, s.claimErr
	}
	week := timeutil.MondayOf(a.PublicationDate)
	if existing, ok := s.byWeek[week]; ok {
		if existing.Status != domain.StatusFailed {
			return false, nil
		}
		a.ID = existing.ID
	}
	cp := *a
	cp.UpdatedAt = timeutil.Now()
	s.byWeek[week] = &cp
	return true, nil
}

func (s *fakeStore) Update(ctx context.Context, a *domain.Article) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	cp := *a
	cp.UpdatedAt = timeutil.Now()
	s.byWeek[timeutil.MondayOf(a.PublicationDate)] = &cp
	return nil
}

func (s *fakeStore) AttachSources(ctx context.Context, articleID uuid.UUID, sources []domain.Source) error {
	if s.attachErr != nil {
		return s.attachErr
	}
	s.sources[articleID] = sources
	return nil
}

func (s *fakeStore) articleFor(week time.Time) *domain.Article {
	return s.byWeek[week]
}

type fakeContent struct{ items []domain.ContentItem }

func (f *fakeContent) Fetch(ctx context.Context, start, end time.Time) []domain.ContentItem {
	return f.items
}

type fakeForum struct{ discussions []domain.Discussion }

func (f *fakeForum) FetchDiscussions(ctx context.Context, weekDate time.Time) []domain.Discussion {
	return f.discussions
}

type fakeDigest struct{ html string }

func (f *fakeDigest) Summarize(ctx context.Context, discussions []domain.Discussion) string {
	if len(discussions) == 0 {
		return ""
	}
	return f.html
}

type fakeSummarizer struct {
	draft *llm.Draft
	err   error
	panic bool
}

func (f *fakeSummarizer) GenerateWeeklySummary(ctx context.Context, items []domain.ContentItem, weekStart time.Time) (*llm.Draft, error) {
	if f.panic {
		panic("summarizer blew up")
	}
	return f.draft, f.err
}

func weekItems() []domain.ContentItem {
	return []domain.ContentItem{
		{Type: domain.ItemIssue, Title: "an issue", URL: "https://github.com/ethereum/pm/issues/9", CreatedAt: target.Add(time.Hour)},
		{Type: domain.ItemCommit, Title: "a commit", URL: "https://github.com/ethereum/pm/commit/f00", CreatedAt: target.Add(2 * time.Hour)},
	}
}

func newOrchestrator(store *fakeStore, content ContentFetcher, summarizer Summarizer) *Orchestrator {
	return New(Deps{
		Store:      store,
		Content:    content,
		Forum:      &fakeForum{},
		Digest:     &fakeDigest{},
		Summarizer: summarizer,
	})
}

func TestTargetWeek(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	assert.Equal(t, target.AddDate(0, 0, 7), TargetWeek(time.Time{}), "zero time means last completed week")
	assert.Equal(t, target, TargetWeek(target.Add(72*time.Hour)), "explicit date normalizes to its monday")
}

func TestGeneratePublishesArticle(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	o := newOrchestrator(store, &fakeContent{items: weekItems()},
		&fakeSummarizer{draft: &llm.Draft{Title: "The Week", HTML: "<article>done</article>"}})

	article, conflict, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Equal(t, domain.StatusPublished, article.Status)
	assert.Equal(t, "The Week", article.Title)
	assert.Equal(t, "week-of-2025-03-10", article.Slug)
	require.NotNil(t, article.PublishedAt)

	require.Len(t, store.sources[article.ID], 2)
	assert.Equal(t, domain.StatusPublished, store.articleFor(target).Status)
}

func TestGenerateIncludesForumDigest(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	o := New(Deps{
		Store:   store,
		Content: &fakeContent{items: weekItems()},
		Forum: &fakeForum{discussions: []domain.Discussion{
			{Title: "thread", Source: "Forum", Date: target.Add(time.Hour)},
		}},
		Digest:     &fakeDigest{html: `<div class="forum-section"><h3>Forum</h3></div>`},
		Summarizer: &fakeSummarizer{draft: &llm.Draft{Title: "The Week", HTML: "<article>done</article>"}},
	})

	article, _, err := o.Generate(context.Background(), target)
	require.NoError(t, err)
	assert.Contains(t, article.ForumSummary, "forum-section")
}

func TestGenerateConflictsWithInflight(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	inflight := &domain.Article{
		ID:              uuid.New(),
		PublicationDate: target,
		Status:          domain.StatusGenerating,
		UpdatedAt:       timeutil.Now().Add(-time.Minute),
	}
	store.byWeek[target] = inflight

	o := newOrchestrator(store, &fakeContent{items: weekItems()},
		&fakeSummarizer{draft: &llm.Draft{Title: "x", HTML: "y"}})

	article, conflict, err := o.Generate(context.Background(), target.AddDate(0, 0, 7))

	require.NoError(t, err)
	assert.True(t, conflict)
	assert.Equal(t, inflight.ID, article.ID)
}

func TestGenerateConflictsWithExistingWeek(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	existing := &domain.Article{
		ID:              uuid.New(),
		PublicationDate: target,
		Status:          domain.StatusPublished,
	}
	store.byWeek[target] = existing

	o := newOrchestrator(store, &fakeContent{items: weekItems()},
		&fakeSummarizer{draft: &llm.Draft{Title: "x", HTML: "y"}})

	article, conflict, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.True(t, conflict)
	assert.Equal(t, existing.ID, article.ID)
}

func TestGenerateReclaimsStaleAndProceeds(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	store.byWeek[target] = &domain.Article{
		ID:              uuid.New(),
		PublicationDate: target,
		Status:          domain.StatusGenerating,
		UpdatedAt:       timeutil.Now().Add(-10 * time.Minute),
	}

	o := newOrchestrator(store, &fakeContent{items: weekItems()},
		&fakeSummarizer{draft: &llm.Draft{Title: "Recovered", HTML: "<article>ok</article>"}})

	article, conflict, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Equal(t, 1, store.reclaimed)
	assert.Equal(t, domain.StatusPublished, article.Status)
}

func TestGenerateRetriesFailedWeek(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	failedID := uuid.New()
	store.byWeek[target] = &domain.Article{
		ID:              failedID,
		PublicationDate: target,
		Status:          domain.StatusFailed,
	}

	o := newOrchestrator(store, &fakeContent{items: weekItems()},
		&fakeSummarizer{draft: &llm.Draft{Title: "Second Try", HTML: "<article>ok</article>"}})

	article, conflict, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Equal(t, failedID, article.ID, "retry reuses the failed row")
	assert.Equal(t, domain.StatusPublished, article.Status)
}

func TestGenerateNoContentFails(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	o := newOrchestrator(store, &fakeContent{}, &fakeSummarizer{})

	article, conflict, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Equal(t, domain.StatusFailed, article.Status)
	assert.Equal(t, "Article Generation Failed", article.Title)
	assert.Contains(t, article.Content, "No repository activity")
	assert.Empty(t, store.sources[article.ID], "failed article must not carry sources")
}

func TestGenerateSummarizerErrorFails(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	o := newOrchestrator(store, &fakeContent{items: weekItems()},
		&fakeSummarizer{err: errors.New("model returned malformed JSON")})

	article, _, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, article.Status)
	assert.Contains(t, article.Content, "malformed JSON")
	assert.Empty(t, store.sources[article.ID])
}

func TestGeneratePanicLandsInFailed(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	o := newOrchestrator(store, &fakeContent{items: weekItems()}, &fakeSummarizer{panic: true})

	article, _, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, article.Status)
	assert.Equal(t, domain.StatusFailed, store.articleFor(target).Status, "row must never stay generating")
}

func TestGenerateLostClaimRace(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	winner := &domain.Article{ID: uuid.New(), PublicationDate: target, Status: domain.StatusGenerating}

	// The week is taken between the live check and the claim.
	raced := &racingStore{fakeStore: store, winner: winner}
	o := New(Deps{
		Store:      raced,
		Content:    &fakeContent{items: weekItems()},
		Forum:      &fakeForum{},
		Digest:     &fakeDigest{},
		Summarizer: &fakeSummarizer{draft: &llm.Draft{Title: "x", HTML: "y"}},
	})

	article, conflict, err := o.Generate(context.Background(), target)

	require.NoError(t, err)
	assert.True(t, conflict)
	assert.Equal(t, winner.ID, article.ID)
}

// racingStore loses every claim and installs the winner so the follow-up
// lookup finds it.
type racingStore struct {
	*fakeStore
	winner *domain.Article
}

func (s *racingStore) ClaimWeek(ctx context.Context, a *domain.Article) (bool, error) {
	s.byWeek[timeutil.MondayOf(a.PublicationDate)] = s.winner
	return false, nil
}

func TestGenerateAsyncReturnsPlaceholder(t *testing.T) {
	restore := timeutil.SetNow(func() time.Time { return target.AddDate(0, 0, 9) })
	defer restore()

	store := newFakeStore()
	sum := &signalingSummarizer{proceed: make(chan struct{}), done: make(chan struct{})}
	o := New(Deps{
		Store:      store,
		Content:    &fakeContent{items: weekItems()},
		Forum:      &fakeForum{},
		Digest:     &fakeDigest{},
		Summarizer: sum,
	})

	article, conflict, err := o.GenerateAsync(context.Background(), target)

	require.NoError(t, err)
	assert.False(t, conflict)
	// The background run is parked in the summarizer, so the placeholder is
	// safe to inspect.
	assert.Equal(t, domain.StatusGenerating, article.Status)
	assert.Equal(t, "Article Generation in Progress", article.Title)

	close(sum.proceed)
	select {
	case <-sum.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background generation never finished")
	}
}

// signalingSummarizer blocks until released so the test can inspect the
// placeholder mid-flight.
type signalingSummarizer struct {
	proceed chan struct{}
	done    chan struct{}
}

func (s *signalingSummarizer) GenerateWeeklySummary(ctx context.Context, items []domain.ContentItem, weekStart time.Time) (*llm.Draft, error) {
	<-s.proceed
	defer close(s.done)
	return &llm.Draft{Title: "async", HTML: "<article>ok</article>"}, nil
}
