// Package pg persists articles and their attributed sources in Postgres.
package pg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/timeutil"
)

const articleColumns = `id, slug, title, content, publication_date, status,
	scheduled_publish_date, published_at, COALESCE(forum_summary, ''), created_at, updated_at`

// ArticleStore implements the persistence contract of the generation
// pipeline and the read side of the API.
type ArticleStore struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewArticleStore(pool *ConnectionPool) *ArticleStore {
	return &ArticleStore{
		db:  pool.GetConn(),
		log: slog.Default().With("component", "store"),
	}
}

// ClaimWeek atomically claims the article's week. The slug is unique per
// week, so the insert either wins the week, takes over a failed row for the
// same week, or loses to a live article. Losing returns claimed == false
// without an error; the race is resolved by the database, not by a prior
// SELECT.
func (s *ArticleStore) ClaimWeek(ctx context.Context, a *domain.Article) (bool, error) {
	const q = `
		INSERT INTO articles (id, slug, title, content, publication_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (slug) DO UPDATE
		SET title = EXCLUDED.title,
		    content = EXCLUDED.content,
		    status = EXCLUDED.status,
		    published_at = NULL,
		    scheduled_publish_date = NULL,
		    forum_summary = NULL,
		    updated_at = now()
		WHERE articles.status = 'failed'
		RETURNING id
	`
	a.PublicationDate = timeutil.MondayOf(a.PublicationDate)

	var id uuid.UUID
	err := s.db.QueryRow(ctx, q,
		a.ID, a.Slug, a.Title, a.Content, a.PublicationDate, a.Status,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict target exists and is not failed: the week is taken.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim week: %w", err)
	}

	// When a failed row was taken over the insert kept its original id.
	a.ID = id
	return true, nil
}

// Create inserts a draft or scheduled article outside the generation flow.
func (s *ArticleStore) Create(ctx context.Context, a *domain.Article) error {
	const q = `
		INSERT INTO articles (id, slug, title, content, publication_date, status,
			scheduled_publish_date, forum_summary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), now(), now())
	`
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.PublicationDate = timeutil.MondayOf(a.PublicationDate)
	if a.Slug == "" {
		a.Slug = domain.WeekSlug(a.PublicationDate)
	}

	_, err := s.db.Exec(ctx, q,
		a.ID, a.Slug, a.Title, a.Content, a.PublicationDate, a.Status,
		a.ScheduledPublishDate, a.ForumSummary,
	)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	return nil
}

// Update persists mutable article fields and bumps updated_at.
func (s *ArticleStore) Update(ctx context.Context, a *domain.Article) error {
	const q = `
		UPDATE articles
		SET title = $2,
		    content = $3,
		    status = $4,
		    scheduled_publish_date = $5,
		    published_at = $6,
		    forum_summary = NULLIF($7, ''),
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := s.db.Exec(ctx, q,
		a.ID, a.Title, a.Content, a.Status,
		a.ScheduledPublishDate, a.PublishedAt, a.ForumSummary,
	)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("article %s not found", a.ID)
	}
	return nil
}

// Delete removes the article; its sources go with it via the FK cascade.
func (s *ArticleStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("article %s not found", id)
	}
	return nil
}

// ReclaimStale force-fails generating rows whose last update is older than
// the threshold.
func (s *ArticleStore) ReclaimStale(ctx context.Context, olderThan time.Duration, failureBody string) (int, error) {
	const q = `
		UPDATE articles
		SET status = 'failed',
		    title = 'Article Generation Failed',
		    content = $2,
		    updated_at = now()
		WHERE status = 'generating' AND updated_at < $1
	`
	cutoff := timeutil.Now().Add(-olderThan)
	tag, err := s.db.Exec(ctx, q, cutoff, failureBody)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale articles: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindGenerating returns the in-flight article, or nil.
func (s *ArticleStore) FindGenerating(ctx context.Context) (*domain.Article, error) {
	q := fmt.Sprintf(`SELECT %s FROM articles WHERE status = 'generating' ORDER BY updated_at DESC LIMIT 1`, articleColumns)
	return s.queryOne(ctx, q)
}

// FindLiveByWeek returns the non-failed article for the half-open week window
// starting at weekStart, or nil.
func (s *ArticleStore) FindLiveByWeek(ctx context.Context, weekStart time.Time) (*domain.Article, error) {
	weekStart = timeutil.MondayOf(weekStart)
	q := fmt.Sprintf(`
		SELECT %s FROM articles
		WHERE publication_date >= $1 AND publication_date < $2 AND status <> 'failed'
		LIMIT 1`, articleColumns)
	return s.queryOne(ctx, q, weekStart, weekStart.AddDate(0, 0, 7))
}

// GetByID loads one article with its sources, or nil when absent.
func (s *ArticleStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	q := fmt.Sprintf(`SELECT %s FROM articles WHERE id = $1`, articleColumns)
	a, err := s.queryOne(ctx, q, id)
	if err != nil || a == nil {
		return a, err
	}
	if err := s.loadSources(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetBySlug loads one article by its week slug with its sources, or nil.
func (s *ArticleStore) GetBySlug(ctx context.Context, slug string) (*domain.Article, error) {
	q := fmt.Sprintf(`SELECT %s FROM articles WHERE slug = $1`, articleColumns)
	a, err := s.queryOne(ctx, q, slug)
	if err != nil || a == nil {
		return a, err
	}
	if err := s.loadSources(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListByWeekRange returns articles with publication dates in [start, end),
// oldest first.
func (s *ArticleStore) ListByWeekRange(ctx context.Context, start, end time.Time) ([]*domain.Article, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM articles
		WHERE publication_date >= $1 AND publication_date < $2
		ORDER BY publication_date ASC`, articleColumns)
	return s.queryMany(ctx, q, timeutil.ToUTC(start), timeutil.ToUTC(end))
}

// ListByStatus returns all articles in the given status, newest week first.
func (s *ArticleStore) ListByStatus(ctx context.Context, status domain.ArticleStatus) ([]*domain.Article, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM articles
		WHERE status = $1
		ORDER BY publication_date DESC`, articleColumns)
	return s.queryMany(ctx, q, status)
}

// ListPublished returns the public feed page: published articles only,
// newest week first.
func (s *ArticleStore) ListPublished(ctx context.Context, limit, offset int) ([]*domain.Article, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM articles
		WHERE status = 'published'
		ORDER BY publication_date DESC
		LIMIT $1 OFFSET $2`, articleColumns)
	return s.queryMany(ctx, q, limit, offset)
}

// AttachSources inserts the article's source rows in one round trip.
func (s *ArticleStore) AttachSources(ctx context.Context, articleID uuid.UUID, sources []domain.Source) error {
	if len(sources) == 0 {
		return nil
	}
	rows := make([][]any, len(sources))
	for i, src := range sources {
		id := src.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = []any{id, articleID, src.URL, string(src.Type), src.Title, src.Origin, timeutil.ToUTC(src.FetchedAt)}
	}

	_, err := s.db.CopyFrom(
		ctx,
		pgx.Identifier{"sources"},
		[]string{"id", "article_id", "url", "type", "title", "origin", "fetched_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sources: %w", err)
	}
	return nil
}

// ReassignSources repoints all sources from one article to another, used when
// merging duplicate weeks.
func (s *ArticleStore) ReassignSources(ctx context.Context, from, to uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE sources SET article_id = $2 WHERE article_id = $1`, from, to)
	if err != nil {
		return fmt.Errorf("failed to reassign sources: %w", err)
	}
	return nil
}

// GenerationStatus derives the pipeline state from article rows: a generating
// row wins, otherwise the most recent failed row, otherwise idle.
func (s *ArticleStore) GenerationStatus(ctx context.Context) (domain.GenerationStatus, error) {
	if inflight, err := s.FindGenerating(ctx); err != nil {
		return domain.GenerationStatus{}, err
	} else if inflight != nil {
		return domain.GenerationStatus{State: domain.GenerationRunning, ArticleID: &inflight.ID}, nil
	}

	q := fmt.Sprintf(`SELECT %s FROM articles WHERE status = 'failed' ORDER BY updated_at DESC LIMIT 1`, articleColumns)
	failed, err := s.queryOne(ctx, q)
	if err != nil {
		return domain.GenerationStatus{}, err
	}
	if failed != nil {
		return domain.GenerationStatus{
			State:     domain.GenerationFailed,
			ArticleID: &failed.ID,
			Error:     failed.Content,
		}, nil
	}
	return domain.GenerationStatus{State: domain.GenerationIdle}, nil
}

// PublishDue promotes scheduled articles whose publish time has passed.
func (s *ArticleStore) PublishDue(ctx context.Context) (int, error) {
	const q = `
		UPDATE articles
		SET status = 'published',
		    published_at = now(),
		    updated_at = now()
		WHERE status = 'scheduled' AND scheduled_publish_date <= $1
	`
	tag, err := s.db.Exec(ctx, q, timeutil.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to publish due articles: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteFutureDated removes articles dated beyond the current instant. Run at
// startup to clear rows produced by clock mistakes.
func (s *ArticleStore) DeleteFutureDated(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM articles WHERE publication_date > $1`, timeutil.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete future-dated articles: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *ArticleStore) queryOne(ctx context.Context, q string, args ...any) (*domain.Article, error) {
	row := s.db.QueryRow(ctx, q, args...)
	a, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query article: %w", err)
	}
	return a, nil
}

func (s *ArticleStore) queryMany(ctx context.Context, q string, args ...any) ([]*domain.Article, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var list []*domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate articles: %w", err)
	}
	return list, nil
}

func (s *ArticleStore) loadSources(ctx context.Context, a *domain.Article) error {
	const q = `
		SELECT id, article_id, url, type, COALESCE(title, ''), COALESCE(origin, ''), fetched_at
		FROM sources WHERE article_id = $1 ORDER BY fetched_at ASC, url ASC
	`
	rows, err := s.db.Query(ctx, q, a.ID)
	if err != nil {
		return fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var src domain.Source
		var typ string
		if err := rows.Scan(&src.ID, &src.ArticleID, &src.URL, &typ, &src.Title, &src.Origin, &src.FetchedAt); err != nil {
			return fmt.Errorf("failed to scan source: %w", err)
		}
		src.Type = domain.ItemType(typ)
		a.Sources = append(a.Sources, src)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*domain.Article, error) {
	var a domain.Article
	var status string
	if err := row.Scan(
		&a.ID, &a.Slug, &a.Title, &a.Content, &a.PublicationDate, &status,
		&a.ScheduledPublishDate, &a.PublishedAt, &a.ForumSummary, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = domain.ArticleStatus(status)
	a.PublicationDate = a.PublicationDate.UTC()
	return &a, nil
}
