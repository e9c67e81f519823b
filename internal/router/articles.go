// Package router binds the digest HTTP API onto echo.
package router

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
)

const (
	defaultPageSize = 10
	maxPageSize     = 50
)

// ArticleReader is the query side of the article store.
type ArticleReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Article, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Article, error)
	ListPublished(ctx context.Context, limit, offset int) ([]*domain.Article, error)
	GenerationStatus(ctx context.Context) (domain.GenerationStatus, error)
}

// Generator triggers background article generation.
type Generator interface {
	GenerateAsync(ctx context.Context, requested time.Time) (*domain.Article, bool, error)
}

type ArticleRouter struct {
	e         *echo.Echo
	store     ArticleReader
	generator Generator
}

func NewArticleRouter(e *echo.Echo, store ArticleReader, generator Generator) *ArticleRouter {
	return &ArticleRouter{
		e:         e,
		store:     store,
		generator: generator,
	}
}

func (r *ArticleRouter) Bind() {
	g := r.e.Group("/api/articles")
	g.GET("", r.listHandler)
	g.GET("/generation-status", r.statusHandler)
	g.GET("/:id", r.getHandler)
	g.POST("/generate", r.generateHandler)
}

// listHandler serves the public feed: published articles only, newest first.
func (r *ArticleRouter) listHandler(c echo.Context) error {
	limit := defaultPageSize
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			limit = min(n, maxPageSize)
		}
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	articles, err := r.store.ListPublished(c.Request().Context(), limit, offset)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	if articles == nil {
		articles = []*domain.Article{}
	}
	return c.JSON(http.StatusOK, articles)
}

// getHandler resolves the path segment as a UUID or a week slug. Non-published
// articles are only reachable by id, not listed.
func (r *ArticleRouter) getHandler(c echo.Context) error {
	key := c.Param("id")

	var (
		article *domain.Article
		err     error
	)
	if id, parseErr := uuid.Parse(key); parseErr == nil {
		article, err = r.store.GetByID(c.Request().Context(), id)
	} else if strings.HasPrefix(key, "week-of-") {
		article, err = r.store.GetBySlug(c.Request().Context(), key)
	} else {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "id must be a UUID or a week slug"})
	}

	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	if article == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "article not found"})
	}
	return c.JSON(http.StatusOK, article)
}

type generateRequest struct {
	Date string `json:"date"`
}

// generateHandler starts generation for the requested week (default: the last
// completed week). A conflicting article answers 409 with the article itself,
// a fresh claim answers 202 with the placeholder.
func (r *ArticleRouter) generateHandler(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil && c.Request().ContentLength > 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}

	var requested time.Time
	if req.Date != "" {
		t, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
		}
		requested = t.UTC()
	}

	article, conflict, err := r.generator.GenerateAsync(c.Request().Context(), requested)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	if conflict {
		return c.JSON(http.StatusConflict, article)
	}
	return c.JSON(http.StatusAccepted, article)
}

func (r *ArticleRouter) statusHandler(c echo.Context) error {
	status, err := r.store.GenerationStatus(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
	return c.JSON(http.StatusOK, status)
}
