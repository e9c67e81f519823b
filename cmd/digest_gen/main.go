// Package main digest_gen generates one weekly digest article and exits.
// Useful for backfilling past weeks or re-running a failed generation from
// the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethdevwatch/ethdevwatch/internal/domain"
	"github.com/ethdevwatch/ethdevwatch/internal/forum"
	"github.com/ethdevwatch/ethdevwatch/internal/generator"
	"github.com/ethdevwatch/ethdevwatch/internal/github"
	"github.com/ethdevwatch/ethdevwatch/internal/llm"
	"github.com/ethdevwatch/ethdevwatch/internal/storage/pg"
	"github.com/ethdevwatch/ethdevwatch/pkg/config/env"
)

func main() {
	week := flag.String("week", "", "any date inside the target week, YYYY-MM-DD (default: last completed week)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*week); err != nil {
		slog.Error("generation failed", "error", err)
		os.Exit(1)
	}
}

func run(week string) error {
	if err := env.LoadDotEnv(os.Getenv("ENV"), "cmd/digest_gen/.env"); err != nil {
		slog.Info("Failed to load .env, continuing with existing environment variables", "error", err)
	}

	var requested time.Time
	if week != "" {
		t, err := time.Parse("2006-01-02", week)
		if err != nil {
			return fmt.Errorf("invalid -week value %q: %w", week, err)
		}
		requested = t.UTC()
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := pg.NewConnectionPool(ctx, pg.PoolConfig{ConnStr: dbURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	chat, err := llm.NewClient(llm.Config{
		Endpoint: os.Getenv("LLM_ENDPOINT"),
		Model:    os.Getenv("LLM_MODEL"),
		APIKey:   os.Getenv("LLM_API_KEY"),
	})
	if err != nil {
		return fmt.Errorf("failed to create chat client: %w", err)
	}

	forumCfg, err := forum.LoadConfigFile(os.Getenv("FORUM_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load forum config: %w", err)
	}

	var githubOpts []github.Option
	if repo := os.Getenv("GITHUB_REPO"); repo != "" {
		githubOpts = append(githubOpts, github.WithRepo(repo))
	}

	orchestrator := generator.New(generator.Deps{
		Store:      pg.NewArticleStore(pool),
		Content:    github.NewClient(os.Getenv("GITHUB_TOKEN"), githubOpts...),
		Forum:      forum.NewClient(forumCfg.Forums),
		Digest:     forum.NewDigest(chat, nil),
		Summarizer: llm.NewSummarizer(chat, nil),
	})

	article, conflict, err := orchestrator.Generate(ctx, requested)
	if err != nil {
		return err
	}
	if conflict {
		slog.Warn("week already covered", "article_id", article.ID, "status", article.Status)
		return nil
	}
	if article.Status == domain.StatusFailed {
		return fmt.Errorf("generation finished in failed state: %s", article.Title)
	}

	slog.Info("article generated", "article_id", article.ID, "slug", article.Slug, "title", article.Title)
	return nil
}
