// Package main Ethereum Dev Watch API
// Serves the weekly Ethereum development digest and runs the generation
// scheduler.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/ethdevwatch/ethdevwatch/internal/forum"
	"github.com/ethdevwatch/ethdevwatch/internal/generator"
	"github.com/ethdevwatch/ethdevwatch/internal/github"
	"github.com/ethdevwatch/ethdevwatch/internal/llm"
	"github.com/ethdevwatch/ethdevwatch/internal/router"
	"github.com/ethdevwatch/ethdevwatch/internal/scheduler"
	"github.com/ethdevwatch/ethdevwatch/internal/server"
	"github.com/ethdevwatch/ethdevwatch/internal/storage/pg"
	pkgserver "github.com/ethdevwatch/ethdevwatch/pkg/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	sCfg, err := server.LoadConfig()
	if err != nil {
		slog.Error("Failed to load server config", "error", err)
		os.Exit(1)
	}

	appSettings := NewAppConfig()
	cfg, err := appSettings.Load()
	if err != nil {
		slog.Error("Failed to load app configuration", "error", err)
		os.Exit(1)
	}

	pool, err := pg.NewConnectionPool(context.Background(), pg.PoolConfig{ConnStr: cfg.DatabaseURL})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	s := server.New(sCfg, pkgserver.NewPingHealthChecker(pool.Ping))
	ctx := s.Context()

	store := pg.NewArticleStore(pool)

	// Future-dated rows are leftovers from clock mistakes; clear them before
	// anything can serve or claim against them.
	if n, err := store.DeleteFutureDated(ctx); err != nil {
		slog.Error("Failed to clean up future-dated articles", "error", err)
	} else if n > 0 {
		slog.Warn("Deleted future-dated articles", "count", n)
	}

	chat, err := llm.NewClient(cfg.LLM)
	if err != nil {
		slog.Error("Failed to create chat client", "error", err)
		os.Exit(1)
	}

	var githubOpts []github.Option
	if cfg.GithubRepo != "" {
		githubOpts = append(githubOpts, github.WithRepo(cfg.GithubRepo))
	}

	orchestrator := generator.New(generator.Deps{
		Store:      store,
		Content:    github.NewClient(cfg.GithubToken, githubOpts...),
		Forum:      forum.NewClient(cfg.Forums),
		Digest:     forum.NewDigest(chat, nil),
		Summarizer: llm.NewSummarizer(chat, nil),
	})

	router.NewArticleRouter(s.Echo, store, orchestrator).Bind()

	if cfg.RunScheduler {
		scheduler.New(orchestrator, store, nil).Start(ctx)
	}

	if err := s.Start(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}
