package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ethdevwatch/ethdevwatch/internal/forum"
	"github.com/ethdevwatch/ethdevwatch/internal/llm"
	"github.com/ethdevwatch/ethdevwatch/pkg/config/env"
)

type AppConfig struct {
	ENV string
}

func NewAppConfig() *AppConfig {
	return &AppConfig{
		ENV: os.Getenv("ENV"),
	}
}

type DigestConfig struct {
	DatabaseURL  string
	GithubToken  string
	GithubRepo   string
	LLM          llm.Config
	Forums       []forum.Endpoint
	RunScheduler bool
}

func (ac *AppConfig) Load() (*DigestConfig, error) {
	if err := env.LoadDotEnv(ac.ENV, "cmd/digest_api/.env"); err != nil {
		slog.Info("Failed to load .env, continuing with existing environment variables", "error", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	forumCfg, err := forum.LoadConfigFile(os.Getenv("FORUM_CONFIG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("failed to load forum config: %w", err)
	}

	return &DigestConfig{
		DatabaseURL: dbURL,
		GithubToken: os.Getenv("GITHUB_TOKEN"),
		GithubRepo:  os.Getenv("GITHUB_REPO"),
		LLM: llm.Config{
			Endpoint: os.Getenv("LLM_ENDPOINT"),
			Model:    os.Getenv("LLM_MODEL"),
			APIKey:   os.Getenv("LLM_API_KEY"),
		},
		Forums:       forumCfg.Forums,
		RunScheduler: os.Getenv("DISABLE_SCHEDULER") != "true",
	}, nil
}
