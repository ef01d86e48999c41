package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-engine/internal/action"
	"github.com/sells-group/pipeline-engine/internal/engine"
	"github.com/sells-group/pipeline-engine/internal/notify"
	"github.com/sells-group/pipeline-engine/internal/scoring"
	"github.com/sells-group/pipeline-engine/internal/store"
	"github.com/sells-group/pipeline-engine/internal/suggest"
	"github.com/sells-group/pipeline-engine/pkg/suggestgen"
)

// env bundles the wired subsystems shared by the commands.
type env struct {
	Store    store.Store
	Engine   *engine.Engine
	Workflow *suggest.Workflow
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "pipeline.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEnv(ctx context.Context) (*env, error) {
	s, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.RPS)
	}

	scorer := scoring.NewScorer(s, cfg.Scoring.Concurrency)
	executor := action.NewExecutor(s, notifier, cfg.Automation.DefaultEscalateTo)
	eng := engine.New(s, scorer, executor, cfg.Alerts)

	var generator suggestgen.Generator
	if cfg.Anthropic.Key != "" {
		generator = suggestgen.NewClient(cfg.Anthropic.Key, cfg.Anthropic.Model)
	}
	cooldown := time.Duration(cfg.AI.ScanCooldownMinutes) * time.Minute
	workflow := suggest.NewWorkflow(s, eng, generator, cooldown)

	return &env{Store: s, Engine: eng, Workflow: workflow}, nil
}
