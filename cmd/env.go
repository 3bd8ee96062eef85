package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/groveworks/canopy/internal/match"
	"github.com/groveworks/canopy/internal/normalize"
	"github.com/groveworks/canopy/internal/reconcile"
	"github.com/groveworks/canopy/internal/registry"
	"github.com/groveworks/canopy/internal/store"
	"github.com/groveworks/canopy/pkg/vision"
)

// env bundles the wired application components for a command run.
type env struct {
	Store      store.Store
	Registry   *registry.Service
	Pipeline   *reconcile.Pipeline
	Classifier vision.Client
}

// initEnv opens the configured store and wires the reconciliation core.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	svc := registry.New(st, match.New(cfg.Match))
	pipeline := reconcile.New(normalize.New(), svc, st, cfg.Batch.Workers)

	e := &env{
		Store:    st,
		Registry: svc,
		Pipeline: pipeline,
	}
	if cfg.Classifier.BaseURL != "" {
		e.Classifier = vision.NewClient(cfg.Classifier.Key, cfg.Classifier.BaseURL,
			vision.WithRateLimit(cfg.Classifier.RatePerSec),
		)
	}
	return e, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (e *env) Close() {
	_ = e.Store.Close()
}
