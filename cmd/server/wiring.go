package main

import (
	"context"
	"fmt"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/lifeline/internal/cfg"
	"github.com/linnemanlabs/lifeline/internal/notify"
	"github.com/linnemanlabs/lifeline/internal/notify/slack"
	"github.com/linnemanlabs/lifeline/internal/notify/webhook"
	"github.com/linnemanlabs/lifeline/internal/policy"
	"github.com/linnemanlabs/lifeline/internal/postgres"
	"github.com/linnemanlabs/lifeline/internal/session"
	"github.com/linnemanlabs/lifeline/internal/session/memstore"
	"github.com/linnemanlabs/lifeline/internal/session/pgstore"
	"github.com/linnemanlabs/lifeline/internal/session/sqlitestore"
)

// openStore builds the session store DatabaseURL selects. The returned
// closer releases the underlying connections and is never nil.
func openStore(ctx context.Context, appCfg *cfg.Config, L log.Logger) (session.Store, func(), error) {
	kind, err := appCfg.StoreKind()
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case cfg.StoreSQLite:
		s, err := sqlitestore.Open(ctx, appCfg.SQLitePath())
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite store: %w", err)
		}
		L.Info(ctx, "using sqlite store", "path", appCfg.SQLitePath())
		return s, func() { _ = s.Close() }, nil

	case cfg.StorePostgres:
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return s, pool.Close, nil

	default:
		L.Info(ctx, "using in-memory store (no database-url configured)")
		return memstore.New(), func() {}, nil
	}
}

// loadPolicy compiles the policy file layered over the defaults, or the
// defaults alone when no file is configured.
func loadPolicy(appCfg *cfg.Config) (*policy.Compiled, error) {
	if appCfg.PolicyFile == "" {
		return policy.Compile(policy.Defaults()), nil
	}
	p, err := policy.Load(appCfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	return policy.Compile(p), nil
}

// buildNotifier returns the configured dispatch sinks, or nil when none are.
func buildNotifier(ctx context.Context, appCfg *cfg.Config, L log.Logger) *notify.Multi {
	var ns []notify.Notifier
	if appCfg.DispatchWebhookURL != "" {
		ns = append(ns, webhook.New(appCfg.DispatchWebhookURL, L))
		L.Info(ctx, "notifier enabled", "type", "webhook")
	}
	if appCfg.SlackWebhookURL != "" {
		ns = append(ns, slack.New(appCfg.SlackWebhookURL, L))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	if len(ns) == 0 {
		return nil
	}
	return notify.NewMulti(ns...)
}

// linkProfiles wraps the global tracer provider so spans carry pyroscope
// profile IDs. It does nothing unless continuous profiling is running.
func linkProfiles(profiling bool) bool {
	if !profiling {
		return false
	}
	otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	return true
}
