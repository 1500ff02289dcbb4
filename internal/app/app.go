package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"pawlink/internal/retention"
	"pawlink/pkg/broker"
	"pawlink/pkg/config"
	"pawlink/pkg/logger"
	"pawlink/pkg/state"
	"pawlink/pkg/store"
	"pawlink/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	broker *broker.Broker
	srv    *http.Server
}

// New initializes resources that do not require a running context: state
// layout, store, broker, validation rules, runtime keys. Call Run to
// start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	// runtime keys: backend keys double as signing secrets
	runtimeCfg := &config.RuntimeConfig{BackendKeys: map[string]struct{}{}, SigningKeys: map[string]struct{}{}}
	for _, k := range eff.Config.Security.APIKeys.Backend {
		runtimeCfg.BackendKeys[k] = struct{}{}
		runtimeCfg.SigningKeys[k] = struct{}{}
	}
	config.SetRuntime(runtimeCfg)

	if eff.Config.Validation.MaxBodyLen > 0 {
		validation.SetMaxBodyLen(eff.Config.Validation.MaxBodyLen)
	}

	if err := state.Init(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to initialize state layout at %s: %w", eff.DBPath, err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		broker:    broker.New(eff.Config.Security.CORS.AllowedOrigins),
	}, nil
}

// Run starts the retention scheduler and the HTTP server, and blocks
// until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	retention.SetEffectiveConfig(a.eff)
	retCancel, err := retention.Start(ctx, a.eff)
	if err != nil {
		return err
	}
	defer retCancel()

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(shctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err.Error())
		}
		if err := store.Close(); err != nil {
			logger.Warn("store_close_error", "error", err.Error())
		}
		return nil
	case err := <-errCh:
		return err
	}
}
