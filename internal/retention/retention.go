package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"

	"pawlink/pkg/config"
	"pawlink/pkg/logger"
	"pawlink/pkg/state"
	"pawlink/pkg/store"
)

var storedEff *config.EffectiveConfigResult

// SetEffectiveConfig stores the effective config so tests (or admin
// triggers) can invoke retention runs on-demand.
func SetEffectiveConfig(eff config.EffectiveConfigResult) {
	storedEff = &eff
}

// RunImmediate triggers a single retention run using the stored effective
// config.
func RunImmediate() error {
	if storedEff == nil {
		return fmt.Errorf("no effective config registered for retention run")
	}
	if state.PathsVar.Retention == "" {
		return fmt.Errorf("state paths not initialized")
	}
	return runOnce(context.Background(), *storedEff, state.PathsVar.Retention)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, eff config.EffectiveConfigResult) (context.CancelFunc, error) {
	ret := eff.Config.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	retentionPath := state.PathsVar.Retention
	if err := os.MkdirAll(retentionPath, 0o700); err != nil {
		logger.Error("retention_path_create_failed", "path", retentionPath, "error", err)
		return nil, err
	}

	if _, err := time.ParseDuration(ret.Period); err != nil {
		logger.Error("retention_invalid_period", "period", ret.Period)
		return nil, fmt.Errorf("invalid retention period: %s", ret.Period)
	}

	// default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", ret.Period, "path", retentionPath)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, eff, retentionPath, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, eff config.EffectiveConfigResult, retentionPath, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				logger.Info("retention_scheduler_stopping")
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := runOnce(ctx, eff, retentionPath); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

type runRecord struct {
	Time    string `json:"time"`
	Cutoff  string `json:"cutoff"`
	Removed int    `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// runOnce prunes messages older than the configured period and appends a
// run record under the retention state path.
func runOnce(_ context.Context, eff config.EffectiveConfigResult, retentionPath string) error {
	period, err := time.ParseDuration(eff.Config.Retention.Period)
	if err != nil {
		return fmt.Errorf("invalid retention period: %w", err)
	}
	cutoff := time.Now().UTC().Add(-period)

	removed, perr := store.Purge(cutoff)
	rec := runRecord{
		Time:    time.Now().UTC().Format(time.RFC3339),
		Cutoff:  cutoff.Format(time.RFC3339),
		Removed: removed,
	}
	if perr != nil {
		rec.Error = perr.Error()
	}

	f, ferr := os.OpenFile(filepath.Join(retentionPath, "runs.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if ferr == nil {
		_ = json.NewEncoder(f).Encode(rec)
		f.Close()
	}

	if perr != nil {
		logger.Error("retention_run_failed", "error", perr)
		return perr
	}
	logger.Info("retention_run_complete", "removed", removed, "cutoff", rec.Cutoff)
	return nil
}
