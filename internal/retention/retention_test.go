package retention

import (
	"context"
	"testing"
	"time"

	"pawlink/pkg/config"
	"pawlink/pkg/models"
	"pawlink/pkg/state"
	"pawlink/pkg/store"
)

func setup(t *testing.T, retCfg func(*config.Config)) config.EffectiveConfigResult {
	t.Helper()
	dir := t.TempDir()
	if err := state.Init(dir); err != nil {
		t.Fatalf("state init failed: %v", err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		t.Fatalf("store open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	if retCfg != nil {
		retCfg(cfg)
	}
	return config.EffectiveConfigResult{Config: cfg, DBPath: dir, Source: "flags"}
}

func TestRunImmediatePrunesOldMessages(t *testing.T) {
	eff := setup(t, func(c *config.Config) {
		c.Retention.Enabled = true
		c.Retention.Period = "24h"
	})
	SetEffectiveConfig(eff)

	old := models.Message{Sender: "alice", Recipient: "shelter-1", Body: "old", TS: time.Now().UTC().Add(-48 * time.Hour)}
	fresh := models.Message{Sender: "alice", Recipient: "shelter-1", Body: "fresh", TS: time.Now().UTC()}
	if err := store.Append(&old); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.Append(&fresh); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := RunImmediate(); err != nil {
		t.Fatalf("retention run failed: %v", err)
	}

	msgs, err := store.History("alice", "shelter-1")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "fresh" {
		t.Fatalf("unexpected surviving messages: %+v", msgs)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	eff := setup(t, nil)
	cancel, err := Start(context.Background(), eff)
	if err != nil {
		t.Fatalf("disabled retention errored: %v", err)
	}
	cancel()
}

func TestStartRejectsBadCron(t *testing.T) {
	eff := setup(t, func(c *config.Config) {
		c.Retention.Enabled = true
		c.Retention.Period = "24h"
		c.Retention.Cron = "not a cron"
	})
	if _, err := Start(context.Background(), eff); err == nil {
		t.Fatalf("invalid cron accepted")
	}
}

func TestStartRejectsBadPeriod(t *testing.T) {
	eff := setup(t, func(c *config.Config) {
		c.Retention.Enabled = true
		c.Retention.Period = "one fortnight"
	})
	if _, err := Start(context.Background(), eff); err == nil {
		t.Fatalf("invalid period accepted")
	}
}
