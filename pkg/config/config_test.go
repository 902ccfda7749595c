package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q", cfg.Port)
	}
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("connect timeout = %s", cfg.ConnectTimeout)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Errorf("reconnect delay = %s", cfg.ReconnectDelay)
	}
	if cfg.CandleInterval != 30*time.Second || cfg.CandleLimit != 300 {
		t.Errorf("candles = %s / %d", cfg.CandleInterval, cfg.CandleLimit)
	}
	if cfg.PollInterval != 10*time.Second || cfg.PollGrace != 10*time.Second {
		t.Errorf("poll = %s / %s", cfg.PollInterval, cfg.PollGrace)
	}
	if cfg.MartingaleMaxLevel != 2 || !cfg.MartingaleEnabled {
		t.Errorf("martingale = %v / %d", cfg.MartingaleEnabled, cfg.MartingaleMaxLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RECONNECT_DELAY", "2s")
	t.Setenv("CANDLE_LIMIT", "100")
	t.Setenv("MARTINGALE_ENABLED", "false")
	t.Setenv("BROKER_RATE", "1.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Errorf("reconnect delay = %s", cfg.ReconnectDelay)
	}
	if cfg.CandleLimit != 100 {
		t.Errorf("candle limit = %d", cfg.CandleLimit)
	}
	if cfg.MartingaleEnabled {
		t.Error("martingale should be disabled")
	}
	if cfg.BrokerRate != 1.5 {
		t.Errorf("broker rate = %v", cfg.BrokerRate)
	}
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("CANDLE_LIMIT", "many")
	t.Setenv("POLL_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CandleLimit != 300 {
		t.Errorf("candle limit = %d, want default", cfg.CandleLimit)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("poll interval = %s, want default", cfg.PollInterval)
	}
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	content := "assets:\n  - EURUSD-OTC\n  - GBPUSD\nstake: 25\nduration_ms: 60000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if len(p.Assets) != 2 || p.Assets[0] != "EURUSD-OTC" {
		t.Errorf("assets = %v", p.Assets)
	}
	if p.Stake != 25 || p.DurationMs != 60_000 {
		t.Errorf("stake/duration = %v / %d", p.Stake, p.DurationMs)
	}
}

func TestLoadProfileDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte("assets: [EURUSD]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile: %v", err)
	}
	if p.Stake != 10 || p.DurationMs != 30_000 {
		t.Errorf("defaults = %v / %d", p.Stake, p.DurationMs)
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	if _, err := LoadProfile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing profile")
	}
}
