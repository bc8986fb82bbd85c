package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
	if cfg.Pipeline.TopN != 20 || cfg.Pipeline.RetentionDays != 7 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.SearchTTL != 15*time.Minute || cfg.Pipeline.DetailTTL != time.Hour || cfg.Pipeline.ReviewsTTL != time.Hour {
		t.Fatalf("unexpected ttl defaults: %+v", cfg.Pipeline)
	}
	if cfg.Normalization.Rates["cny"] != 0.139 {
		t.Fatalf("expected CNY rate 0.139, got %#v", cfg.Normalization.Rates)
	}
	hour, minute, err := cfg.Scheduler.Clock()
	if err != nil || hour != 2 || minute != 0 {
		t.Fatalf("expected 02:00, got %d:%d (%v)", hour, minute, err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
pipeline:
  top_n: 10
  search_ttl: 5m
scheduler:
  run_at: "03:30"
  workers: 2
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BREAKOUTRADAR_PIPELINE_RETENTION_DAYS", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.TopN != 10 || cfg.Pipeline.SearchTTL != 5*time.Minute {
		t.Fatalf("file values not applied: %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.RetentionDays != 3 {
		t.Fatalf("env override not applied: %d", cfg.Pipeline.RetentionDays)
	}
	if cfg.Scheduler.Workers != 2 {
		t.Fatalf("workers = %d", cfg.Scheduler.Workers)
	}
}

func TestValidateRejectsOversizedTopN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  top_n: 21\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("top_n > 20 应报错")
	}
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("alerting:\n  telegram:\n    enabled: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("缺少 bot_token 应报错")
	}
}

func TestResolveDays(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDays: 30}}
	if got := cfg.ResolveDays(0); got != 30 {
		t.Fatalf("default = %d", got)
	}
	if got := cfg.ResolveDays(7); got != 7 {
		t.Fatalf("override = %d", got)
	}
	if got := cfg.ResolveDays(90); got != 30 {
		t.Fatalf("capped = %d", got)
	}
}
