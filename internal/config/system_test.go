package config

import (
	"path/filepath"
	"testing"
)

func TestLoadSystemConfigReturnsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadSystemConfig(dir, "mylib")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := DefaultSystemConfig()
	if cfg.ScanImages != want.ScanImages || cfg.CronSchedule != want.CronSchedule {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestSaveAndLoadSystemConfigRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultSystemConfig()
	cfg.ScanAudio = true
	cfg.IncludedFolders = []string{"/media/movies", "/media/shows"}
	cfg.ContinuousFilescan.Enabled = true

	if err := SaveSystemConfig(dir, "mylib", cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := LoadSystemConfig(dir, "mylib")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.ScanAudio || !got.ContinuousFilescan.Enabled {
		t.Fatalf("round trip lost fields: %+v", got)
	}
	if len(got.IncludedFolders) != 2 {
		t.Fatalf("expected 2 included folders, got %v", got.IncludedFolders)
	}
}

func TestSystemConfigPathLayout(t *testing.T) {
	got := SystemConfigPath("/data", "mylib")
	want := filepath.Join("/data", "index", "mylib", "system_config.toml")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
