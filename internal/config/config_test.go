package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != DefaultHTTPAddr {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.Archive.MaxMessagesPerChannel != DefaultMaxMessagesPerChannel {
		t.Fatalf("expected default retention cap, got %d", cfg.Archive.MaxMessagesPerChannel)
	}
	if cfg.MediaCache.ImageCap != DefaultImageCap || cfg.MediaCache.MediaCap != DefaultMediaCap {
		t.Fatalf("expected default sweep caps, got %+v", cfg.MediaCache)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"

[archive]
max_messages_per_channel = 200
debounce = "250ms"

[[ingest.blocked_platforms]]
name = "sandbox"
exact = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected override, got %q", cfg.Server.Addr)
	}
	if cfg.Archive.MaxMessagesPerChannel != 200 {
		t.Fatalf("expected override, got %d", cfg.Archive.MaxMessagesPerChannel)
	}
	if cfg.Archive.KeepOnClear != DefaultKeepOnClear {
		t.Fatalf("untouched keys must keep defaults, got %d", cfg.Archive.KeepOnClear)
	}
	if len(cfg.Ingest.BlockedPlatforms) != 1 || !cfg.Ingest.BlockedPlatforms[0].Exact {
		t.Fatalf("expected blocked platform entry, got %+v", cfg.Ingest.BlockedPlatforms)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[log]
level = "loud"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("250ms", "1s"); got != 250*time.Millisecond {
		t.Fatalf("expected parsed value, got %v", got)
	}
	if got := Duration("", "1s"); got != time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := Duration("garbage", "5m"); got != 5*time.Minute {
		t.Fatalf("expected fallback on parse error, got %v", got)
	}
}
