package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccess(t *testing.T) {
	path := writeTempConfig(t, `{
		"localaddr": "127.0.0.1:29900",
		"remoteaddr": "127.0.0.1:29900",
		"min_non_deadline_share": 0.3,
		"max_starvation_ms": 40,
		"conn_window_bytes": 1048576,
		"stream_window_bytes": 65536,
		"base_rate_bytes_sec": 500000,
		"streams": [
			{"stream_id": 4, "bytes": 5120, "deadline_ms": 50, "class": "hard"},
			{"stream_id": 8, "bytes": 10240, "deadline_ms": 0, "class": ""}
		]
	}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.LocalAddr != "127.0.0.1:29900" || cfg.MinNonDeadlineShare != 0.3 {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if len(cfg.Streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(cfg.Streams))
	}
	if cfg.Streams[0].Class != "hard" || cfg.Streams[0].DeadlineMS != 50 {
		t.Fatalf("unexpected first stream: %+v", cfg.Streams[0])
	}
	if cfg.Streams[1].DeadlineMS != 0 {
		t.Fatalf("expected second stream to carry no deadline: %+v", cfg.Streams[1])
	}
}

func TestParseJSONConfigMissingFile(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
