package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("defaults must load without a config file: %v", err)
	}
	if cfg.Server.Address != ":10040" {
		t.Fatalf("address: %s", cfg.Server.Address)
	}
	if cfg.Session.Backend != "inmemory" || cfg.Session.TTL != time.Hour {
		t.Fatalf("session defaults: %+v", cfg.Session)
	}
	if cfg.Retrieval.TopK != 3 {
		t.Fatalf("top_k: %d", cfg.Retrieval.TopK)
	}
	if cfg.Risk.Cutpoints.Low != 0.10 || cfg.Risk.Cutpoints.Moderate != 0.30 || cfg.Risk.Cutpoints.High != 0.60 {
		t.Fatalf("cutpoints: %+v", cfg.Risk.Cutpoints)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `{
        "server": {"address": ":9999"},
        "risk": {"adjustments": {"condition:CHF": 2.2}},
        "session": {"ttl": "30m"}
    }`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("address not overridden: %s", cfg.Server.Address)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Fatalf("ttl: %v", cfg.Session.TTL)
	}
	// viper lowercases map keys read from files; the score package
	// matches override keys case-insensitively.
	if cfg.Risk.Adjustments["condition:chf"] != 2.2 {
		t.Fatalf("adjustments: %v", cfg.Risk.Adjustments)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"bad backend", `{"session": {"backend": "bogus"}}`},
		{"redis without host", `{"session": {"backend": "redis"}}`},
		{"descending cutpoints", `{"risk": {"cutpoints": {"low": 0.5, "moderate": 0.3, "high": 0.6}}}`},
	}
	for _, tc := range cases {
		if _, err := LoadConfig(writeConfig(t, tc.body)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("an explicitly named missing file must error")
	}
}
