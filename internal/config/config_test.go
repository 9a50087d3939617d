package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const yamlConfig = `
telegram:
  token: "123:abc"
logging:
  level: debug
  console: true
feed:
  url: "https://example.com/rss"
  poll_interval: "30s"
storage:
  dir: "/tmp/rbstore"
dispatch:
  queue_size: 5
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Feed.PollInterval != "30s" {
		t.Fatalf("poll_interval = %q", cfg.Feed.PollInterval)
	}
	if cfg.Dispatch.QueueSize != 5 {
		t.Fatalf("queue_size = %d", cfg.Dispatch.QueueSize)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed snapshot")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig+"\nbogus_section:\n  x: 1\n"))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "bogus_section") {
		t.Fatalf("expected unknown-field error, got %v", err)
	}
}

func TestLoadRequiresTokenAndURL(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("FEED_URL", "")

	m := NewManager(writeConfig(t, "config.yaml", "logging:\n  console: true\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected validation error for missing token")
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "env-token")
	t.Setenv("FEED_URL", "https://env.example/rss")
	t.Setenv("STORE_DIR", "/var/lib/releasebot")

	m := NewManager(writeConfig(t, "config.yaml", "logging:\n  console: true\n"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Feed.URL != "https://env.example/rss" {
		t.Fatalf("env fallback not applied: %+v", cfg)
	}
	if cfg.Storage.Dir != "/var/lib/releasebot" {
		t.Fatalf("storage dir = %q", cfg.Storage.Dir)
	}
	if got := cfg.Storage.CursorPath(); got != filepath.Join("/var/lib/releasebot", "last_seen.txt") {
		t.Fatalf("cursor path = %q", got)
	}
}

func TestStoragePathsFollowDriver(t *testing.T) {
	c := StorageConfig{Driver: "sqlite", Dir: "/d"}
	if got := c.SubscriptionsPath(); got != filepath.Join("/d", "subscriptions.db") {
		t.Fatalf("sqlite path = %q", got)
	}
	c.Driver = ""
	if got := c.SubscriptionsPath(); got != filepath.Join("/d", "subscriptions.json") {
		t.Fatalf("file path = %q", got)
	}
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	cfg := &Config{
		Telegram: TelegramConfig{Token: "t"},
		Feed:     FeedConfig{URL: "u"},
		Resolver: ResolverConfig{Strategy: "carrier-pigeon"},
	}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("expected strategy error, got %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"3m", 3 * time.Minute, false},
		{"-1s", 0, true},
		{"sixty", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("feed.poll_interval", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %v, %v", tc.raw, got, err)
		}
	}

	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}

func TestJanitorEnabledDefault(t *testing.T) {
	var j JanitorConfig
	if !j.IsEnabled() {
		t.Fatal("omitted janitor.enabled must default to true")
	}
	off := false
	j.Enabled = &off
	if j.IsEnabled() {
		t.Fatal("explicit false must disable the janitor")
	}
}
