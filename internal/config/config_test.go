package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MR_MAILGUN_API_KEY", "key-test")
	t.Setenv("MR_TYPETALK_CLIENT_ID", "client")
	t.Setenv("MR_TYPETALK_CLIENT_SECRET", "secret")
	t.Setenv("MR_TYPETALK_FALLBACK_TOPIC_ID", "97119")
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MR_HTTP_ADDR", ":9000")
	t.Setenv("MR_PUBLIC_BASE_URL", "https://relay.example.com/")
	t.Setenv("MR_MAILGUN_SENDER_HEADERS", "From, X-Original-Sender")
	t.Setenv("MR_STORE_DRIVER", "redis")
	t.Setenv("MR_REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("MR_MAX_BODY_CHARS", "100")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("expected http addr override")
	}
	if cfg.Typetalk.FallbackTopicID != 97119 {
		t.Fatalf("expected fallback topic override, got %d", cfg.Typetalk.FallbackTopicID)
	}
	if len(cfg.Mailgun.SenderHeaders) != 2 || cfg.Mailgun.SenderHeaders[0] != "From" {
		t.Fatalf("unexpected sender headers: %v", cfg.Mailgun.SenderHeaders)
	}
	if cfg.Store.Driver != "redis" || cfg.Store.RedisURL != "redis://127.0.0.1:6379/0" {
		t.Fatalf("expected store overrides")
	}
	if cfg.Relay.MaxBodyChars != 100 {
		t.Fatalf("expected max body override")
	}
	if got := cfg.ViewMessageURL(); got != "https://relay.example.com/view_message" {
		t.Fatalf("unexpected view url: %s", got)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("MR_LOCALE", "en")
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte("relay:\n  topic_prefix: typetalk-\n  locale: ja\n  view_message_url: https://view.example.com/v\nstore:\n  driver: memory\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.TopicPrefix != "typetalk-" {
		t.Fatalf("expected yaml topic prefix, got %q", cfg.Relay.TopicPrefix)
	}
	if cfg.Relay.Locale != "en" {
		t.Fatalf("expected env to win over yaml, got %q", cfg.Relay.Locale)
	}
	if cfg.ViewMessageURL() != "https://view.example.com/v" {
		t.Fatalf("expected explicit view url")
	}
	if cfg.Relay.MaxBodyChars != 3500 {
		t.Fatalf("expected default max body chars")
	}
}

func TestLoadMissingSecrets(t *testing.T) {
	t.Setenv("MR_MAILGUN_API_KEY", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for missing mailgun key")
	}

	setRequired(t)
	t.Setenv("MR_TYPETALK_FALLBACK_TOPIC_ID", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for missing fallback topic")
	}
}

func TestReadSkipsValidation(t *testing.T) {
	t.Setenv("MR_MAILGUN_API_KEY", "")
	t.Setenv("MR_MAILGUN_OWN_DOMAIN", "Relay.Example.COM.")
	cfg, err := Read("")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cfg.Mailgun.OwnDomain != "relay.example.com" {
		t.Fatalf("expected canonical own domain, got %q", cfg.Mailgun.OwnDomain)
	}

	t.Setenv("MR_MAILGUN_OWN_DOMAIN", "https://relay.example.com/")
	if _, err := Read(""); err == nil {
		t.Fatalf("expected error for url as own domain")
	}
}

func TestCanonicalDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{" MX.Example.com. ", "mx.example.com", true},
		{"relay.example.co.jp", "relay.example.co.jp", true},
		{"", "", false},
		{"localhost", "", false},
		{"user@example.com", "", false},
		{"example.com/path", "", false},
		{"-bad.example.com", "", false},
	}
	for _, tc := range cases {
		got, err := CanonicalDomain(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("CanonicalDomain(%q) = %q, %v", tc.in, got, err)
		}
	}
}
