package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

const validJSON = `{
  "telegram": {
    "token": "123:abc",
    "channel_id": -100500,
    "admin_chat_id": 900
  }
}`

func TestLoadValidJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", validJSON))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.ChannelID != -100500 || cfg.Telegram.AdminChatID != 900 {
		t.Fatalf("unexpected config: %+v", cfg.Telegram)
	}
	if m.Get() != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadValidYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  channel_id: -100500
  admin_chat_id: 900
  admin_ids: [900, 901]
moderation:
  mode: instant
broadcast:
  rate_per_sec: 5
`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Moderation.Mode != "instant" || cfg.Broadcast.RatePerSec != 5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.IsAdmin(901) || cfg.IsAdmin(902) {
		t.Fatal("admin_ids not honored")
	}
}

func TestLoadMissingRequiredFails(t *testing.T) {
	t.Setenv("ANONPOST_BOT_TOKEN", "")
	m := NewManager(writeConfig(t, "config.json", `{"telegram": {"channel_id": -1}}`))
	_, err := m.Load()
	if err == nil {
		t.Fatal("expected error for missing token and admin chat")
	}
	if !strings.Contains(err.Error(), "admin_chat_id") {
		t.Fatalf("error should name the missing field: %v", err)
	}
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv("ANONPOST_BOT_TOKEN", "456:env")
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram": {"channel_id": -1, "admin_chat_id": 2}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken() != "456:env" {
		t.Fatalf("BotToken = %q", cfg.BotToken())
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{
  "telegram": {"token": "t", "channel_id": -1, "admin_chat_id": 2},
  "telgram_typo": true
}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected unknown-field rejection")
	}
}

func TestInvalidModerationMode(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{
  "telegram": {"token": "t", "channel_id": -1, "admin_chat_id": 2},
  "moderation": {"mode": "vibes"}
}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected moderation.mode rejection")
	}
}

func TestAdminFallsBackToAdminChat(t *testing.T) {
	cfg := &Config{Telegram: TelegramConfig{AdminChatID: 900}}
	if !cfg.IsAdmin(900) {
		t.Fatal("admin chat id should act as admin when admin_ids is empty")
	}
	if cfg.IsAdmin(901) {
		t.Fatal("other users are not admins")
	}
}
