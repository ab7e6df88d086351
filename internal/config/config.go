package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the bot's startup configuration, read from a JSON or YAML
// file. Token, channel id and admin chat id are required; everything
// else has a usable default.
type Config struct {
	Telegram   TelegramConfig   `json:"telegram"`
	Moderation ModerationConfig `json:"moderation,omitempty"`
	Membership MembershipConfig `json:"membership,omitempty"`
	Broadcast  BroadcastConfig  `json:"broadcast,omitempty"`
	Digest     DigestConfig     `json:"digest,omitempty"`
	Logging    LoggingConfig    `json:"logging,omitempty"`
	Storage    StorageConfig    `json:"storage,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty in the file and supplied via the
	// ANONPOST_BOT_TOKEN environment variable instead.
	Token string `json:"token,omitempty"`

	// ChannelID is the channel submissions get published to.
	ChannelID int64 `json:"channel_id"`

	// AdminChatID receives moderation notifications and decision controls.
	AdminChatID int64 `json:"admin_chat_id"`

	// AdminIDs lists user ids allowed to run admin commands. When
	// empty, the admin chat id doubles as the single admin user.
	AdminIDs []int64 `json:"admin_ids,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type ModerationConfig struct {
	// Mode is "review" (hold for approval, default) or "instant"
	// (publish immediately, admin may delete).
	Mode string `json:"mode,omitempty"`
}

type MembershipConfig struct {
	// Require gates submissions on channel membership.
	Require bool `json:"require,omitempty"`
}

type BroadcastConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 10
}

type DigestConfig struct {
	// Schedule is a cron expression for the pending-submission digest
	// sent to the admin chat. Empty disables the digest.
	Schedule string `json:"schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console,omitempty"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path,omitempty"`   // default "./data"
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// Validate checks the required startup settings. A missing credential
// or chat id is fatal: the process must not start without them.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.BotToken()) == "" {
		missing = append(missing, "telegram.token (or ANONPOST_BOT_TOKEN)")
	}
	if c.Telegram.ChannelID == 0 {
		missing = append(missing, "telegram.channel_id")
	}
	if c.Telegram.AdminChatID == 0 {
		missing = append(missing, "telegram.admin_chat_id")
	}
	if len(missing) > 0 {
		return errors.New("missing required settings: " + strings.Join(missing, ", "))
	}

	switch strings.TrimSpace(c.Moderation.Mode) {
	case "", "review", "instant":
	default:
		return fmt.Errorf("moderation.mode %q is not one of review, instant", c.Moderation.Mode)
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	return nil
}

// BotToken returns the configured token, falling back to the
// environment.
func (c *Config) BotToken() string {
	if tok := strings.TrimSpace(c.Telegram.Token); tok != "" {
		return tok
	}
	return strings.TrimSpace(os.Getenv("ANONPOST_BOT_TOKEN"))
}

// IsAdmin reports whether the user may run admin-only commands.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.AdminIDs {
		if id == userID {
			return true
		}
	}
	return len(c.Telegram.AdminIDs) == 0 && userID == c.Telegram.AdminChatID
}

func (c *Config) PollTimeout() (time.Duration, error) {
	raw := strings.TrimSpace(c.Telegram.PollTimeout)
	if raw == "" {
		return 10 * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("telegram.poll_timeout: %w", err)
	}
	return d, nil
}

func (c *Config) StoragePath() string {
	if p := strings.TrimSpace(c.Storage.Path); p != "" {
		return p
	}
	return "./data"
}

func (c *Config) BusyTimeout() time.Duration {
	raw := strings.TrimSpace(c.Storage.BusyTimeout)
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
