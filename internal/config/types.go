package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Mailing   MailingConfig   `json:"mailing"`
	Retention RetentionConfig `json:"retention,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs is the operator allowlist. Updates from anyone else are ignored.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Example:
//
//	"storage": { "path": "./mailerbot.db" }
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// MailingConfig controls the broadcast send loop.
//
// All durations are Go duration strings (e.g. "100ms", "1s").
//
// Defaults (when fields are omitted/zero):
//   - send_delay: "100ms"
//   - progress_every: 10
//   - session_ttl: "30m"
//   - preview_runes: 200
type MailingConfig struct {
	// SendDelay is the inter-send pause that keeps the bot under the
	// provider's per-second rate limit.
	SendDelay string `json:"send_delay,omitempty"`
	// ProgressEvery emits a progress snapshot after every Nth processed chat.
	ProgressEvery int `json:"progress_every,omitempty"`
	// SessionTTL evicts abandoned selection sessions.
	SessionTTL string `json:"session_ttl,omitempty"`
	// PreviewRunes caps the template text shown on the confirmation screen.
	PreviewRunes int `json:"preview_runes,omitempty"`
}

// RetentionConfig controls the campaign history sweep.
// If the section is omitted or max_age is empty, no sweeping happens.
type RetentionConfig struct {
	// Schedule is a cron expression (5-field), e.g. "0 4 * * *".
	Schedule string `json:"schedule,omitempty"`
	// MaxAge is a Go duration string; completed campaigns older than this
	// are deleted by the sweep.
	MaxAge string `json:"max_age,omitempty"`
}
