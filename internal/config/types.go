package config

// Config is the file-backed runtime configuration. Secrets never live here;
// see Secrets.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1h").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Content    ContentConfig    `json:"content"`
	Notifier   NotifierConfig   `json:"notifier"`
	Receipts   ReceiptsConfig   `json:"receipts"`
	Ops        OpsConfig        `json:"ops"`
	Alerts     AlertsConfig     `json:"alerts"`
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

// StorageConfig selects the database.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./learnbyemail.db" }
//	"storage": { "driver": "postgres", "dsn_env": "DATABASE_URL" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSNEnv      string `json:"dsn_env,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SchedulerConfig controls the daily delivery triggers.
//
// Defaults:
//   - misfire_grace: "1h"
//   - reconcile_every: "15m" ("0s" disables periodic reconcile)
//   - task_timeout: "3m"
type SchedulerConfig struct {
	Enabled        bool   `json:"enabled"`
	MisfireGrace   string `json:"misfire_grace,omitempty"`
	ReconcileEvery string `json:"reconcile_every,omitempty"`
	TaskTimeout    string `json:"task_timeout,omitempty"`
}

// TaskEngineConfig controls the worker pool running deliveries.
//
// Defaults: workers 4, queue_size 256, history_size 200.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

type DeliveryConfig struct {
	DedupWindow     string `json:"dedup_window,omitempty"`    // default "1h"
	HistoryContext  int    `json:"history_context,omitempty"` // prior lessons passed to content, default 3
	ContinueURL     string `json:"continue_url,omitempty"`
	SignupURL       string `json:"signup_url,omitempty"`
	UnsubscribeHint string `json:"unsubscribe_hint,omitempty"`
}

type ContentConfig struct {
	Provider      string  `json:"provider"` // gemini | static
	Model         string  `json:"model,omitempty"`
	Timeout       string  `json:"timeout,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxPriorChars int     `json:"max_prior_chars,omitempty"`
}

// NotifierConfig controls outbound email.
//
// Transports are tried in order; each gets one attempt per delivery.
type NotifierConfig struct {
	Transports     []string `json:"transports"`
	AttemptTimeout string   `json:"attempt_timeout,omitempty"`
	RatePerSec     int      `json:"rate_per_sec,omitempty"`
	From           string   `json:"from"`
	ReplyTo        string   `json:"reply_to,omitempty"`
	SMTPHost       string   `json:"smtp_host,omitempty"`
	SMTPPort       int      `json:"smtp_port,omitempty"`
	FiledropDir    string   `json:"filedrop_dir,omitempty"`
	HistorySize    int      `json:"history_size,omitempty"`
}

type ReceiptsConfig struct {
	Enabled bool   `json:"enabled"`
	TTL     string `json:"ttl,omitempty"`
}

// OpsConfig controls the operator HTTP server.
//
// Prefer binding to localhost. A non-loopback address needs OPS_TOKEN or an
// explicit allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

// AlertsConfig routes high-severity log lines to a Telegram chat.
// Requires TELEGRAM_ALERT_TOKEN.
type AlertsConfig struct {
	Enabled        bool   `json:"enabled"`
	TelegramChatID int64  `json:"telegram_chat_id,omitempty"`
	ThreadID       int    `json:"thread_id,omitempty"`
	MinLevel       string `json:"min_level,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
}
