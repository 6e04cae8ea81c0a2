package config

// Config is the root document. JSON or YAML, decoded strictly: unknown keys
// are rejected. Durations are Go duration strings ("10s", "5m").
type Config struct {
	Telegram  TelegramConfig   `json:"telegram"`
	Logging   LoggingConfig    `json:"logging"`
	Scheduler SchedulerConfig  `json:"scheduler"`
	JobEngine *JobEngineConfig `json:"job_engine,omitempty"`
	Notifier  *NotifierConfig  `json:"notifier,omitempty"`
	Storage   *StorageConfig   `json:"storage,omitempty"`
	Extract   ExtractConfig    `json:"extract"`
	Speech    SpeechConfig     `json:"speech"`
	Reminders RemindersConfig  `json:"reminders"`
	Router    RouterConfig     `json:"router"`
}

type TelegramConfig struct {
	// Token falls back to $BOT_TOKEN when empty.
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Operator LoggingOperator `json:"operator"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingOperator mirrors warn+ logs into one chat.
type LoggingOperator struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Timezone for cron triggers and task datetimes. Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// JobEngineConfig controls the worker pool that runs reminders and
// recurring jobs.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 0.
type JobEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifierConfig controls the delivery queue. Omitting the section keeps
// delivery enabled with defaults.
//
// RetryMax only affects replies; reminders, summaries and nudges are sent
// once. Nil means 0.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      *int   `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
	SendTimeout   string `json:"send_timeout"`
}

// StorageConfig selects the task store driver: sqlite (default), file or memory.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type ExtractConfig struct {
	Gemini GeminiConfig `json:"gemini"`
	// CacheSize <= 0 disables the extraction cache.
	CacheSize int    `json:"cache_size"`
	CacheTTL  string `json:"cache_ttl"`
}

type GeminiConfig struct {
	// APIKey falls back to $GEMINI_API_KEY. No key means fallback-only extraction.
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	APIURL  string `json:"api_url,omitempty"`
	Timeout string `json:"timeout"`
}

// SpeechConfig points at an external transcription CLI. "{input}" and "{lang}"
// in Args are replaced with the audio path and Language; without "{input}"
// the path is appended.
type SpeechConfig struct {
	Command  string   `json:"command"`
	Args     []string `json:"args,omitempty"`
	Language string   `json:"language"`
	Timeout  string   `json:"timeout"`
}

type RemindersConfig struct {
	// DailySummaryAt is local "HH:MM". Default "22:00".
	DailySummaryAt string `json:"daily_summary_at"`
	// GapCheck is a cron spec. Default "*/30 * * * *".
	GapCheck        string          `json:"gap_check"`
	DefaultSchedule []DefaultSlot   `json:"default_schedule,omitempty"`
	Timeouts        ReminderTimeout `json:"timeouts"`
}

type DefaultSlot struct {
	At       string `json:"at"`
	Activity string `json:"activity"`
}

type ReminderTimeout struct {
	Reminder     string `json:"reminder"`
	DailySummary string `json:"daily_summary"`
	GapCheck     string `json:"gap_check"`
}

type RouterConfig struct {
	Workers        int    `json:"workers"`
	HandlerTimeout string `json:"handler_timeout"`
	// UserRatePerMin bounds messages per user. 0 disables the limit.
	UserRatePerMin int `json:"user_rate_per_min"`
}
