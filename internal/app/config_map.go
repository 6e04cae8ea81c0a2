package app

import (
	"fmt"
	"strings"
	"time"

	"taskbot/internal/config"
	"taskbot/internal/extract/gemini"
	"taskbot/internal/job/engine"
	"taskbot/internal/notifier"
	"taskbot/internal/reminder"
	"taskbot/internal/router"
	"taskbot/internal/speech"
	"taskbot/internal/storage"
	"taskbot/pkg/logx"
)

// Component configs derived from one config.Config. Every mapper parses
// durations and fails on bad values, so the validator can reuse them on
// hot reload.

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Operator: logx.OperatorConfig{
			Enabled:    cfg.Logging.Operator.Enabled,
			ChatID:     cfg.Logging.Operator.ChatID,
			MinLevel:   cfg.Logging.Operator.MinLevel,
			RatePerSec: cfg.Logging.Operator.RatePerSec,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{Enabled: true, Workers: 2, QueueSize: 256, HistorySize: 200}
	je := cfg.JobEngine
	if je == nil {
		return out, nil
	}
	if je.Workers < 0 || je.QueueSize < 0 || je.HistorySize < 0 || je.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("job_engine: workers, queue_size, history_size and retry_max must be >= 0")
	}
	if je.Workers != 0 {
		out.Workers = je.Workers
	}
	if je.QueueSize != 0 {
		out.QueueSize = je.QueueSize
	}
	if je.HistorySize != 0 {
		out.HistorySize = je.HistorySize
	}
	out.RetryMax = je.RetryMax
	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("job_engine.default_timeout", je.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("job_engine.max_queue_delay", je.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	return out, nil
}

// mapNotifierConfig keeps delivery enabled with defaults when the section is
// omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      20,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		DedupWindow:     10 * time.Minute,
		DedupMaxEntries: 2000,
		SendTimeout:     10 * time.Second,
	}
	n := cfg.Notifier
	if n == nil {
		return out, nil
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || (n.RetryMax != nil && *n.RetryMax < 0) {
		return notifier.Config{}, fmt.Errorf("notifier: workers, queue_size, rate_per_sec and retry_max must be >= 0")
	}
	out.Enabled = n.Enabled
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != nil {
		out.RetryMax = *n.RetryMax
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config, loc *time.Location) (storage.Config, error) {
	out := storage.Config{Driver: "sqlite", Location: loc}
	sc := cfg.Storage
	if sc == nil {
		return out, nil
	}
	if d := strings.ToLower(strings.TrimSpace(sc.Driver)); d != "" {
		out.Driver = d
	}
	out.Path = strings.TrimSpace(sc.Path)
	if out.Driver == "file" && out.Path == "" {
		return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=file")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	out.BusyTimeout = busy
	return out, nil
}

func mapGeminiConfig(cfg *config.Config) (gemini.Config, bool, error) {
	g := cfg.Extract.Gemini
	key := strings.TrimSpace(g.APIKey)
	timeout, err := config.ParseDurationOrDefault("extract.gemini.timeout", g.Timeout, gemini.DefaultTimeout)
	if err != nil {
		return gemini.Config{}, false, err
	}
	return gemini.Config{
		APIKey:  key,
		Model:   strings.TrimSpace(g.Model),
		APIURL:  strings.TrimSpace(g.APIURL),
		Timeout: timeout,
	}, key != "", nil
}

func mapCacheTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("extract.cache_ttl", cfg.Extract.CacheTTL, 10*time.Minute)
}

func mapSpeechConfig(cfg *config.Config) (speech.Config, error) {
	timeout, err := config.ParseDurationOrDefault("speech.timeout", cfg.Speech.Timeout, 2*time.Minute)
	if err != nil {
		return speech.Config{}, err
	}
	return speech.Config{
		Command:  strings.TrimSpace(cfg.Speech.Command),
		Args:     append([]string(nil), cfg.Speech.Args...),
		Language: strings.TrimSpace(cfg.Speech.Language),
		Timeout:  timeout,
	}, nil
}

func mapDefaultSchedule(cfg *config.Config) []reminder.Slot {
	if len(cfg.Reminders.DefaultSchedule) == 0 {
		return nil
	}
	out := make([]reminder.Slot, 0, len(cfg.Reminders.DefaultSchedule))
	for _, s := range cfg.Reminders.DefaultSchedule {
		out = append(out, reminder.Slot{At: strings.TrimSpace(s.At), Activity: strings.TrimSpace(s.Activity)})
	}
	return out
}

func mapReminderConfig(cfg *config.Config, loc *time.Location) (reminder.Config, error) {
	r := cfg.Reminders
	out := reminder.Config{
		Location:        loc,
		DailySummaryAt:  strings.TrimSpace(r.DailySummaryAt),
		GapCheckSpec:    strings.TrimSpace(r.GapCheck),
		DefaultSchedule: mapDefaultSchedule(cfg),
	}
	var err error
	if out.ReminderTimeout, err = config.ParseDurationField("reminders.timeouts.reminder", r.Timeouts.Reminder); err != nil {
		return reminder.Config{}, err
	}
	if out.SummaryTimeout, err = config.ParseDurationField("reminders.timeouts.daily_summary", r.Timeouts.DailySummary); err != nil {
		return reminder.Config{}, err
	}
	if out.GapCheckTimeout, err = config.ParseDurationField("reminders.timeouts.gap_check", r.Timeouts.GapCheck); err != nil {
		return reminder.Config{}, err
	}
	return out, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	rc := cfg.Router
	if rc.Workers < 0 || rc.UserRatePerMin < 0 {
		return router.Config{}, fmt.Errorf("router: workers and user_rate_per_min must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("router.handler_timeout", rc.HandlerTimeout, 90*time.Second)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		Workers:        rc.Workers,
		HandlerTimeout: timeout,
		UserRatePerMin: rc.UserRatePerMin,
	}, nil
}

// validateMapped runs every mapper so a reload that would fail at apply time
// is rejected up front.
func validateMapped(cfg *config.Config) error {
	loc, err := mapLocation(cfg)
	if err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg, loc); err != nil {
		return err
	}
	if _, _, err := mapGeminiConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCacheTTL(cfg); err != nil {
		return err
	}
	if _, err := mapSpeechConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg, loc); err != nil {
		return err
	}
	_, err = mapRouterConfig(cfg)
	return err
}
