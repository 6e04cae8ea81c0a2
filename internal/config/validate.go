package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks fields that would otherwise fail late, at job registration
// or first use.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set $%s)", EnvBotToken))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	if at := strings.TrimSpace(cfg.Reminders.DailySummaryAt); at != "" {
		_, _, err := ParseHHMM("reminders.daily_summary_at", at)
		add(err)
	}
	if spec := strings.TrimSpace(cfg.Reminders.GapCheck); spec != "" {
		if _, err := cronParser.Parse(spec); err != nil {
			add(fmt.Errorf("reminders.gap_check: %w", err))
		}
	}
	seen := map[string]bool{}
	for i, slot := range cfg.Reminders.DefaultSchedule {
		path := fmt.Sprintf("reminders.default_schedule[%d]", i)
		if _, _, err := ParseHHMM(path+".at", slot.At); err != nil {
			add(err)
			continue
		}
		if strings.TrimSpace(slot.Activity) == "" {
			add(fmt.Errorf("%s.activity: required", path))
		}
		if seen[slot.At] {
			add(fmt.Errorf("%s.at: duplicate %q", path, slot.At))
		}
		seen[slot.At] = true
	}
	_, err = ParseDurationField("reminders.timeouts.reminder", cfg.Reminders.Timeouts.Reminder)
	add(err)
	_, err = ParseDurationField("reminders.timeouts.daily_summary", cfg.Reminders.Timeouts.DailySummary)
	add(err)
	_, err = ParseDurationField("reminders.timeouts.gap_check", cfg.Reminders.Timeouts.GapCheck)
	add(err)

	_, err = ParseDurationField("extract.gemini.timeout", cfg.Extract.Gemini.Timeout)
	add(err)
	_, err = ParseDurationField("extract.cache_ttl", cfg.Extract.CacheTTL)
	add(err)
	_, err = ParseDurationField("speech.timeout", cfg.Speech.Timeout)
	add(err)
	_, err = ParseDurationField("router.handler_timeout", cfg.Router.HandlerTimeout)
	add(err)

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "sqlite", "file", "memory":
		default:
			add(fmt.Errorf("storage.driver: unknown %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
	}
	if n := cfg.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
			"notifier.send_timeout":    n.SendTimeout,
		} {
			_, err = ParseDurationField(path, raw)
			add(err)
		}
	}
	if je := cfg.JobEngine; je != nil {
		_, err = ParseDurationField("job_engine.default_timeout", je.DefaultTimeout)
		add(err)
		_, err = ParseDurationField("job_engine.max_queue_delay", je.MaxQueueDelay)
		add(err)
	}
	return errors.Join(errs...)
}
