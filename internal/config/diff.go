package config

import (
	"reflect"

	"taskbot/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between two
// configs, plus log fields that never include secrets.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout || oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.JobEngine, newCfg.JobEngine) {
		changed = append(changed, "job_engine")
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	oe, ne := oldCfg.Extract, newCfg.Extract
	oe.Gemini.APIKey, ne.Gemini.APIKey = "", ""
	if oe != ne || (oldCfg.Extract.Gemini.APIKey == "") != (newCfg.Extract.Gemini.APIKey == "") {
		changed = append(changed, "extract")
		attrs = append(attrs, logx.Bool("extract.gemini_enabled", newCfg.Extract.Gemini.APIKey != ""))
	}
	if !reflect.DeepEqual(oldCfg.Speech, newCfg.Speech) {
		changed = append(changed, "speech")
	}
	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs, logx.Int("reminders.default_slots", len(newCfg.Reminders.DefaultSchedule)))
	}
	if oldCfg.Router != newCfg.Router {
		changed = append(changed, "router")
	}
	return changed, attrs
}
