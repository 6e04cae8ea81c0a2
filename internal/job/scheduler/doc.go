// Package scheduler decides when jobs fire: cron specs, daily HH:MM helpers
// and one-shot timers. Execution is delegated to job/engine.
package scheduler
