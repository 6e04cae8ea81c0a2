// Package reminder owns the time-driven side of the bot: one-shot task
// reminders, the nightly summary and the default-schedule nudge.
//
// Timers live in the job scheduler and are not persisted. On start the
// service re-arms reminders for pending tasks still in the future.
package reminder
