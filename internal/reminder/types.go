package reminder

import (
	"context"
	"time"

	"taskbot/internal/job/engine"
	"taskbot/internal/model"
	"taskbot/internal/notifier"
)

const (
	JobDailySummary = "daily-summary"
	JobGapCheck     = "default-schedule-check"

	reminderPrefix = "reminder:"
)

// Slot is one default-schedule entry.
type Slot struct {
	At       string // HH:MM
	Activity string
}

// DefaultSlots is the built-in default schedule.
var DefaultSlots = []Slot{
	{"08:00", "صبحانه"},
	{"09:00", "شروع کار/درس"},
	{"12:00", "ناهار"},
	{"13:00", "استراحت"},
	{"14:00", "ادامه کار/درس"},
	{"18:00", "ورزش"},
	{"20:00", "مطالعه شخصی"},
	{"22:00", "استراحت و آماده شدن برای خواب"},
}

type Config struct {
	// Location resolves task slots and the wall clock. Nil means time.Local.
	Location *time.Location
	Now      func() time.Time

	DailySummaryAt  string // HH:MM, default 22:00
	GapCheckSpec    string // cron, default */30 * * * *
	DefaultSchedule []Slot

	ReminderTimeout time.Duration
	SummaryTimeout  time.Duration
	GapCheckTimeout time.Duration
}

// Scheduler is the trigger layer the service arms jobs on.
type Scheduler interface {
	AddOnce(name string, at time.Time, timeout time.Duration, opt engine.JobOptions, job func(context.Context) error) error
	AddDaily(name, atHHMM string, timeout time.Duration, job func(context.Context) error) error
	AddCron(name, spec string, timeout time.Duration, job func(context.Context) error) error
	Remove(name string) bool
}

type Notifier interface {
	Notify(ctx context.Context, d notifier.Delivery) error
}

// ChartRenderer draws the day's tasks. It may return an error when there is
// nothing to draw; the summary text is sent regardless.
type ChartRenderer interface {
	Daily(ctx context.Context, userID int64, date string, tasks []model.Task) ([]byte, error)
}

// ReminderEvent is published when a reminder is armed or fires.
type ReminderEvent struct {
	TaskID int64     `json:"task_id"`
	UserID int64     `json:"user_id"`
	At     time.Time `json:"at"`
}
