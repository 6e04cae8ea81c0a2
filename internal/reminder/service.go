package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/job/engine"
	"taskbot/internal/model"
	"taskbot/internal/notifier"
	"taskbot/internal/storage"
	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

type Service struct {
	cfg    Config
	sched  Scheduler
	store  storage.Store
	notify Notifier
	chart  ChartRenderer
	log    logx.Logger
	bus    eventbus.Bus

	mu    sync.RWMutex
	table []Slot
	slots map[string]string // HH:MM -> activity
}

func New(cfg Config, sched Scheduler, store storage.Store, notify Notifier, chart ChartRenderer, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if strings.TrimSpace(cfg.DailySummaryAt) == "" {
		cfg.DailySummaryAt = "22:00"
	}
	if strings.TrimSpace(cfg.GapCheckSpec) == "" {
		cfg.GapCheckSpec = "*/30 * * * *"
	}
	if cfg.ReminderTimeout <= 0 {
		cfg.ReminderTimeout = 30 * time.Second
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 2 * time.Minute
	}
	if cfg.GapCheckTimeout <= 0 {
		cfg.GapCheckTimeout = time.Minute
	}
	svc := &Service{
		cfg:    cfg,
		sched:  sched,
		store:  store,
		notify: notify,
		chart:  chart,
		log:    log.With(logx.String("comp", "reminder")),
		bus:    bus,
	}
	svc.SetDefaultSchedule(cfg.DefaultSchedule)
	return svc
}

// DefaultSchedule returns the default table in the order given.
func (s *Service) DefaultSchedule() []Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Slot(nil), s.table...)
}

// SetDefaultSchedule replaces the table the gap check reads. An empty table
// restores DefaultSlots. Safe to call while jobs run.
func (s *Service) SetDefaultSchedule(table []Slot) {
	if len(table) == 0 {
		table = DefaultSlots
	}
	slots := make(map[string]string, len(table))
	for _, slot := range table {
		slots[slot.At] = slot.Activity
	}
	s.mu.Lock()
	s.table = append([]Slot(nil), table...)
	s.slots = slots
	s.mu.Unlock()
}

func (s *Service) activityAt(clock string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.slots[clock]
	return a, ok
}

// Start registers the recurring jobs and re-arms reminders for pending
// tasks already in the store.
func (s *Service) Start(ctx context.Context) error {
	if err := s.sched.AddDaily(JobDailySummary, s.cfg.DailySummaryAt, s.cfg.SummaryTimeout, s.RunDailySummary); err != nil {
		return fmt.Errorf("register %s: %w", JobDailySummary, err)
	}
	if err := s.sched.AddCron(JobGapCheck, s.cfg.GapCheckSpec, s.cfg.GapCheckTimeout, s.RunGapCheck); err != nil {
		return fmt.Errorf("register %s: %w", JobGapCheck, err)
	}
	n, err := s.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore reminders: %w", err)
	}
	s.log.Info("reminders started", logx.String("daily_at", s.cfg.DailySummaryAt), logx.String("gap_check", s.cfg.GapCheckSpec), logx.Int("restored", n))
	return nil
}

// Restore arms a reminder for every pending task whose reminder instant is
// still ahead. It returns how many were armed.
func (s *Service) Restore(ctx context.Context) (int, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range pending {
		if s.ScheduleTask(t) {
			n++
		}
	}
	return n, nil
}

func jobName(taskID int64) string { return reminderPrefix + strconv.FormatInt(taskID, 10) }

// ScheduleTask arms the one-shot reminder for t. It reports false, arming
// nothing, unless the reminder instant is strictly in the future.
func (s *Service) ScheduleTask(t model.Task) bool {
	at, err := t.ReminderAt(s.cfg.Location)
	if err != nil {
		s.log.Warn("reminder not armed: bad slot", logx.Int64("task", t.ID), logx.Err(err))
		return false
	}
	if !at.After(s.cfg.Now()) {
		return false
	}
	id := t.ID
	opt := engine.JobOptions{Overlap: engine.OverlapAllow, RetryMax: -1, CircuitTripFailures: -1}
	if err := s.sched.AddOnce(jobName(id), at, s.cfg.ReminderTimeout, opt, func(ctx context.Context) error {
		return s.fireReminder(ctx, id)
	}); err != nil {
		s.log.Warn("reminder not armed", logx.Int64("task", id), logx.Err(err))
		return false
	}
	eventbus.Publish(s.bus, eventbus.ReminderArmed, ReminderEvent{TaskID: id, UserID: t.UserID, At: at})
	s.log.Debug("reminder armed", logx.Int64("task", id), logx.Time("at", at))
	return true
}

// Cancel drops a pending reminder, if any.
func (s *Service) Cancel(taskID int64) bool { return s.sched.Remove(jobName(taskID)) }

func (s *Service) fireReminder(ctx context.Context, taskID int64) error {
	t, ok, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return engine.NoRetry(fmt.Errorf("load task %d: %w", taskID, err))
	}
	if !ok || t.Status != model.StatusPending {
		s.log.Debug("reminder suppressed", logx.Int64("task", taskID), logx.Bool("found", ok), logx.String("status", string(t.Status)))
		return nil
	}
	eventbus.Publish(s.bus, eventbus.ReminderFired, ReminderEvent{TaskID: t.ID, UserID: t.UserID, At: s.cfg.Now()})
	err = s.notify.Notify(ctx, notifier.Delivery{
		UserID:  t.UserID,
		Kind:    notifier.KindReminder,
		Text:    ReminderText(t),
		Options: &transport.SendOptions{Inline: StatusButtons(t.ID)},
	})
	return engine.NoRetry(err)
}

// StatusButtons are the inline actions attached to a reminder.
func StatusButtons(taskID int64) [][]transport.InlineButton {
	id := strconv.FormatInt(taskID, 10)
	return [][]transport.InlineButton{{
		{Text: "✅ انجام شد", Data: CallbackDone + id},
		{Text: "❌ انجام نشد", Data: CallbackMissed + id},
	}}
}

const (
	CallbackDone   = "done:"
	CallbackMissed = "missed:"
)

// ParseCallback decodes StatusButtons data.
func ParseCallback(data string) (model.Status, int64, bool) {
	var status model.Status
	switch {
	case strings.HasPrefix(data, CallbackDone):
		status, data = model.StatusCompleted, strings.TrimPrefix(data, CallbackDone)
	case strings.HasPrefix(data, CallbackMissed):
		status, data = model.StatusMissed, strings.TrimPrefix(data, CallbackMissed)
	default:
		return "", 0, false
	}
	id, err := strconv.ParseInt(data, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return status, id, true
}

// RunDailySummary sends each user the chart and the text report for today
// and records the day's score. One user's failure does not stop the rest.
func (s *Service) RunDailySummary(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	date := s.cfg.Now().In(s.cfg.Location).Format(model.DateLayout)
	var failed int
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.summarizeUser(ctx, u.ID, date); err != nil {
			failed++
			s.log.Warn("daily summary failed", logx.Int64("user", u.ID), logx.Err(err))
		}
	}
	if failed > 0 {
		s.log.Info("daily summary finished with errors", logx.Int("users", len(users)), logx.Int("failed", failed))
	}
	return nil
}

func (s *Service) summarizeUser(ctx context.Context, userID int64, date string) error {
	tasks, err := s.store.GetTodayTasks(ctx, userID)
	if err != nil {
		return err
	}
	completed := 0
	for _, t := range tasks {
		if t.Status == model.StatusCompleted {
			completed++
		}
	}
	sum := model.DailySummary{
		UserID:            userID,
		Date:              date,
		CompletedTasks:    completed,
		TotalTasks:        len(tasks),
		ProductivityScore: model.Productivity(completed, len(tasks)),
	}
	var errs []error
	if err := s.store.PutDailySummary(ctx, sum); err != nil {
		errs = append(errs, fmt.Errorf("persist summary: %w", err))
	}

	if s.chart != nil && len(tasks) > 0 {
		png, err := s.chart.Daily(ctx, userID, date, tasks)
		switch {
		case err != nil:
			s.log.Debug("daily chart skipped", logx.Int64("user", userID), logx.Err(err))
		case len(png) > 0:
			if err := s.notify.Notify(ctx, notifier.Delivery{
				UserID:   userID,
				Kind:     notifier.KindSummary,
				Image:    png,
				Caption:  SummaryCaption,
				DedupKey: "summary-chart:" + strconv.FormatInt(userID, 10) + ":" + date,
			}); err != nil {
				errs = append(errs, fmt.Errorf("queue chart: %w", err))
			}
		}
	}

	if err := s.notify.Notify(ctx, notifier.Delivery{
		UserID:   userID,
		Kind:     notifier.KindSummary,
		Text:     SummaryText(completed, len(tasks)),
		DedupKey: "summary-text:" + strconv.FormatInt(userID, 10) + ":" + date,
	}); err != nil {
		errs = append(errs, fmt.Errorf("queue text: %w", err))
	}
	return errors.Join(errs...)
}

// RunGapCheck nudges users with no task covering the current default-schedule
// slot. Outside a slot it does nothing.
func (s *Service) RunGapCheck(ctx context.Context) error {
	now := s.cfg.Now().In(s.cfg.Location)
	clock := now.Format(model.TimeLayout)
	activity, ok := s.activityAt(clock)
	if !ok {
		return nil
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return err
	}
	date := now.Format(model.DateLayout)
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		busy, err := s.busyAt(ctx, u.ID, now)
		if err != nil {
			s.log.Warn("gap check failed", logx.Int64("user", u.ID), logx.Err(err))
			continue
		}
		if busy {
			continue
		}
		if err := s.notify.Notify(ctx, notifier.Delivery{
			UserID:   u.ID,
			Kind:     notifier.KindNudge,
			Text:     NudgeText(activity),
			DedupKey: "nudge:" + strconv.FormatInt(u.ID, 10) + ":" + date + " " + clock,
		}); err != nil {
			s.log.Warn("nudge not queued", logx.Int64("user", u.ID), logx.Err(err))
		}
	}
	return nil
}

// busyAt reports whether any of today's tasks, in any status, covers now.
func (s *Service) busyAt(ctx context.Context, userID int64, now time.Time) (bool, error) {
	tasks, err := s.store.GetTodayTasks(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Covers(now, s.cfg.Location) {
			return true, nil
		}
	}
	return false, nil
}
