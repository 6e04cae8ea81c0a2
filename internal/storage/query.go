package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"taskbot/internal/model"
)

type clock struct {
	loc *time.Location
	now func() time.Time
}

func newClock(cfg Config) clock {
	c := clock{loc: cfg.Location, now: cfg.Now}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c clock) today() string { return c.now().In(c.loc).Format(model.DateLayout) }

// inWindow: pending, and start within [now, now+window] inclusive.
func (c clock) inWindow(t model.Task, now time.Time, window time.Duration) bool {
	if t.Status != model.StatusPending {
		return false
	}
	start, err := t.Start(c.loc)
	if err != nil {
		return false
	}
	return !start.Before(now) && !start.After(now.Add(window))
}

func (c clock) filterUpcoming(tasks []model.Task, window time.Duration) []model.Task {
	now := c.now()
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if c.inWindow(t, now, window) {
			out = append(out, t)
		}
	}
	sortBySlot(out)
	return out
}

// newTask validates a candidate and applies the model defaults.
func (c clock) newTask(userID int64, cand model.Candidate) (model.Task, error) {
	if userID == 0 {
		return model.Task{}, fmt.Errorf("%w: user id required", ErrInvalidTask)
	}
	title := strings.TrimSpace(cand.Title)
	if title == "" {
		return model.Task{}, fmt.Errorf("%w: title required", ErrInvalidTask)
	}
	if _, err := model.ParseSlot(cand.Date, cand.Time, c.loc); err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	typ := cand.Type
	if !typ.Valid() {
		typ = model.TypePersonal
	}
	dur := cand.Duration
	if dur <= 0 {
		dur = model.DefaultDuration
	}
	before := cand.ReminderBefore
	if before < 0 {
		before = model.DefaultReminderBefore
	}
	return model.Task{
		UserID:         userID,
		Title:          title,
		Type:           typ,
		Date:           cand.Date,
		Time:           cand.Time,
		Duration:       dur,
		ReminderBefore: before,
		Status:         model.StatusPending,
		Notes:          cand.Notes,
		CreatedAt:      c.now(),
	}, nil
}

func sortBySlot(ts []model.Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		if ts[i].Date != ts[j].Date {
			return ts[i].Date < ts[j].Date
		}
		if ts[i].Time != ts[j].Time {
			return ts[i].Time < ts[j].Time
		}
		return ts[i].ID < ts[j].ID
	})
}

func validUser(u model.User) error {
	if u.ID == 0 {
		return fmt.Errorf("%w: id required", ErrInvalidUser)
	}
	return nil
}

func validStatus(s model.Status) error {
	if !s.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, s)
	}
	return nil
}
