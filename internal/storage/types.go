package storage

import (
	"context"
	"errors"
	"time"

	"taskbot/internal/model"
)

var (
	ErrInvalidTask = errors.New("invalid task")
	ErrInvalidUser = errors.New("invalid user")
	ErrClosed      = errors.New("store closed")
)

// Config configures storage.
type Config struct {
	Driver      string // sqlite | file | memory
	Path        string
	BusyTimeout time.Duration // sqlite only

	// Location resolves task date/time strings. Nil means time.Local.
	Location *time.Location
	// Now overrides the clock for "today" and window queries.
	Now func() time.Time
}

type Store interface {
	// AddUser is an idempotent upsert keyed by platform id. Non-empty names
	// overwrite stored ones.
	AddUser(ctx context.Context, u model.User) error
	ListUsers(ctx context.Context) ([]model.User, error)

	AddTask(ctx context.Context, userID int64, c model.Candidate) (model.Task, error)
	GetTask(ctx context.Context, id int64) (model.Task, bool, error)
	// GetTodayTasks returns the user's tasks dated today, any status.
	GetTodayTasks(ctx context.Context, userID int64) ([]model.Task, error)
	// GetUpcomingTasks returns pending tasks with start in [now, now+window].
	GetUpcomingTasks(ctx context.Context, userID int64, window time.Duration) ([]model.Task, error)
	// ListPending returns every pending task across users.
	ListPending(ctx context.Context) ([]model.Task, error)
	// UpdateStatus sets status and, when notes is non-nil, notes. ok is
	// false when the task does not exist.
	UpdateStatus(ctx context.Context, id int64, status model.Status, notes *string) (model.Task, bool, error)

	PutDailySummary(ctx context.Context, s model.DailySummary) error
	// ListDailySummaries returns summaries with from <= date <= to, oldest first.
	ListDailySummaries(ctx context.Context, userID int64, from, to string) ([]model.DailySummary, error)

	Close() error
}
