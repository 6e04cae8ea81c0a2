package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskbot/internal/model"
	"taskbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

const taskColumns = `id, user_id, title, task_type, scheduled_date, scheduled_time, duration, reminder_before, status, notes, created_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	clk clock
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/taskbot.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers; SQLite does not benefit from more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log, clk: newClock(cfg)}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) AddUser(ctx context.Context, u model.User) error {
	if err := validUser(u); err != nil {
		return err
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = s.clk.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, first_name, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = COALESCE(excluded.username, users.username),
		   first_name = COALESCE(excluded.first_name, users.first_name)`,
		u.ID, nullStr(u.Username), nullStr(u.FirstName), created.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, first_name, created_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var (
			u               model.User
			uname, fname    sql.NullString
			createdAtString string
		)
		if err := rows.Scan(&u.ID, &uname, &fname, &createdAtString); err != nil {
			return nil, err
		}
		u.Username, u.FirstName = uname.String, fname.String
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtString)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddTask(ctx context.Context, userID int64, c model.Candidate) (model.Task, error) {
	t, err := s.clk.newTask(userID, c)
	if err != nil {
		return model.Task{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(user_id, title, task_type, scheduled_date, scheduled_time, duration, reminder_before, status, notes, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		t.UserID, t.Title, string(t.Type), t.Date, t.Time, t.Duration, t.ReminderBefore, string(t.Status), nullStr(t.Notes), t.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return model.Task{}, err
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (s *sqliteStore) GetTask(ctx context.Context, id int64) (model.Task, bool, error) {
	ts, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil || len(ts) == 0 {
		return model.Task{}, false, err
	}
	return ts[0], true, nil
}

func (s *sqliteStore) GetTodayTasks(ctx context.Context, userID int64) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND scheduled_date = ? ORDER BY scheduled_time, id`,
		userID, s.clk.today())
}

func (s *sqliteStore) GetUpcomingTasks(ctx context.Context, userID int64, window time.Duration) ([]model.Task, error) {
	pending, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND status = ?`,
		userID, string(model.StatusPending))
	if err != nil {
		return nil, err
	}
	return s.clk.filterUpcoming(pending, window), nil
}

func (s *sqliteStore) ListPending(ctx context.Context) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY scheduled_date, scheduled_time, id`,
		string(model.StatusPending))
}

func (s *sqliteStore) UpdateStatus(ctx context.Context, id int64, status model.Status, notes *string) (model.Task, bool, error) {
	if err := validStatus(status); err != nil {
		return model.Task{}, false, err
	}
	var (
		res sql.Result
		err error
	)
	if notes != nil {
		res, err = s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, notes = ? WHERE id = ?`, string(status), nullStr(*notes), id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return model.Task{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Task{}, false, nil
	}
	return s.GetTask(ctx, id)
}

func (s *sqliteStore) PutDailySummary(ctx context.Context, sum model.DailySummary) error {
	if sum.UserID == 0 || sum.Date == "" {
		return ErrInvalidUser
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_summaries(user_id, date, completed_tasks, total_tasks, productivity_score, notes)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(user_id, date) DO UPDATE SET
		   completed_tasks = excluded.completed_tasks,
		   total_tasks = excluded.total_tasks,
		   productivity_score = excluded.productivity_score,
		   notes = excluded.notes`,
		sum.UserID, sum.Date, sum.CompletedTasks, sum.TotalTasks, sum.ProductivityScore, nullStr(sum.Notes),
	)
	return err
}

func (s *sqliteStore) ListDailySummaries(ctx context.Context, userID int64, from, to string) ([]model.DailySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, date, completed_tasks, total_tasks, productivity_score, notes
		 FROM daily_summaries WHERE user_id = ? AND date >= ? AND date <= ? ORDER BY date`,
		userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.DailySummary
	for rows.Next() {
		var (
			d     model.DailySummary
			notes sql.NullString
		)
		if err := rows.Scan(&d.UserID, &d.Date, &d.CompletedTasks, &d.TotalTasks, &d.ProductivityScore, &notes); err != nil {
			return nil, err
		}
		d.Notes = notes.String
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) queryTasks(ctx context.Context, q string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Task
	for rows.Next() {
		var (
			t                      model.Task
			typ, status, createdAt string
			notes                  sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &typ, &t.Date, &t.Time, &t.Duration, &t.ReminderBefore, &status, &notes, &createdAt); err != nil {
			return nil, err
		}
		t.Type, t.Status, t.Notes = model.TaskType(typ), model.Status(status), notes.String
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
