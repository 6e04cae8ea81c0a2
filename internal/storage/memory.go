package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"taskbot/internal/model"
)

// memState is the whole dataset. The file driver snapshots it as JSON.
type memState struct {
	Users     map[int64]model.User          `json:"users"`
	Tasks     map[int64]model.Task          `json:"tasks"`
	Summaries map[string]model.DailySummary `json:"summaries"`
	NextID    int64                         `json:"next_id"`
}

func newMemState() memState {
	return memState{
		Users:     map[int64]model.User{},
		Tasks:     map[int64]model.Task{},
		Summaries: map[string]model.DailySummary{},
	}
}

func summaryKey(userID int64, date string) string {
	return strconv.FormatInt(userID, 10) + "|" + date
}

// Memory is a map-backed Store. Reads return copies.
type Memory struct {
	mu     sync.RWMutex
	clk    clock
	st     memState
	closed bool
}

func NewMemory(cfg Config) *Memory {
	return &Memory{clk: newClock(cfg), st: newMemState()}
}

func (m *Memory) AddUser(_ context.Context, u model.User) error {
	_, err := m.upsertUser(u)
	return err
}

func (m *Memory) upsertUser(u model.User) (model.User, error) {
	if err := validUser(u); err != nil {
		return model.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.User{}, ErrClosed
	}
	cur, ok := m.st.Users[u.ID]
	if !ok {
		cur = model.User{ID: u.ID, CreatedAt: u.CreatedAt}
		if cur.CreatedAt.IsZero() {
			cur.CreatedAt = m.clk.now()
		}
	}
	if s := strings.TrimSpace(u.Username); s != "" {
		cur.Username = s
	}
	if s := strings.TrimSpace(u.FirstName); s != "" {
		cur.FirstName = s
	}
	m.st.Users[u.ID] = cur
	return cur, nil
}

func (m *Memory) ListUsers(context.Context) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.User, 0, len(m.st.Users))
	for _, u := range m.st.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AddTask(_ context.Context, userID int64, c model.Candidate) (model.Task, error) {
	t, err := m.clk.newTask(userID, c)
	if err != nil {
		return model.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Task{}, ErrClosed
	}
	m.st.NextID++
	t.ID = m.st.NextID
	m.st.Tasks[t.ID] = t
	return t, nil
}

func (m *Memory) GetTask(_ context.Context, id int64) (model.Task, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.st.Tasks[id]
	return t, ok, nil
}

func (m *Memory) tasksWhere(pred func(model.Task) bool) []model.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Task, 0)
	for _, t := range m.st.Tasks {
		if pred(t) {
			out = append(out, t)
		}
	}
	sortBySlot(out)
	return out
}

func (m *Memory) GetTodayTasks(_ context.Context, userID int64) ([]model.Task, error) {
	today := m.clk.today()
	return m.tasksWhere(func(t model.Task) bool { return t.UserID == userID && t.Date == today }), nil
}

func (m *Memory) GetUpcomingTasks(_ context.Context, userID int64, window time.Duration) ([]model.Task, error) {
	pending := m.tasksWhere(func(t model.Task) bool { return t.UserID == userID && t.Status == model.StatusPending })
	return m.clk.filterUpcoming(pending, window), nil
}

func (m *Memory) ListPending(context.Context) ([]model.Task, error) {
	return m.tasksWhere(func(t model.Task) bool { return t.Status == model.StatusPending }), nil
}

func (m *Memory) UpdateStatus(_ context.Context, id int64, status model.Status, notes *string) (model.Task, bool, error) {
	if err := validStatus(status); err != nil {
		return model.Task{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Task{}, false, ErrClosed
	}
	t, ok := m.st.Tasks[id]
	if !ok {
		return model.Task{}, false, nil
	}
	t.Status = status
	if notes != nil {
		t.Notes = *notes
	}
	m.st.Tasks[id] = t
	return t, true, nil
}

func (m *Memory) PutDailySummary(_ context.Context, s model.DailySummary) error {
	if s.UserID == 0 || s.Date == "" {
		return ErrInvalidUser
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.Summaries[summaryKey(s.UserID, s.Date)] = s
	return nil
}

func (m *Memory) ListDailySummaries(_ context.Context, userID int64, from, to string) ([]model.DailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.DailySummary, 0)
	for _, s := range m.st.Summaries {
		if s.UserID == userID && s.Date >= from && s.Date <= to {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
