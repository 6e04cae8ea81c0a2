package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskbot/internal/model"
	"taskbot/pkg/logx"
)

const compactEvery = 500

// fileStore keeps the dataset in a Memory and persists it as:
//   - <prefix>.snapshot.json (compacted state)
//   - <prefix>.journal.jsonl (append-only records since the snapshot)
//
// Records carry the full post-mutation value, so replay is a plain put.
type fileStore struct {
	*Memory
	log logx.Logger

	// wmu orders memory mutation and journal append as one step.
	wmu          sync.Mutex
	snapshotPath string
	journal      *os.File
	writes       int
}

type journalRecord struct {
	Op      string              `json:"op"`
	User    *model.User         `json:"user,omitempty"`
	Task    *model.Task         `json:"task,omitempty"`
	Summary *model.DailySummary `json:"summary,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	mem := NewMemory(cfg)
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	if err := loadSnapshot(snapPath, &mem.st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	n, err := replayJournal(journalPath, &mem.st)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("tasks", len(mem.st.Tasks)), logx.Int("replayed", n))
	return &fileStore{Memory: mem, log: log, snapshotPath: snapPath, journal: jf}, nil
}

func (s *fileStore) AddUser(_ context.Context, u model.User) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	rec, err := s.upsertUser(u)
	if err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: "user", User: &rec})
}

func (s *fileStore) AddTask(ctx context.Context, userID int64, c model.Candidate) (model.Task, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	t, err := s.Memory.AddTask(ctx, userID, c)
	if err != nil {
		return model.Task{}, err
	}
	return t, s.appendLocked(journalRecord{Op: "task", Task: &t})
}

func (s *fileStore) UpdateStatus(ctx context.Context, id int64, status model.Status, notes *string) (model.Task, bool, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	t, ok, err := s.Memory.UpdateStatus(ctx, id, status, notes)
	if err != nil || !ok {
		return t, ok, err
	}
	return t, true, s.appendLocked(journalRecord{Op: "task", Task: &t})
}

func (s *fileStore) PutDailySummary(ctx context.Context, sum model.DailySummary) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.Memory.PutDailySummary(ctx, sum); err != nil {
		return err
	}
	return s.appendLocked(journalRecord{Op: "summary", Summary: &sum})
}

func (s *fileStore) Close() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.Memory.Close()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

// compactLocked writes the snapshot atomically then truncates the journal.
func (s *fileStore) compactLocked() error {
	s.Memory.mu.RLock()
	b, err := json.Marshal(s.Memory.st)
	s.Memory.mu.RUnlock()
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, st *memState) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap memState
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for k, v := range snap.Users {
		st.Users[k] = v
	}
	for k, v := range snap.Tasks {
		st.Tasks[k] = v
	}
	for k, v := range snap.Summaries {
		st.Summaries[k] = v
	}
	st.NextID = snap.NextID
	return nil
}

// replayJournal applies journal records; a torn trailing line is skipped.
func replayJournal(path string, st *memState) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch {
		case r.User != nil:
			st.Users[r.User.ID] = *r.User
		case r.Task != nil:
			st.Tasks[r.Task.ID] = *r.Task
			st.NextID = max(st.NextID, r.Task.ID)
		case r.Summary != nil:
			st.Summaries[summaryKey(r.Summary.UserID, r.Summary.Date)] = *r.Summary
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
