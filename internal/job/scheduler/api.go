package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/internal/job/engine"
	"taskbot/pkg/logx"
)

// AddCron registers a recurring job that skips a trigger while the previous
// run is queued or executing.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job JobFunc) error {
	return s.AddCronOpt(name, spec, timeout, JobOptions{Overlap: OverlapSkipIfRunning}, job)
}

// AddCronOpt upserts by name, so re-registering after a reload replaces the
// previous definition.
func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt JobOptions, job JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	s.removeOnce(name)
	s.defs = append(s.defs, scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     opt,
		state:   &engine.RunState{},
	})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

// AddDaily fires every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job JobFunc) error {
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCron(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// AddOnce arms a one-shot timer that enqueues job at the given instant. An
// instant in the past fires immediately. Re-adding a name replaces the
// pending timer; a version counter discards callbacks of replaced timers.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, opt JobOptions, job JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev, ok := s.once[name]; ok {
		prev.timer.Stop()
	}
	s.onceSeq++
	ver := s.onceSeq
	d := &onceDef{at: at, timeout: timeout, job: job, opt: opt, ver: ver}
	d.timer = time.AfterFunc(max(time.Until(at), 0), func() { s.fireOnce(name, ver) })
	s.once[name] = d
	return nil
}

func (s *Service) fireOnce(name string, ver uint64) {
	s.tmu.Lock()
	d, ok := s.once[name]
	if !ok || d.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.once, name)
	s.tmu.Unlock()

	if err := s.engine.Enqueue(engine.Job{
		Name:    name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     d.opt,
		State:   &engine.RunState{},
	}); err != nil {
		s.reportEnqueueError(name, err)
	}
}

// Remove drops every cron definition and pending one-shot with name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// PendingOnce reports when the named one-shot will fire.
func (s *Service) PendingOnce(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return time.Time{}, false
	}
	return d.at, true
}

// Schedules lists cron definitions sorted by name; Next/Prev are zero until
// Start.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	d.timer.Stop()
	delete(s.once, name)
	return true
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, run, opt, state := d.name, d.timeout, d.job, d.opt, d.state
	eid, err := s.c.AddJob(d.spec, cron.FuncJob(func() {
		err := s.engine.Enqueue(engine.Job{Name: name, Timeout: timeout, Run: run, Opt: opt, State: state})
		if err != nil {
			s.reportEnqueueError(name, err)
		}
	}))
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func parseHHMM(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
