package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskbot/internal/job/engine"
	"taskbot/pkg/logx"
)

type fakeEngine struct {
	mu   sync.Mutex
	jobs []engine.Job
	err  error
	ran  chan string
}

func newFakeEngine() *fakeEngine { return &fakeEngine{ran: make(chan string, 16)} }

func (f *fakeEngine) Enqueue(j engine.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, j)
	err := f.err
	f.mu.Unlock()
	if err == nil {
		_ = j.Run(context.Background())
		f.ran <- j.Name
	}
	return err
}

func TestAddOnceFires(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	s := New(Config{}, eng, logx.Nop(), nil)
	if err := s.AddOnce("reminder:1", time.Now().Add(20*time.Millisecond), time.Second, JobOptions{RetryMax: -1}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("AddOnce: %v", err)
	}
	if _, ok := s.PendingOnce("reminder:1"); !ok {
		t.Fatalf("expected pending one-shot")
	}
	select {
	case name := <-eng.ran:
		if name != "reminder:1" {
			t.Fatalf("ran %q", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot did not fire")
	}
	if _, ok := s.PendingOnce("reminder:1"); ok {
		t.Fatalf("fired one-shot should not stay pending")
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if got := eng.jobs[0].Opt.RetryMax; got != -1 {
		t.Fatalf("options not forwarded: RetryMax=%d", got)
	}
}

func TestAddOnceReplaceAndRemove(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	s := New(Config{}, eng, logx.Nop(), nil)
	var mu sync.Mutex
	var which []string
	mk := func(tag string) JobFunc {
		return func(context.Context) error {
			mu.Lock()
			which = append(which, tag)
			mu.Unlock()
			return nil
		}
	}

	_ = s.AddOnce("a", time.Now().Add(30*time.Millisecond), 0, JobOptions{}, mk("first"))
	_ = s.AddOnce("a", time.Now().Add(40*time.Millisecond), 0, JobOptions{}, mk("second"))
	_ = s.AddOnce("b", time.Now().Add(30*time.Millisecond), 0, JobOptions{}, mk("removed"))
	if !s.Remove("b") {
		t.Fatalf("Remove(b) should report true")
	}
	if s.Remove("b") {
		t.Fatalf("second Remove(b) should report false")
	}

	select {
	case <-eng.ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("replacement did not fire")
	}
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(which) != 1 || which[0] != "second" {
		t.Fatalf("fired=%v want [second]", which)
	}
}

func TestStopDropsPendingOnce(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	s := New(Config{}, eng, logx.Nop(), nil)
	s.Start(context.Background())
	_ = s.AddOnce("later", time.Now().Add(50*time.Millisecond), 0, JobOptions{}, func(context.Context) error { return nil })
	s.Stop(context.Background())

	select {
	case name := <-eng.ran:
		t.Fatalf("dropped one-shot fired: %s", name)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestAddDailyAndSchedules(t *testing.T) {
	t.Parallel()

	s := New(Config{Timezone: "UTC"}, newFakeEngine(), logx.Nop(), nil)
	noop := func(context.Context) error { return nil }
	if err := s.AddDaily("daily-summary", "22:00", 0, noop); err != nil {
		t.Fatalf("AddDaily: %v", err)
	}
	if err := s.AddCron("default-schedule-check", "*/30 * * * *", 0, noop); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if err := s.AddDaily("bad", "7pm", 0, noop); err == nil {
		t.Fatalf("invalid HH:MM should fail")
	}
	if err := s.AddCron("bad", "every now and then", 0, noop); err == nil {
		t.Fatalf("invalid cron should fail")
	}

	s.Start(context.Background())
	defer s.Stop(context.Background())

	got := s.Schedules()
	if len(got) != 2 || got[0].Name != "daily-summary" || got[0].Spec != "0 22 * * *" {
		t.Fatalf("schedules=%+v", got)
	}
	next := got[0].Next.In(time.UTC)
	if next.Hour() != 22 || next.Minute() != 0 {
		t.Fatalf("next=%v", next)
	}
	if m := got[1].Next.Minute(); m != 0 && m != 30 {
		t.Fatalf("gap check next minute=%d", m)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()

	if h, m, err := parseHHMM("08:05"); err != nil || h != 8 || m != 5 {
		t.Fatalf("h=%d m=%d err=%v", h, m, err)
	}
	for _, bad := range []string{"24:00", "8", "12:60", ""} {
		if _, _, err := parseHHMM(bad); err == nil {
			t.Errorf("parseHHMM(%q) should fail", bad)
		}
	}
}

func TestEnqueueErrorIsReported(t *testing.T) {
	t.Parallel()

	eng := newFakeEngine()
	eng.err = errors.New("queue full")
	s := New(Config{}, eng, logx.Nop(), nil)
	s.fireOnce("missing", 1)
	_ = s.AddOnce("x", time.Now(), 0, JobOptions{}, func(context.Context) error { return nil })
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		eng.mu.Lock()
		n := len(eng.jobs)
		eng.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("enqueue not attempted")
}
