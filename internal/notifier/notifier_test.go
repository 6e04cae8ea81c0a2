package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskbot/internal/eventbus"
	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

type fakeSender struct {
	mu        sync.Mutex
	texts     []string
	photos    []string
	failText  bool
	failPhoto bool
	block     chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, chatID int64, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText {
		return transport.MessageRef{}, errors.New("send failed")
	}
	f.texts = append(f.texts, text)
	return transport.MessageRef{ChatID: chatID}, nil
}

func (f *fakeSender) SendPhoto(_ context.Context, chatID int64, _ []byte, caption string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPhoto {
		return transport.MessageRef{}, errors.New("photo failed")
	}
	f.photos = append(f.photos, caption)
	return transport.MessageRef{ChatID: chatID}, nil
}

func (f *fakeSender) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts), len(f.photos)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func newTestService(sender Sender, bus eventbus.Bus, mut func(*Config)) *Service {
	cfg := Config{Enabled: true, Workers: 1, QueueSize: 8, RatePerSec: 1000, DedupWindow: time.Minute}
	if mut != nil {
		mut(&cfg)
	}
	return New(cfg, sender, logx.Nop(), bus)
}

func TestNotify_TextAndImageIndependent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()

	fs := &fakeSender{failPhoto: true}
	s := newTestService(fs, bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Delivery{UserID: 1, Kind: KindSummary, Text: "report", Image: []byte{1}, Caption: "chart"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { n, _ := fs.counts(); return n == 1 })

	var failed, sent bool
	deadline := time.After(time.Second)
	for !(failed && sent) {
		select {
		case ev := <-events:
			switch ev.Type {
			case eventbus.DeliveryFailed:
				failed = ev.Data.(DeliveryEvent).Part == partPhoto
			case eventbus.DeliverySent:
				sent = ev.Data.(DeliveryEvent).Part == partText
			}
		case <-deadline:
			t.Fatalf("failed=%v sent=%v", failed, sent)
		}
	}
}

func TestNotify_Dedup(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := newTestService(fs, nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	for i := 0; i < 3; i++ {
		if err := s.Notify(context.Background(), Delivery{UserID: 1, Kind: KindNudge, Text: "nudge", DedupKey: "nudge:1:09:00"}); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	_ = s.Notify(context.Background(), Delivery{UserID: 1, Kind: KindReply, Text: "other"})
	waitFor(t, func() bool { n, _ := fs.counts(); return n == 2 })
	time.Sleep(20 * time.Millisecond)
	if n, _ := fs.counts(); n != 2 {
		t.Fatalf("texts = %d, want 2", n)
	}
}

func TestNotify_QueueFull(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{block: make(chan struct{})}
	s := newTestService(fs, nil, func(c *Config) { c.QueueSize = 1 })
	s.Start(context.Background())
	defer func() {
		close(fs.block)
		s.Stop(context.Background())
	}()

	// One delivery occupies the worker; the next fills the queue.
	_ = s.Notify(context.Background(), Delivery{UserID: 1, Text: "a"})
	var err error
	for i := 0; i < 5 && !errors.Is(err, ErrQueueFull); i++ {
		err = s.Notify(context.Background(), Delivery{UserID: 1, Text: "b"})
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestNotify_DisabledAndStopped(t *testing.T) {
	t.Parallel()
	off := newTestService(&fakeSender{}, nil, func(c *Config) { c.Enabled = false })
	if err := off.Notify(context.Background(), Delivery{UserID: 1, Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}

	s := newTestService(&fakeSender{}, nil, nil)
	if err := s.Notify(context.Background(), Delivery{UserID: 1, Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("before start: err = %v, want ErrStopped", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), Delivery{UserID: 1, Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: err = %v, want ErrStopped", err)
	}
}

func TestNotify_RetryThenSucceed(t *testing.T) {
	t.Parallel()
	fs := &flakySender{failures: 2}
	s := newTestService(fs, nil, func(c *Config) {
		c.RetryMax = 2
		c.RetryBase = time.Millisecond
		c.RetryMaxDelay = 2 * time.Millisecond
	})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Notify(context.Background(), Delivery{UserID: 1, Text: "x"})
	waitFor(t, func() bool { return len(s.Snapshot()) == 1 })
}

type flakySender struct {
	mu       sync.Mutex
	failures int
}

func (f *flakySender) Send(context.Context, int64, string, *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return transport.MessageRef{}, errors.New("flaky")
	}
	return transport.MessageRef{}, nil
}

func (f *flakySender) SendPhoto(context.Context, int64, []byte, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}

type failingSender struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSender) Send(context.Context, int64, string, *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return transport.MessageRef{}, errors.New("timeout")
}

func (f *failingSender) SendPhoto(context.Context, int64, []byte, string, *transport.SendOptions) (transport.MessageRef, error) {
	return transport.MessageRef{}, errors.New("timeout")
}

func (f *failingSender) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNotify_ScheduledKindsSentOnce(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind Kind
		want int
	}{
		{KindReminder, 1},
		{KindSummary, 1},
		{KindNudge, 1},
		{KindReply, 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.kind), func(t *testing.T) {
			t.Parallel()
			bus := eventbus.New()
			events, unsub := bus.Subscribe(32)
			defer unsub()

			fs := &failingSender{}
			s := newTestService(fs, bus, func(c *Config) {
				c.RetryMax = 2
				c.RetryBase = time.Millisecond
				c.RetryMaxDelay = 2 * time.Millisecond
			})
			s.Start(context.Background())
			defer s.Stop(context.Background())

			if err := s.Notify(context.Background(), Delivery{UserID: 1, Kind: tt.kind, Text: "x"}); err != nil {
				t.Fatalf("Notify: %v", err)
			}
			deadline := time.After(2 * time.Second)
			for failed := false; !failed; {
				select {
				case ev := <-events:
					failed = ev.Type == eventbus.DeliveryFailed
				case <-deadline:
					t.Fatalf("no failure event")
				}
			}
			if got := fs.attempts(); got != tt.want {
				t.Fatalf("attempts = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRetryDelay_Capped(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 10; attempt++ {
		if d := retryDelay(cfg, attempt); d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}
