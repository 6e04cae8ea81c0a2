package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		cmd  string
		args []string
		ok   bool
	}{
		{"/start", "start", nil, true},
		{"/Done@taskbot 12", "done", []string{"12"}, true},
		{"  /missed   7  ", "missed", []string{"7"}, true},
		{"/", "", nil, false},
		{"فردا ساعت ۳ جلسه", "", nil, false},
	}
	for _, tc := range cases {
		cmd, args, ok := ParseCommand(tc.in)
		if ok != tc.ok || cmd != tc.cmd || strings.Join(args, ",") != strings.Join(tc.args, ",") {
			t.Errorf("ParseCommand(%q) = %q %v %v, want %q %v %v", tc.in, cmd, args, ok, tc.cmd, tc.args, tc.ok)
		}
	}
}

func TestChainOrder(t *testing.T) {
	t.Parallel()
	var got []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				got = append(got, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) error { got = append(got, "h"); return nil }, mark("a"), mark("b"))
	_ = h(context.Background(), &Request{})
	if strings.Join(got, ",") != "a,b,h" {
		t.Fatalf("order = %v", got)
	}
}

func TestPanicRecover(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	err := h(context.Background(), &Request{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestUserLimiter(t *testing.T) {
	t.Parallel()
	if NewUserLimiter(0) != nil {
		t.Fatalf("zero rate should disable the limiter")
	}
	var nilLimiter *UserLimiter
	if !nilLimiter.Allow(1) {
		t.Fatalf("nil limiter must allow")
	}
	l := NewUserLimiter(20) // burst 2
	if !l.Allow(1) || !l.Allow(1) {
		t.Fatalf("burst should be allowed")
	}
	if l.Allow(1) {
		t.Fatalf("third request should be limited")
	}
	if !l.Allow(2) {
		t.Fatalf("other users have their own bucket")
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	done chan struct{}
}

func (r *recorder) handler(name string) HandlerFunc {
	return func(_ context.Context, req *Request) error {
		r.mu.Lock()
		r.seen = append(r.seen, name+":"+req.Command+":"+strings.Join(req.Args, " "))
		r.mu.Unlock()
		r.done <- struct{}{}
		return nil
	}
}

func TestRouterDispatch(t *testing.T) {
	t.Parallel()
	rec := &recorder{done: make(chan struct{}, 8)}
	r := New(Config{Workers: 1}, Routes{
		Commands: map[string]HandlerFunc{"done": rec.handler("done")},
		Unknown:  rec.handler("unknown"),
		Text:     rec.handler("text"),
		Voice:    rec.handler("voice"),
		Callback: rec.handler("cb"),
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 8)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, updates) }()

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, FromID: 1, Text: "/done 5"}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, FromID: 1, Text: "/nope"}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, FromID: 1, Text: "hello"}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, FromID: 1, Voice: &transport.Voice{FileID: "f"}}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, FromID: 1, Text: "   "}}
	updates <- transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{ChatID: 1, FromID: 1, Data: "done:5"}}

	for i := 0; i < 5; i++ {
		select {
		case <-rec.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d handlers", i)
		}
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"done:done:5", "unknown:nope:", "text::", "voice::", "cb::"}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if strings.Join(rec.seen, "|") != strings.Join(want, "|") {
		t.Fatalf("seen = %v, want %v", rec.seen, want)
	}
}

func TestRouterRateLimited(t *testing.T) {
	t.Parallel()
	limited := make(chan struct{}, 8)
	handled := make(chan struct{}, 8)
	r := New(Config{Workers: 1, UserRatePerMin: 10}, Routes{
		Text:    func(context.Context, *Request) error { handled <- struct{}{}; return nil },
		Limited: func(context.Context, *Request) error { limited <- struct{}{}; return nil },
	}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan transport.Update, 4)
	go func() { _ = r.Run(ctx, updates) }()

	for i := 0; i < 2; i++ {
		updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, FromID: 9, Text: "hi"}}
	}
	for _, ch := range []chan struct{}{handled, limited} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out")
		}
	}
}
