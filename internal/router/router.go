// Package router turns transport updates into handler calls on a bounded
// worker pool.
package router

import (
	"context"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskbot/internal/transport"
	"taskbot/pkg/logx"
)

// Request is one inbound update resolved to a route.
type Request struct {
	Update transport.Update
	ChatID int64
	FromID int64
	// Command is the command word without slash or @bot suffix. Empty for
	// free text, voice and callbacks.
	Command string
	Args    []string
	// Text is the full message text, or the callback data.
	Text   string
	ReqID  string
	Logger logx.Logger
}

func (r *Request) Message() *transport.Message   { return r.Update.Message }
func (r *Request) Callback() *transport.Callback { return r.Update.Callback }

type Config struct {
	Workers        int
	QueueSize      int
	HandlerTimeout time.Duration
	UserRatePerMin int
}

// Routes binds handlers. Nil handlers drop the matching updates.
type Routes struct {
	Commands map[string]HandlerFunc
	// Unknown handles commands with no binding.
	Unknown  HandlerFunc
	Text     HandlerFunc
	Voice    HandlerFunc
	Callback HandlerFunc
	// Busy runs inline on the dispatch loop when the pool queue is full.
	Busy HandlerFunc
	// Limited runs when a user exceeds the rate limit.
	Limited HandlerFunc
}

type Router struct {
	cfg    Config
	routes Routes
	log    logx.Logger
	mw     []Middleware
	jobs   chan func()
}

func New(cfg Config, routes Routes, log logx.Logger) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 60 * time.Second
	}
	r := &Router{
		cfg:    cfg,
		routes: routes,
		log:    log.With(logx.String("comp", "router")),
		jobs:   make(chan func(), cfg.QueueSize),
	}
	r.mw = []Middleware{
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWRateLimit(NewUserLimiter(cfg.UserRatePerMin), routes.Limited),
		MWTimeout(cfg.HandlerTimeout),
	}
	return r
}

// Run consumes updates until ctx is done or the channel closes, then waits
// for in-flight handlers.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	r.log.Info("dispatcher started", logx.Int("workers", r.cfg.Workers), logx.Int("queue_cap", cap(r.jobs)))

	var wg sync.WaitGroup
	wg.Add(r.cfg.Workers)
	for i := 0; i < r.cfg.Workers; i++ {
		go r.worker(ctx, &wg, i)
	}
	defer func() {
		close(r.jobs)
		wg.Wait()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.dispatch(ctx, up)
		}
	}
}

func (r *Router) worker(ctx context.Context, wg *sync.WaitGroup, idx int) {
	defer wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in worker", logx.Int("worker", idx), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			job()
		}
	}
}

func (r *Router) dispatch(ctx context.Context, up transport.Update) {
	req, h := r.resolve(up)
	if h == nil {
		return
	}
	final := Chain(h, r.mw...)
	select {
	case r.jobs <- func() { _ = final(ctx, req) }:
	default:
		r.log.Warn("dispatch queue full", logx.Int64("chat_id", req.ChatID))
		if r.routes.Busy != nil {
			_ = r.routes.Busy(ctx, req)
		}
	}
}

// resolve builds the request and picks its handler. A nil handler means the
// update is ignored.
func (r *Router) resolve(up transport.Update) (*Request, HandlerFunc) {
	req := &Request{Update: up, ReqID: newReqID()}
	var h HandlerFunc
	switch up.Kind {
	case transport.UpdateMessage:
		msg := up.Message
		if msg == nil {
			return nil, nil
		}
		req.ChatID, req.FromID, req.Text = msg.ChatID, msg.FromID, strings.TrimSpace(msg.Text)
		switch {
		case msg.Voice != nil:
			h = r.routes.Voice
		case req.Text == "":
			return nil, nil
		default:
			if cmd, args, ok := ParseCommand(req.Text); ok {
				req.Command, req.Args = cmd, args
				h = r.routes.Commands[cmd]
				if h == nil {
					h = r.routes.Unknown
				}
			} else {
				h = r.routes.Text
			}
		}
	case transport.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, nil
		}
		req.ChatID, req.FromID, req.Text = cb.ChatID, cb.FromID, strings.TrimSpace(cb.Data)
		h = r.routes.Callback
	default:
		return nil, nil
	}
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("from_id", req.FromID),
	)
	return req, h
}

// ParseCommand splits "/cmd@bot a b" into ("cmd", ["a", "b"]). ok is false
// for text that is not a command.
func ParseCommand(text string) (cmd string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func newReqID() string { return uuid.NewString()[:8] }
