package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"taskbot/internal/eventbus"
	rtsup "taskbot/internal/runtime/supervisor"
	"taskbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	partText  = "text"
	partPhoto = "photo"
)

// Service implements queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter
	dedup   *expirable.LRU[string, struct{}]

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan Delivery
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log.With(logx.String("comp", "notifier")), bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Queue size and worker count take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 512
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	if cfg.DedupWindow != s.cfg.DedupWindow || cfg.DedupMaxEntries != s.cfg.DedupMaxEntries || s.dedup == nil {
		if cfg.DedupWindow > 0 {
			s.dedup = expirable.NewLRU[string, struct{}](cfg.DedupMaxEntries, nil, cfg.DedupWindow)
		} else {
			s.dedup = nil
		}
	}
	s.cfg = cfg
	// Burst = rate per sec so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan Delivery, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// Delivery failures must not take down the app.
		rtsup.WithCancelOnError(false),
	)
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight Notify calls finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		s.queue, s.sup, s.stopDone = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify enqueues d without blocking. A deduplicated delivery returns nil.
func (s *Service) Notify(ctx context.Context, d Delivery) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q, dedup := s.queue, s.dedup
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	ev := DeliveryEvent{ID: d.ID, UserID: d.UserID, Kind: d.Kind, Key: d.DedupKey}

	if d.DedupKey != "" && dedup != nil {
		if dedup.Contains(d.DedupKey) {
			eventbus.Publish(s.bus, eventbus.DeliveryDeduped, ev)
			s.log.Debug("delivery deduped", logx.String("key", d.DedupKey), logx.Int64("user", d.UserID))
			return nil
		}
		dedup.Add(d.DedupKey, struct{}{})
	}

	select {
	case q <- d:
		eventbus.Publish(s.bus, eventbus.DeliveryQueued, ev)
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		eventbus.Publish(s.bus, eventbus.DeliveryDropped, ev)
		if d.DedupKey != "" && dedup != nil {
			dedup.Remove(d.DedupKey)
		}
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(d Delivery, part string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), ID: d.ID, UserID: d.UserID, Kind: d.Kind, Part: part})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, d)
		}
	}
}

// deliver sends the image part then the text part; each stands alone.
func (s *Service) deliver(ctx context.Context, d Delivery) {
	if len(d.Image) > 0 {
		s.sendPart(ctx, d, partPhoto, func(c context.Context) error {
			_, err := s.sender.SendPhoto(c, d.UserID, d.Image, d.Caption, d.Options)
			return err
		})
	}
	if d.Text != "" {
		s.sendPart(ctx, d, partText, func(c context.Context) error {
			_, err := s.sender.Send(c, d.UserID, d.Text, d.Options)
			return err
		})
	}
}

func (s *Service) sendPart(runCtx context.Context, d Delivery, part string, send func(context.Context) error) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	if s.sender == nil {
		return
	}

	ev := DeliveryEvent{ID: d.ID, UserID: d.UserID, Kind: d.Kind, Part: part, Key: d.DedupKey}
	maxAttempts := 1 + cfg.RetryMax
	if d.Kind.singleAttempt() {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(runCtx, cfg.SendTimeout)
		err := send(callCtx)
		cancel()
		if err == nil {
			s.appendHistory(d, part)
			eventbus.Publish(s.bus, eventbus.DeliverySent, ev)
			return
		}
		lastErr = err
		s.log.Debug("delivery send failed", logx.Err(err), logx.String("part", part), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return
		}
	}

	ev.Error = lastErr.Error()
	eventbus.Publish(s.bus, eventbus.DeliveryFailed, ev)
	s.log.Warn("delivery failed",
		logx.String("id", d.ID),
		logx.Int64("user", d.UserID),
		logx.String("kind", string(d.Kind)),
		logx.String("part", part),
		logx.Err(lastErr),
	)
}

// retryDelay is base * 2^(attempt-1), capped and jittered by 0.7..1.3.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
