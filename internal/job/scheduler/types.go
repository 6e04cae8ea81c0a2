package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskbot/internal/eventbus"
	"taskbot/internal/job/engine"
	"taskbot/pkg/logx"
)

type Config struct {
	Timezone string // IANA name; empty means time.Local
}

type (
	OverlapPolicy = engine.OverlapPolicy
	JobOptions    = engine.JobOptions
)

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

// Enqueuer is the slice of engine.Service the trigger layer needs.
type Enqueuer interface {
	Enqueue(j engine.Job) error
}

type JobFunc = func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     JobFunc
	opt     JobOptions
	state   *engine.RunState
	entryID cron.EntryID
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     JobFunc
	opt     JobOptions
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	loc *time.Location
	log logx.Logger
	bus eventbus.Bus

	engine Enqueuer

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time

	tmu     sync.Mutex
	once    map[string]*onceDef
	onceSeq uint64
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}
