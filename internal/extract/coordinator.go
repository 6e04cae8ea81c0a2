package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"taskbot/internal/model"
	"taskbot/pkg/logx"
)

// ErrNotUnderstood means no candidate cleared the confidence threshold.
var ErrNotUnderstood = errors.New("request not understood")

const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"

	// Threshold is exclusive: a candidate needs Confidence > Threshold.
	Threshold = 0.3

	DefaultPrimaryTimeout = 30 * time.Second
)

// Primary returns a raw JSON payload describing one task.
type Primary interface {
	Extract(ctx context.Context, text string, today time.Time) (string, error)
}

// Options configure a Coordinator. Primary may be nil, in which case every
// request uses the fallback. PrimaryTimeout bounds one primary call
// independently of the caller's context, since collapsed callers share it.
type Options struct {
	Primary        Primary
	PrimaryTimeout time.Duration
	Location       *time.Location
	Now            func() time.Time
	CacheSize      int
	CacheTTL       time.Duration
	Log            logx.Logger
}

// Coordinator tries the primary extractor first and falls back to rules.
// Concurrent primary calls for the same text and day are collapsed.
type Coordinator struct {
	primary  Primary
	timeout  time.Duration
	fallback *Extractor
	loc      *time.Location
	now      func() time.Time
	cache    *expirable.LRU[string, model.Candidate]
	flight   singleflight.Group
	log      logx.Logger
}

func NewCoordinator(opt Options) *Coordinator {
	if opt.Location == nil {
		opt.Location = time.Local
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.PrimaryTimeout <= 0 {
		opt.PrimaryTimeout = DefaultPrimaryTimeout
	}
	c := &Coordinator{
		primary:  opt.Primary,
		timeout:  opt.PrimaryTimeout,
		fallback: NewExtractor(opt.Location, opt.Now),
		loc:      opt.Location,
		now:      opt.Now,
		log:      opt.Log.With(logx.String("comp", "extract")),
	}
	if opt.CacheSize > 0 {
		ttl := opt.CacheTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		c.cache = expirable.NewLRU[string, model.Candidate](opt.CacheSize, nil, ttl)
	}
	return c
}

// Extract resolves text into a candidate or returns ErrNotUnderstood.
func (c *Coordinator) Extract(ctx context.Context, text string) (model.Candidate, error) {
	text = strings.TrimSpace(text)
	today := c.now().In(c.loc)
	key := today.Format(model.DateLayout) + "|" + text

	if c.cache != nil {
		if cand, ok := c.cache.Get(key); ok {
			return cand, nil
		}
	}

	var (
		cand        model.Candidate
		fromPrimary bool
	)
	if c.primary != nil {
		ch := c.flight.DoChan(key, func() (any, error) {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
			defer cancel()
			cand, ok := c.extract(fctx, text, today)
			return extracted{cand, ok}, nil
		})
		select {
		case res := <-ch:
			r := res.Val.(extracted)
			cand, fromPrimary = r.cand, r.fromPrimary
		case <-ctx.Done():
			return model.Candidate{}, ctx.Err()
		}
	} else {
		cand = c.fallback.Extract(text)
	}
	if !(cand.Confidence > Threshold) {
		c.log.Debug("candidate rejected", logx.String("source", cand.Source), logx.Float64("confidence", cand.Confidence))
		return model.Candidate{}, ErrNotUnderstood
	}
	if fromPrimary && c.cache != nil {
		c.cache.Add(key, cand)
	}
	return cand, nil
}

type extracted struct {
	cand        model.Candidate
	fromPrimary bool
}

func (c *Coordinator) extract(ctx context.Context, text string, today time.Time) (model.Candidate, bool) {
	raw, err := c.primary.Extract(ctx, text, today)
	if err != nil {
		c.log.Warn("primary extraction failed, using fallback", logx.Err(err))
		return c.fallback.Extract(text), false
	}
	cand, err := ParsePayload(raw)
	if err != nil {
		c.log.Info("primary payload unusable, using fallback", logx.Err(err))
		return c.fallback.Extract(text), false
	}
	return cand, true
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// StripFences removes a markdown code fence around a payload, if any.
func StripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// payload mirrors model.Candidate with pointer ints so absent fields can be
// told apart from zero.
type payload struct {
	Title          string   `json:"task_title"`
	Type           string   `json:"task_type"`
	Date           string   `json:"scheduled_date"`
	Time           string   `json:"scheduled_time"`
	Duration       *int     `json:"duration"`
	ReminderBefore *int     `json:"reminder_before"`
	Notes          string   `json:"notes"`
	Confidence     *float64 `json:"confidence"`
}

// ParsePayload decodes and validates a primary payload.
func ParsePayload(raw string) (model.Candidate, error) {
	var p payload
	if err := json.Unmarshal([]byte(StripFences(raw)), &p); err != nil {
		return model.Candidate{}, fmt.Errorf("decode payload: %w", err)
	}
	title := strings.TrimSpace(p.Title)
	typ := strings.ToLower(strings.TrimSpace(p.Type))
	date := strings.TrimSpace(p.Date)
	clock := strings.TrimSpace(p.Time)
	switch {
	case title == "":
		return model.Candidate{}, errors.New("missing task_title")
	case typ == "":
		return model.Candidate{}, errors.New("missing task_type")
	case date == "":
		return model.Candidate{}, errors.New("missing scheduled_date")
	case clock == "":
		return model.Candidate{}, errors.New("missing scheduled_time")
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return model.Candidate{}, fmt.Errorf("scheduled_date: %w", err)
	}
	at, err := time.Parse(model.TimeLayout, clock)
	if err != nil {
		return model.Candidate{}, fmt.Errorf("scheduled_time: %w", err)
	}
	clock = at.Format(model.TimeLayout)

	cand := model.Candidate{
		Title:          title,
		Type:           model.TaskType(typ),
		Date:           date,
		Time:           clock,
		Duration:       model.DefaultDuration,
		ReminderBefore: model.DefaultReminderBefore,
		Notes:          strings.TrimSpace(p.Notes),
		Source:         SourcePrimary,
	}
	if !cand.Type.Valid() {
		cand.Type = model.TypePersonal
	}
	if p.Duration != nil && *p.Duration > 0 {
		cand.Duration = *p.Duration
	}
	if p.ReminderBefore != nil && *p.ReminderBefore >= 0 {
		cand.ReminderBefore = *p.ReminderBefore
	}
	if p.Confidence != nil {
		cand.Confidence = min(max(*p.Confidence, 0), 1)
	}
	return cand, nil
}
