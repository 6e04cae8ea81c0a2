package router

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	limiterEntries = 1000
	limiterTTL     = 5 * time.Minute
)

// UserLimiter keeps one token bucket per user. Idle users age out of the
// registry after limiterTTL.
type UserLimiter struct {
	limiters *expirable.LRU[int64, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// NewUserLimiter allows perMin requests per minute per user. perMin <= 0
// returns nil, which allows everything.
func NewUserLimiter(perMin int) *UserLimiter {
	if perMin <= 0 {
		return nil
	}
	return &UserLimiter{
		limiters: expirable.NewLRU[int64, *rate.Limiter](limiterEntries, nil, limiterTTL),
		rate:     rate.Limit(float64(perMin) / 60.0),
		burst:    max(1, perMin/10),
	}
}

func (l *UserLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}
	lim, ok := l.limiters.Get(userID)
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(userID, lim)
	}
	return lim.Allow()
}
