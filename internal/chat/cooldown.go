package chat

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown limits each user to one command per period.
type Cooldown struct {
	period time.Duration
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewCooldown(period time.Duration) *Cooldown {
	return &Cooldown{
		period:   period,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes the user's token. When the user is still cooling down it
// returns false and how long is left.
func (c *Cooldown) Allow(user string) (bool, time.Duration) {
	if c == nil || c.period <= 0 {
		return true, 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	lim, ok := c.limiters[user]
	if !ok {
		lim = rate.NewLimiter(rate.Every(c.period), 1)
		c.limiters[user] = lim
	}
	now := c.now()
	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}
