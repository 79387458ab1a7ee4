package domain

import (
	"sync/atomic"
	"time"
)

// Clock hands out strictly increasing timestamps so tasks created in the
// same instant still sort in creation order.
type Clock struct {
	now  func() time.Time
	last atomic.Int64
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Next returns a UTC time later than any value previously returned.
func (c *Clock) Next() time.Time {
	for {
		now := c.now().UnixNano()
		last := c.last.Load()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}
