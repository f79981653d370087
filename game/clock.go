package game

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so phase derivation can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a manually advanced clock.
type FixedClock struct {
	mutex sync.Mutex
	now   time.Time
}

func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

// Millis converts t to the Unix-millisecond timestamps stored in documents.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
