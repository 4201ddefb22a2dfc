package engine

import (
	"context"
	"math"
	"sync"
	"time"
)

// Counter accumulates external input between ticks. Max caps each pending count (0 means no cap
// beyond math.MaxInt); input past it is dropped, never wrapped.
type Counter struct {
	Max int

	mu     sync.Mutex
	clicks int
	keys   int
}

func (c *Counter) AddClick() { c.Add(1, 0) }
func (c *Counter) AddKey()   { c.Add(0, 1) }

// Add records a batch of inputs. Negative counts are ignored.
func (c *Counter) Add(clicks, keys int) {
	c.mu.Lock()
	c.clicks = c.saturate(c.clicks, clicks)
	c.keys = c.saturate(c.keys, keys)
	c.mu.Unlock()
}

func (c *Counter) saturate(have, add int) int {
	limit := math.MaxInt
	if c.Max > 0 {
		limit = c.Max
	}
	if add <= 0 {
		return have
	}
	if have >= limit || add > limit-have {
		return limit
	}
	return have + add
}

// Drain returns the counts accumulated since the previous Drain and zeroes them.
func (c *Counter) Drain() (clicks, keys int) {
	c.mu.Lock()
	clicks, keys = c.clicks, c.keys
	c.clicks, c.keys = 0, 0
	c.mu.Unlock()
	return clicks, keys
}

// Run drives the battle at the tuned tick rate until ctx is done. dt is measured from the wall
// clock, so a late tick simply advances further. A final snapshot is queued on exit.
func (e *Engine) Run(ctx context.Context, in *Counter) error {
	interval := time.Second / time.Duration(e.tun.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	largeEvery := time.Duration(e.tun.LargeSpawnEverySecs * float64(time.Second))
	last := time.Now()
	lastLarge := last

	for {
		select {
		case <-ctx.Done():
			e.Save()
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			var clicks, keys int
			if in != nil {
				clicks, keys = in.Drain()
			}
			large := 0
			if largeEvery > 0 && now.Sub(lastLarge) >= largeEvery {
				large = 1
				lastLarge = now
			}
			e.step(dt, clicks, keys, large)
		}
	}
}
