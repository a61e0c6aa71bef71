package metrics

import (
	"sync/atomic"

	"github.com/kevinaaaquil/bookcatalog/models"
)

// RequestCounter tallies requests between collector runs. One instance is
// created in main and handed to both the tracking middleware and the collector.
type RequestCounter struct {
	total      atomic.Int64
	successful atomic.Int64
	failed     atomic.Int64
}

func NewRequestCounter() *RequestCounter {
	return &RequestCounter{}
}

// Record counts one finished request. Status codes >= 400 count as failed.
func (c *RequestCounter) Record(status int) {
	c.total.Add(1)
	if status >= 400 {
		c.failed.Add(1)
	} else {
		c.successful.Add(1)
	}
}

// Snapshot reads the counters without resetting them.
func (c *RequestCounter) Snapshot() models.RequestStats {
	return models.RequestStats{
		Total:      c.total.Load(),
		Successful: c.successful.Load(),
		Failed:     c.failed.Load(),
	}
}

// Drain returns the counts and resets them to zero. Each counter is swapped
// individually, so a request finishing mid-drain lands in this cycle or the next.
func (c *RequestCounter) Drain() models.RequestStats {
	return models.RequestStats{
		Total:      c.total.Swap(0),
		Successful: c.successful.Swap(0),
		Failed:     c.failed.Swap(0),
	}
}
