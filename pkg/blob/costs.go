package blob

import (
	"sync"
	"time"
)

// Request classes used by the cost meter. Providers price LIST like PUT,
// so the classes mirror the billing buckets rather than the API names.
const (
	ClassGet    = "GET"
	ClassPut    = "PUT"
	ClassList   = "LIST"
	ClassDelete = "DELETE"
	ClassHead   = "HEAD"
)

// pricingUSD is the static per-request pricing table (us-east-1 standard
// tier). Estimates only; real bills depend on region and storage class.
var pricingUSD = map[string]float64{
	ClassPut:    0.000005,  // $0.005 per 1000
	ClassList:   0.000005,  // $0.005 per 1000
	ClassGet:    0.0000004, // $0.0004 per 1000
	ClassHead:   0.0000004, // $0.0004 per 1000
	ClassDelete: 0,         // free
}

// Costs counts requests by class and projects an estimated USD total.
// One instance is owned by each Store; all methods are safe for
// concurrent use. Retried attempts count individually, matching what
// the provider bills.
type Costs struct {
	mu       sync.Mutex
	requests map[string]uint64
	started  time.Time
}

// NewCosts returns an empty cost meter.
func NewCosts() *Costs {
	return &Costs{
		requests: make(map[string]uint64),
		started:  time.Now(),
	}
}

// Add records one request of the given class.
func (c *Costs) Add(class string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requests[class]++
	c.mu.Unlock()
}

// CostReport is a point-in-time snapshot of the meter.
type CostReport struct {
	Requests     map[string]uint64 `json:"requests"`
	Total        uint64            `json:"total"`
	EstimatedUSD float64           `json:"estimatedUSD"`
	Since        time.Time         `json:"since"`
}

// Report returns a snapshot with the projected USD cost.
func (c *Costs) Report() CostReport {
	if c == nil {
		return CostReport{Requests: map[string]uint64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := CostReport{
		Requests: make(map[string]uint64, len(c.requests)),
		Since:    c.started,
	}
	for class, n := range c.requests {
		out.Requests[class] = n
		out.Total += n
		out.EstimatedUSD += float64(n) * pricingUSD[class]
	}
	return out
}

// Total returns the total request count across all classes.
func (c *Costs) Total() uint64 {
	return c.Report().Total
}

// Reset zeroes the meter.
func (c *Costs) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requests = make(map[string]uint64)
	c.started = time.Now()
	c.mu.Unlock()
}
