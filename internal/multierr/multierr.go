// Package multierr aggregates the post-run (non-aborting) cleanup failures
// a run collects — container stop/remove, network delete, temp-file
// delete — so the final diagnostic can enumerate every resource left
// behind in one message, per spec_full §7.
package multierr

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Collector is safe for concurrent use by the dispatcher's worker pool.
type Collector struct {
	mu  sync.Mutex
	err *multierror.Error
}

// Add records a cleanup failure. Nil errors are ignored.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = multierror.Append(c.err, err)
}

// ErrorOrNil returns the aggregated error, or nil if nothing was recorded.
func (c *Collector) ErrorOrNil() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		return nil
	}
	return c.err.ErrorOrNil()
}
