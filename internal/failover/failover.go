// Package failover holds the process-wide primary/secondary role.
package failover

import (
	"sync/atomic"

	"github.com/yanun0323/logs"
)

// Controller gates external emission. It carries no ledger or sequence state, so flipping it
// never changes what the pipelines process.
type Controller struct {
	primary atomic.Bool
}

// NewController creates a controller in the given role.
func NewController(primary bool) *Controller {
	c := &Controller{}
	c.primary.Store(primary)
	return c
}

// IsPrimary reports whether emitted results are externally visible.
func (c *Controller) IsPrimary() bool {
	return c.primary.Load()
}

// Toggle flips the role and returns the new value.
func (c *Controller) Toggle() bool {
	for {
		old := c.primary.Load()
		if c.primary.CompareAndSwap(old, !old) {
			logs.Infof("failover role changed: primary=%t", !old)
			return !old
		}
	}
}

// Set forces the role.
func (c *Controller) Set(primary bool) {
	if c.primary.Swap(primary) != primary {
		logs.Infof("failover role changed: primary=%t", primary)
	}
}
