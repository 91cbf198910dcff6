// Package correlator pairs inbound structured responses with the commands waiting for them.
package correlator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/NotCoffee418/nextpm_monitor/pkg/protocol"
	"github.com/google/uuid"
)

// Correlator keeps pending commands in registration order.
// The oldest pending command is resolved by the next response carrying an info tag.
type Correlator struct {
	mu      sync.Mutex
	pending []*Pending
}

func New() *Correlator {
	return &Correlator{}
}

// Register must happen before the command is written so a fast reply is not missed.
func (c *Correlator) Register(command string, timeout time.Duration) *Pending {
	p := &Pending{
		ID:         uuid.New(),
		Command:    command,
		Timeout:    timeout,
		Registered: time.Now(),
		done:       make(chan struct{}),
	}

	c.mu.Lock()
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	return p
}

// Wait blocks until p is resolved, its timeout expires or ctx is done.
// A zero timeout waits on ctx only.
func (c *Correlator) Wait(ctx context.Context, p *Pending) (*protocol.StructuredResponse, error) {
	var timeout <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-p.done:
	case <-timeout:
		c.finish(p, StateTimedOut, nil, fmt.Errorf("%w: %s after %s", ErrTimeout, p.Command, p.Timeout))
	case <-ctx.Done():
		c.finish(p, StateCancelled, nil, fmt.Errorf("%w: %s: %w", ErrCancelled, p.Command, ctx.Err()))
	}

	// Settling may have lost a race with Resolve, the winner's result stands
	return p.Result()
}

// Resolve hands resp to the oldest pending command. Responses without an info
// tag, or arriving while nothing is pending, are not matched.
func (c *Correlator) Resolve(resp *protocol.StructuredResponse) bool {
	if resp == nil || !resp.HasInfo() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) > 0 {
		p := c.pending[0]
		c.pending = c.pending[1:]
		if p.settle(StateResolved, resp, nil) {
			return true
		}
	}
	return false
}

// CancelAll rejects every pending command with cause and returns how many were rejected.
func (c *Correlator) CancelAll(cause error) int {
	if cause == nil {
		cause = ErrCancelled
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	n := 0
	for _, p := range pending {
		if p.settle(StateCancelled, nil, cause) {
			n++
		}
	}
	return n
}

// Cancel rejects a single pending command, typically one whose write failed.
func (c *Correlator) Cancel(p *Pending, cause error) bool {
	if cause == nil {
		cause = ErrCancelled
	}
	return c.finish(p, StateCancelled, nil, cause)
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) finish(p *Pending, state State, resp *protocol.StructuredResponse, err error) bool {
	if !p.settle(state, resp, err) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = slices.DeleteFunc(c.pending, func(q *Pending) bool { return q == p })
	return true
}
