package faultline

import (
	"sync"
)

// FaultChannel hands faults from the goroutines that raised them to the goroutine that owns
// handling them.
//
// By default, a FaultChannel holds a single pending fault: depositing while one is already pending
// replaces it, keeping only the most recent. With a larger backlog, up to that many faults are kept
// and the oldest is replaced when full. Either way, replaced faults are counted by
// [FaultChannel.Dropped] and passed to the OnOverwrite hook, so that no fault disappears silently.
type FaultChannel struct {
	mu      sync.Mutex
	pending []*Fault
	backlog int
	dropped uint64

	onOverwrite func(dropped *Fault)
	onDeposit   func(*Fault)
}

// NewFaultChannel creates a new, empty FaultChannel holding up to backlog pending faults. Any
// backlog less than one is treated as one.
func NewFaultChannel(backlog int) *FaultChannel {
	if backlog < 1 {
		backlog = 1
	}
	return &FaultChannel{backlog: backlog}
}

// OnOverwrite sets the function called (without the channel's lock held) with each fault that is
// dropped to make room for a newer one.
func (c *FaultChannel) OnOverwrite(hook func(dropped *Fault)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onOverwrite = hook
}

// OnDeposit sets the function called (without the channel's lock held) after each fault is
// deposited. It's the extension point for waking up whatever owns the channel, e.g. a UI event
// loop.
func (c *FaultChannel) OnDeposit(hook func(*Fault)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onDeposit = hook
}

// Deposit stores the fault until it's taken by [FaultChannel.Drain]. Deposit returns false without
// doing anything if f is nil or is already pending in this channel. A fault that has been drained
// can be deposited again.
func (c *FaultChannel) Deposit(f *Fault) bool {
	if f == nil {
		return false
	}

	c.mu.Lock()
	for _, p := range c.pending {
		if p == f {
			c.mu.Unlock()
			return false
		}
	}

	var dropped *Fault
	if len(c.pending) >= c.backlog {
		dropped = c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		c.dropped += 1
	}
	c.pending = append(c.pending, f)
	onOverwrite, onDeposit := c.onOverwrite, c.onDeposit
	c.mu.Unlock()

	if dropped != nil && onOverwrite != nil {
		onOverwrite(dropped)
	}
	if onDeposit != nil {
		onDeposit(f)
	}
	return true
}

// Drain removes and returns the oldest pending fault, or nil if there isn't one.
//
// Each deposited fault is returned by Drain at most once.
func (c *FaultChannel) Drain() *Fault {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}

	f := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return f
}

// Pending returns the number of faults waiting to be drained
func (c *FaultChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Dropped returns the total number of faults that were replaced before they could be drained
func (c *FaultChannel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dropped
}
