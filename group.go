package faultline

import (
	"context"
)

// Group is a named set of a Supervisor's goroutines that can be waited on separately from the
// rest, e.g. to stop the stages of a pipeline in order.
//
// Goroutines started in a Group are otherwise the same as those started with [Supervisor.Go]:
// their faults are deposited for the Supervisor's owner, and [Supervisor.Shutdown] waits for them.
type Group struct {
	sv      *Supervisor
	threads *ThreadGroup
}

// NewGroup creates a Group within the Supervisor. It appears as a subgroup in the tree of running
// goroutines reported by [Supervisor.Shutdown].
func (s *Supervisor) NewGroup(name string) *Group {
	return &Group{sv: s, threads: s.threads.NewSubgroup(name)}
}

// NewGroup creates a Group nested inside g. Waiting on g also waits for it.
func (g *Group) NewGroup(name string) *Group {
	return &Group{sv: g.sv, threads: g.threads.NewSubgroup(name)}
}

// Name returns the name the Group was created with
func (g *Group) Name() string { return g.threads.Name() }

// Threads returns the ThreadGroup tracking the Group's goroutines
func (g *Group) Threads() *ThreadGroup { return g.threads }

// Go is like [Supervisor.Go], but counts the goroutine as part of the Group
func (g *Group) Go(ctx context.Context, name string, fn func(context.Context) error) *Thread {
	return g.sv.spawn(ctx, g.threads, name, fn, 1)
}

// Wait waits for every goroutine in the Group (and its nested groups) to finish. If the context is
// done first, the returned error lists the goroutines that are still running.
func (g *Group) Wait(ctx context.Context) error {
	return g.sv.waitFor(ctx, g.threads)
}
