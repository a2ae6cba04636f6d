package faultline

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
)

// ThreadGroup tracks running supervised goroutines by name, like a [sync.WaitGroup] that knows
// what it's waiting for:
//
//  1. Goroutines are named, added one at a time with [ThreadGroup.Add]
//  2. ThreadGroups are hierarchical, with subgroups that can be separately waited on
//  3. [ThreadGroup.Wait] returns a channel, so it can be selected over
//  4. The set of goroutines still running can be fetched with [ThreadGroup.Running] or
//     [ThreadGroup.Tree], e.g. to report what's holding up shutdown
//  5. More goroutines may be added after all have finished
//
// Every [Supervisor] has a ThreadGroup, which [Supervisor.Go] adds to automatically.
type ThreadGroup struct {
	mu             sync.Mutex
	parent         *ThreadGroup
	idInParent     subgroupID
	name           string
	count          uint
	allDone        chan struct{}
	threads        map[string]uint
	subgroups      map[subgroupID]*ThreadGroup
	nextSubgroupID subgroupID
}

// ThreadTree is a snapshot of the unfinished goroutines in a [ThreadGroup], returned by
// [ThreadGroup.Tree].
type ThreadTree struct {
	Name      string       `json:"name"`
	Threads   []ThreadInfo `json:"threads"`
	Subgroups []ThreadTree `json:"subgroups"`
}

// ThreadInfo describes the running goroutines with a particular name
type ThreadInfo struct {
	Name string `json:"name"`
	// Count is the number of running goroutines named Name. It is never zero.
	Count uint `json:"count"`
}

type subgroupID uint64

func (g *ThreadGroup) initialize() {
	if g.threads == nil {
		g.threads = make(map[string]uint)
		g.subgroups = make(map[subgroupID]*ThreadGroup)
	}
}

// NewThreadGroup creates a new ThreadGroup with the given name
func NewThreadGroup(name string) *ThreadGroup {
	return &ThreadGroup{name: name}
}

// Name returns the name of the ThreadGroup
func (g *ThreadGroup) Name() string {
	return g.name
}

// NewSubgroup creates a new ThreadGroup that is contained within g.
//
// Waiting on the parent will not complete while the subgroup has unfinished goroutines.
func (g *ThreadGroup) NewSubgroup(name string) *ThreadGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialize()

	id := g.nextSubgroupID
	g.nextSubgroupID += 1
	return &ThreadGroup{
		parent:     g,
		idInParent: id,
		name:       name,
	}
}

// Add records a running goroutine with the name. The same name may be added more than once, in
// which case each instance is counted separately.
func (g *ThreadGroup) Add(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialize()

	g.count += 1
	g.threads[name] += 1
	g.rectifyAdded()
}

func (g *ThreadGroup) rectifyAdded() {
	if g.count+uint(len(g.subgroups)) == 1 && g.parent != nil {
		g.parent.mu.Lock()
		defer g.parent.mu.Unlock()
		g.parent.initialize()

		g.parent.subgroups[g.idInParent] = g
		g.parent.rectifyAdded()
	}
}

// Done marks one goroutine with the name as finished.
//
// Done panics if there aren't any running goroutines with the name.
func (g *ThreadGroup) Done(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialize()

	c := g.threads[name]
	if c == 0 {
		panic(fmt.Sprintf("no running goroutines named %q", name))
	}

	if c -= 1; c == 0 {
		delete(g.threads, name)
	} else {
		g.threads[name] = c
	}

	g.count -= 1
	g.rectifyDone()
}

func (g *ThreadGroup) rectifyDone() {
	if g.count+uint(len(g.subgroups)) == 0 {
		if g.allDone != nil {
			close(g.allDone)
			g.allDone = nil
		}

		if g.parent != nil {
			g.parent.mu.Lock()
			defer g.parent.mu.Unlock()

			delete(g.parent.subgroups, g.idInParent)
			g.parent.rectifyDone()
		}
	}
}

// Wait returns a channel that is closed once every goroutine in the group (and its subgroups) has
// finished.
func (g *ThreadGroup) Wait() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialize()

	if g.count == 0 && len(g.subgroups) == 0 {
		return alwaysClosed
	}

	if g.allDone == nil {
		g.allDone = make(chan struct{})
	}

	return g.allDone
}

// TryWait waits on the ThreadGroup, returning early with ctx.Err() if the context is done first.
//
// If the context is already done when TryWait is called, it always returns the context's error.
func (g *ThreadGroup) TryWait(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.Wait():
		return nil
	}
}

// Finished returns whether all goroutines have finished, i.e. if waiting will immediately complete
func (g *ThreadGroup) Finished() bool {
	return isClosed(g.Wait())
}

// Running returns the running goroutines directly in this group, sorted by name. It does not
// recurse into subgroups; for that, use [ThreadGroup.Tree].
func (g *ThreadGroup) Running() []ThreadInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.runningLocked()
}

func (g *ThreadGroup) runningLocked() []ThreadInfo {
	var ts []ThreadInfo
	for name, count := range g.threads {
		ts = append(ts, ThreadInfo{Name: name, Count: count})
	}
	slices.SortFunc(ts, func(x, y ThreadInfo) int { return strings.Compare(x.Name, y.Name) })
	return ts
}

// Tree returns a snapshot of all running goroutines in the group and its subgroups.
//
// If goroutines start or finish during the call, the result may not exactly match the state at
// any single point in time. It's meant for diagnostics, like reporting what's still running when
// shutdown takes too long.
func (g *ThreadGroup) Tree() ThreadTree {
	g.mu.Lock()
	threads := g.runningLocked()
	var sgs []*ThreadGroup
	for _, sg := range g.subgroups {
		sgs = append(sgs, sg)
	}
	// Unlock during traversal; otherwise we could deadlock with rectifyAdded/rectifyDone
	g.mu.Unlock()

	slices.SortFunc(sgs, func(x, y *ThreadGroup) int { return cmp.Compare(x.idInParent, y.idInParent) })

	var subgroups []ThreadTree
	for _, sg := range sgs {
		t := sg.Tree()
		if len(t.Threads) != 0 || len(t.Subgroups) != 0 {
			subgroups = append(subgroups, t)
		}
	}

	return ThreadTree{
		Name:      g.name,
		Threads:   threads,
		Subgroups: subgroups,
	}
}

// String renders the tree as an indented list, e.g.:
//
//	supervisor
//	  worker (x2)
//	  sinks
//	    file-writer
func (t ThreadTree) String() string {
	var buf strings.Builder
	t.writeTo(&buf, 0)
	return buf.String()
}

func (t ThreadTree) writeTo(buf *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	buf.WriteString(indent + t.Name + "\n")
	for _, th := range t.Threads {
		buf.WriteString(indent + "  " + th.Name)
		if th.Count > 1 {
			fmt.Fprintf(buf, " (x%d)", th.Count)
		}
		buf.WriteString("\n")
	}
	for _, sg := range t.Subgroups {
		sg.writeTo(buf, depth+1)
	}
}
