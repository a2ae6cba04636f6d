// Package sink provides asynchronous consumers for log lines and fault reports: a file writer, a
// UDP broadcaster, and a fan-out [Stream] to connect them to a logger.
//
// Producers never wait on I/O. Lines are pushed onto a [faultline.Queue] and written by a
// background goroutine that polls the queue, so a slow or broken destination can't block the code
// that's reporting a problem.
package sink

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sharnoff/faultline"
)

// ErrClosed is returned when sending to a sink that has been closed
var ErrClosed = errors.New("sink is closed")

// Sink is a destination for complete lines of text
type Sink interface {
	Send(line string) error
	Close() error
}

// Option configures a sink
type Option func(*options)

type options struct {
	poll     time.Duration
	logger   zerolog.Logger
	fileName string
}

// WithPollInterval sets how long the background goroutine waits for new lines before checking
// whether the sink is being closed. It's the upper bound on how long Close takes to start flushing.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.poll = d }
}

// WithLogger sets the logger that write errors are reported to. It must not write to the sink
// itself.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithFileName overrides the default file name used by [NewFileWriter]
func WithFileName(name string) Option {
	return func(o *options) { o.fileName = name }
}

func makeOptions(defaultPoll time.Duration, opts []Option) options {
	o := options{poll: defaultPoll, logger: zerolog.Nop()}
	for _, f := range opts {
		f(&o)
	}
	return o
}

// drainer is the queue and background goroutine shared by the sinks.
//
// The closing flag is set (under mu, so no Send can slip in after it) before waiting for the
// goroutine to finish, and the goroutine does a final non-waiting drain after it sees the flag.
type drainer struct {
	queue *faultline.Queue[string]
	poll  time.Duration
	log   zerolog.Logger

	mu        sync.RWMutex
	closing   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newDrainer(o options) *drainer {
	return &drainer{
		queue: faultline.NewQueue[string](o.poll),
		poll:  o.poll,
		log:   o.logger,
		done:  make(chan struct{}),
	}
}

func (d *drainer) send(line string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closing.Load() {
		return ErrClosed
	}
	d.queue.Push(line)
	return nil
}

// run drains the queue with write until closing, then writes whatever is left. Errors from write
// are logged, and don't stop the drain.
func (d *drainer) run(write func(string) error, flush func() error) {
	defer close(d.done)

	for !d.closing.Load() {
		if d.drain(d.poll, write) {
			d.check(flush())
		}
	}

	d.drain(0, write)
	d.check(flush())
}

func (d *drainer) drain(timeout time.Duration, write func(string) error) (wrote bool) {
	for {
		line, ok := d.queue.TryPopFor(timeout)
		if !ok {
			return wrote
		}
		d.check(write(line))
		wrote = true
	}
}

func (d *drainer) check(err error) {
	if err != nil {
		d.log.Error().Err(err).Msg("Sink write failed")
	}
}

// close stops accepting lines and waits for the goroutine to finish
func (d *drainer) close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closing.Store(true)
		d.mu.Unlock()
	})
	<-d.done
}
