package sink

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DefaultBlastPollInterval is the default poll interval of a [Blaster]
const DefaultBlastPollInterval = 10 * time.Millisecond

// Blaster sends each line as a single UDP datagram, from a background goroutine.
//
// Delivery is best-effort, like UDP itself: lines sent while nobody is listening are lost.
type Blaster struct {
	*drainer
	conn net.Conn

	closeConn sync.Once
	closeErr  error
}

// NewBlaster starts a Blaster sending to addr, e.g. "127.0.0.1:9090" or a broadcast address
func NewBlaster(addr string, opts ...Option) (*Blaster, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "could not dial %q", addr)
	}

	b := &Blaster{
		drainer: newDrainer(makeOptions(DefaultBlastPollInterval, opts)),
		conn:    conn,
	}

	go b.drainer.run(func(line string) error {
		_, err := b.conn.Write([]byte(line))
		return errors.Wrap(err, "could not send datagram")
	}, func() error { return nil })

	return b, nil
}

// Addr returns the address lines are sent to
func (b *Blaster) Addr() net.Addr {
	return b.conn.RemoteAddr()
}

// Send queues the line to be sent
func (b *Blaster) Send(line string) error {
	return b.send(line)
}

// Write implements io.Writer, queueing p as a single datagram
func (b *Blaster) Write(p []byte) (int, error) {
	if err := b.send(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close stops accepting lines, sends whatever is already queued, and closes the socket
func (b *Blaster) Close() error {
	b.close()
	b.closeConn.Do(func() {
		b.closeErr = errors.Wrap(b.conn.Close(), "could not close blaster connection")
	})
	return b.closeErr
}
