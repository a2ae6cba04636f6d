package sink

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sharnoff/faultline"
)

// maxDatagram is the largest UDP payload
const maxDatagram = 65535

// Receiver listens for datagrams sent by a [Blaster], queueing each as a line
type Receiver struct {
	conn  net.PacketConn
	lines *faultline.Queue[string]
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Listen starts a Receiver on the UDP address, e.g. ":9090" or "127.0.0.1:0"
func Listen(addr string) (*Receiver, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "could not listen on %q", addr)
	}

	r := &Receiver{
		conn:  conn,
		lines: faultline.NewQueue[string](0),
		done:  make(chan struct{}),
	}
	go r.run()
	return r, nil
}

func (r *Receiver) run() {
	defer close(r.done)

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := r.conn.ReadFrom(buf)
		if n > 0 {
			r.lines.Push(string(buf[:n]))
		}
		if err != nil {
			return // closed
		}
	}
}

// Addr returns the address the Receiver is listening on
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Next returns the next received line, waiting until there is one or the context is done
func (r *Receiver) Next(ctx context.Context) (string, error) {
	return r.lines.PopContext(ctx)
}

// Lines returns the queue of received lines
func (r *Receiver) Lines() *faultline.Queue[string] {
	return r.lines
}

// Close stops listening. Lines already received remain available.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = errors.Wrap(r.conn.Close(), "could not close receiver")
		<-r.done
	})
	return r.closeErr
}
