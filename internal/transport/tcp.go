package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// tcpTransport talks to a serial-over-TCP bridge (ser2net) or the simulator.
type tcpTransport struct {
	conn    net.Conn
	timeout time.Duration
	open    atomic.Bool
	buf     []byte
}

func openTCP(ctx context.Context, cfg Config) (Transport, error) {
	addr := strings.TrimPrefix(cfg.Address, "tcp://")
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newTCPTransport(conn, cfg.ReadTimeout), nil
}

func newTCPTransport(conn net.Conn, timeout time.Duration) *tcpTransport {
	if timeout <= 0 {
		timeout = time.Second
	}
	t := &tcpTransport{conn: conn, timeout: timeout, buf: make([]byte, readBufferSize)}
	t.open.Store(true)
	return t
}

func (t *tcpTransport) Write(p []byte) (int, error) {
	if !t.open.Load() {
		return 0, ErrClosed
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

func (t *tcpTransport) ReadAvailable() ([]byte, error) {
	if !t.open.Load() {
		return nil, ErrClosed
	}
	out := []byte{}
	wait := t.timeout
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return nil, err
		}
		n, err := t.conn.Read(t.buf)
		out = append(out, t.buf[:n]...)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return out, nil
			}
			if errors.Is(err, io.EOF) {
				if len(out) > 0 {
					return out, nil
				}
				return nil, err
			}
			return nil, err
		}
		if n == 0 {
			return out, nil
		}
		wait = drainTimeout
	}
}

func (t *tcpTransport) IsOpen() bool { return t.open.Load() }

func (t *tcpTransport) Close() error {
	if !t.open.Swap(false) {
		return nil
	}
	return t.conn.Close()
}
