package transport

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/goburrow/serial"

	"psu-logger/internal/utils"
)

// serialTransport wraps a goburrow/serial port.
type serialTransport struct {
	rwc  io.ReadWriteCloser
	open atomic.Bool
	buf  []byte
}

func openSerial(cfg Config) (Transport, error) {
	rwc, err := utils.OpenSerial(utils.SerialParams{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return newSerialTransport(rwc), nil
}

func newSerialTransport(rwc io.ReadWriteCloser) *serialTransport {
	t := &serialTransport{rwc: rwc, buf: make([]byte, readBufferSize)}
	t.open.Store(true)
	return t
}

func (t *serialTransport) Write(p []byte) (int, error) {
	if !t.open.Load() {
		return 0, ErrClosed
	}
	return t.rwc.Write(p)
}

// ReadAvailable performs a single read. The port's own timeout bounds it;
// goburrow reports an idle line as serial.ErrTimeout.
func (t *serialTransport) ReadAvailable() ([]byte, error) {
	if !t.open.Load() {
		return nil, ErrClosed
	}
	n, err := t.rwc.Read(t.buf)
	if err != nil {
		if errors.Is(err, serial.ErrTimeout) {
			return []byte{}, nil
		}
		if errors.Is(err, io.EOF) && n == 0 {
			return []byte{}, nil
		}
		return nil, err
	}
	return append([]byte(nil), t.buf[:n]...), nil
}

func (t *serialTransport) IsOpen() bool { return t.open.Load() }

func (t *serialTransport) Close() error {
	if !t.open.Swap(false) {
		return nil
	}
	return t.rwc.Close()
}
