// Package transport provides the byte-level duplex link to the instrument.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClosed is returned by I/O on a transport that has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport is a duplex byte connection. ReadAvailable drains whatever has
// arrived, waiting at most the configured read timeout; it returns an empty
// slice and no error when nothing came.
type Transport interface {
	Write(p []byte) (int, error)
	ReadAvailable() ([]byte, error)
	IsOpen() bool
	Close() error
}

// Config selects a driver and its line parameters.
type Config struct {
	Driver      string        `yaml:"driver"` // serial | bugst | tcp
	Address     string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	DataBits    int           `yaml:"data_bits"`
	StopBits    int           `yaml:"stop_bits"`
	Parity      string        `yaml:"parity"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

const (
	DriverSerial = "serial"
	DriverBugst  = "bugst"
	DriverTCP    = "tcp"
)

// drainTimeout bounds each follow-up read once the first bytes arrived.
const drainTimeout = 20 * time.Millisecond

const readBufferSize = 4096

// Dialer opens transports. Session depends on this so tests can inject fakes.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Transport, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, cfg Config) (Transport, error)

func (f DialFunc) Dial(ctx context.Context, cfg Config) (Transport, error) { return f(ctx, cfg) }

// DefaultDialer dispatches on cfg.Driver.
var DefaultDialer Dialer = DialFunc(Open)

// Open opens a transport for cfg.
func Open(ctx context.Context, cfg Config) (Transport, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("transport: address is required")
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSerial:
		return openSerial(cfg)
	case DriverBugst:
		return openBugst(cfg)
	case DriverTCP:
		return openTCP(ctx, cfg)
	default:
		return nil, fmt.Errorf("transport: driver %q not implemented", cfg.Driver)
	}
}
