package transport

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// bugstTransport uses go.bug.st/serial, whose read timeout can be changed
// per call; that allows a real drain of everything pending.
type bugstTransport struct {
	port    serial.Port
	timeout time.Duration
	open    atomic.Bool
	buf     []byte
}

func openBugst(cfg Config) (Transport, error) {
	mode, err := bugstMode(cfg)
	if err != nil {
		return nil, err
	}
	p, err := serial.Open(cfg.Address, mode)
	if err != nil {
		return nil, err
	}
	t := &bugstTransport{port: p, timeout: cfg.ReadTimeout, buf: make([]byte, readBufferSize)}
	t.open.Store(true)
	return t, nil
}

func bugstMode(cfg Config) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = 115200
	}
	if mode.DataBits == 0 {
		mode.DataBits = 8
	}
	switch strings.ToUpper(strings.TrimSpace(cfg.Parity)) {
	case "", "N":
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("transport: unsupported parity %q", cfg.Parity)
	}
	switch cfg.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("transport: unsupported stop bits %d", cfg.StopBits)
	}
	return mode, nil
}

func (t *bugstTransport) Write(p []byte) (int, error) {
	if !t.open.Load() {
		return 0, ErrClosed
	}
	return t.port.Write(p)
}

func (t *bugstTransport) ReadAvailable() ([]byte, error) {
	if !t.open.Load() {
		return nil, ErrClosed
	}
	if err := t.port.SetReadTimeout(t.timeout); err != nil {
		return nil, err
	}
	var out []byte
	for {
		n, err := t.port.Read(t.buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		out = append(out, t.buf[:n]...)
		if err := t.port.SetReadTimeout(drainTimeout); err != nil {
			return nil, err
		}
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func (t *bugstTransport) IsOpen() bool { return t.open.Load() }

func (t *bugstTransport) Close() error {
	if !t.open.Swap(false) {
		return nil
	}
	return t.port.Close()
}

// PortInfo describes one serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts enumerates the serial ports present on the host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		out = append(out, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return out, nil
}
