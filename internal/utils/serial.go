package utils

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/goburrow/serial"
)

// SerialParams describes a serial line. Zero values pick the DC310S defaults.
type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 115200
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	sp.Parity = strings.ToUpper(strings.TrimSpace(sp.Parity))
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = time.Second
	}
}

// OpenSerial opens the port with goburrow/serial. Reads block for at most
// sp.Timeout and then fail with serial.ErrTimeout.
func OpenSerial(sp SerialParams) (io.ReadWriteCloser, error) {
	EnsureSerialDefaults(&sp)
	sc := &serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	}
	return serial.Open(sc)
}

// SocatPair names the two ends of a virtual serial link.
type SocatPair struct {
	Link string
	Peer string
}

func BuildSocatPairCmd(ctx context.Context, pair SocatPair) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "socat",
		"-d", "-d",
		"pty,raw,echo=0,link="+pair.Link,
		"pty,raw,echo=0,link="+pair.Peer,
	)
	return cmd
}
