package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnsureSerialDefaults(t *testing.T) {
	sp := SerialParams{Address: "/dev/ttyUSB0", Parity: " e"}
	EnsureSerialDefaults(&sp)
	assert.Equal(t, 115200, sp.BaudRate)
	assert.Equal(t, 8, sp.DataBits)
	assert.Equal(t, 1, sp.StopBits)
	assert.Equal(t, "E", sp.Parity)
	assert.Equal(t, time.Second, sp.Timeout)

	sp = SerialParams{BaudRate: 9600, Timeout: 250 * time.Millisecond}
	EnsureSerialDefaults(&sp)
	assert.Equal(t, 9600, sp.BaudRate)
	assert.Equal(t, "N", sp.Parity)
	assert.Equal(t, 250*time.Millisecond, sp.Timeout)
}

func TestBuildSocatPairCmd(t *testing.T) {
	cmd := BuildSocatPairCmd(context.Background(), SocatPair{Link: "/tmp/psu0", Peer: "/tmp/psu1"})
	assert.Equal(t, []string{"socat", "-d", "-d", "pty,raw,echo=0,link=/tmp/psu0", "pty,raw,echo=0,link=/tmp/psu1"}, cmd.Args)
}
