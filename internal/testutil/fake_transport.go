// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"psu-logger/internal/transport"
)

// FakeTransport answers writes from a scripted table keyed by the written
// command text. Every write and its order is recorded.
type FakeTransport struct {
	mu        sync.Mutex
	Responses map[string][]string // command -> queued answers, consumed in order
	ReadErrs  map[int]error       // read index (0-based) -> error
	WriteErr  error
	writes    []string
	pending   []byte
	reads     int
	open      bool
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{Responses: map[string][]string{}, ReadErrs: map[int]error{}, open: true}
}

// Respond queues an answer for the given command line.
func (f *FakeTransport) Respond(cmd string, answers ...string) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[cmd] = append(f.Responses[cmd], answers...)
	return f
}

func (f *FakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, transport.ErrClosed
	}
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	f.writes = append(f.writes, string(p))
	key := strings.TrimRight(string(p), "\n")
	if q := f.Responses[key]; len(q) > 0 {
		f.pending = append(f.pending, q[0]...)
		f.Responses[key] = q[1:]
	}
	return len(p), nil
}

func (f *FakeTransport) ReadAvailable() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, transport.ErrClosed
	}
	idx := f.reads
	f.reads++
	if err, ok := f.ReadErrs[idx]; ok {
		return nil, err
	}
	out := f.pending
	f.pending = nil
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func (f *FakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

// Reads returns how many times ReadAvailable was called.
func (f *FakeTransport) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Writes returns a copy of every write so far.
func (f *FakeTransport) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// Dialer returns a dialer that hands out f, or fails with err when set.
func (f *FakeTransport) Dialer(err error) transport.Dialer {
	return transport.DialFunc(func(context.Context, transport.Config) (transport.Transport, error) {
		if err != nil {
			return nil, err
		}
		return f, nil
	})
}

// ErrUnplugged is a convenient I/O failure for scripts.
var ErrUnplugged = errors.New("device unplugged")
