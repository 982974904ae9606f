package tasks

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psu-logger/internal/model"
	"psu-logger/internal/storage"
)

type fakeDev struct {
	mu         sync.Mutex
	ops        []string
	measureErr error
	outputCtx  []error
}

func (d *fakeDev) add(op string) {
	d.mu.Lock()
	d.ops = append(d.ops, op)
	d.mu.Unlock()
}

func (d *fakeDev) ApplySettings(_ context.Context, st model.Settings) error {
	d.add("apply " + st.Voltage + "/" + st.Current + "/" + st.Protection)
	return nil
}

func (d *fakeDev) SetOutput(ctx context.Context, state model.OutputState) error {
	d.mu.Lock()
	d.outputCtx = append(d.outputCtx, ctx.Err())
	d.mu.Unlock()
	d.add("output " + state.String())
	return nil
}

func (d *fakeDev) Measure(context.Context) (model.Sample, error) {
	d.add("measure")
	if d.measureErr != nil {
		return model.Sample{}, d.measureErr
	}
	return model.Sample{Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Voltage: "5.01", Current: "0.2", Power: "1.0"}, nil
}

func (d *fakeDev) Port() string { return "/dev/ttyUSB0" }

func (d *fakeDev) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

type sleeps struct {
	mu sync.Mutex
	d  []time.Duration
}

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.d = append(s.d, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newRunner(t *testing.T, dev *fakeDev, in io.Reader, points ...Point) (*RailRunner, *storage.CSVSink, *bytes.Buffer, *sleeps) {
	t.Helper()
	plan := Plan{Points: points}
	plan.ApplyDefaults(time.Second)
	sink := storage.NewCSVSink(filepath.Join(t.TempDir(), "rails.csv"), true)
	t.Cleanup(func() { _ = sink.Close() })
	lg, _ := logtest.NewNullLogger()
	out := &bytes.Buffer{}
	sl := &sleeps{}
	r := &RailRunner{Dev: dev, Sink: sink, Plan: plan, In: in, Out: out, Log: lg, sleep: sl.sleep}
	return r, sink, out, sl
}

func TestRunSequence(t *testing.T) {
	dev := &fakeDev{}
	r, _, out, sl := newRunner(t, dev, strings.NewReader("\n\n"),
		Point{Signal: "VCC", Voltage: "5"}, Point{Signal: "V3_3V", Voltage: "3.3"})

	recs, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "VCC", recs[0].Signal)
	assert.Equal(t, "V3_3V", recs[1].Signal)

	assert.Equal(t, []string{
		"output off", "apply 5/6/5", "output on", "measure", "output off",
		"output off", "apply 3.3/6/5", "output on", "measure", "output off",
	}, dev.Ops())

	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, time.Second, 500 * time.Millisecond,
	}, sl.d[:5])
	assert.Contains(t, out.String(), "signal:VCC V: 5.01, A: 0.2, W: 1.0")
}

func TestRunEOFSwitchesOff(t *testing.T) {
	dev := &fakeDev{}
	r, _, _, _ := newRunner(t, dev, strings.NewReader("\n"),
		Point{Signal: "A", Voltage: "1"}, Point{Signal: "B", Voltage: "2"})

	recs, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrAborted)
	assert.Len(t, recs, 1)
	ops := dev.Ops()
	assert.Equal(t, "output on", ops[len(ops)-2])
	assert.Equal(t, "output off", ops[len(ops)-1])
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunCancelSwitchesOffWithFreshContext(t *testing.T) {
	dev := &fakeDev{}
	pr, pw := io.Pipe()
	defer pw.Close()
	r, _, _, _ := newRunner(t, dev, pr, Point{Signal: "A", Voltage: "1"})
	r.sleep = func(context.Context, time.Duration) error { return nil }
	out := &syncBuffer{}
	r.Out = out

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "press Enter") }, 2*time.Second, 5*time.Millisecond)
	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	ops := dev.Ops()
	assert.Equal(t, "output off", ops[len(ops)-1])
	dev.mu.Lock()
	assert.NoError(t, dev.outputCtx[len(dev.outputCtx)-1])
	dev.mu.Unlock()
}

func TestRunMeasureError(t *testing.T) {
	dev := &fakeDev{measureErr: errors.New("unplugged")}
	r, _, _, _ := newRunner(t, dev, strings.NewReader("\n"), Point{Signal: "A", Voltage: "1"})
	recs, err := r.Run(context.Background())
	assert.ErrorContains(t, err, "rail A: unplugged")
	assert.Empty(t, recs)
	ops := dev.Ops()
	assert.Equal(t, "output off", ops[len(ops)-1])
}

func TestRunRequiresInput(t *testing.T) {
	r := &RailRunner{Dev: &fakeDev{}}
	_, err := r.Run(context.Background())
	assert.Error(t, err)
}

func TestPlanValidate(t *testing.T) {
	var p Plan
	p.ApplyDefaults(2 * time.Second)
	require.NoError(t, p.Validate())
	assert.Len(t, p.Points, 4)
	assert.Equal(t, 2*time.Second, p.Hold)

	p.Points = append(p.Points, Point{Signal: "VCC", Voltage: "5"})
	assert.ErrorContains(t, p.Validate(), "duplicate")
}
