package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"psu-logger/internal/model"
	"psu-logger/internal/storage"
)

type fakeMeasurer struct {
	mu      sync.Mutex
	calls   int
	err     error
	entered chan struct{}
	release chan struct{}
}

func newFakeMeasurer() *fakeMeasurer {
	return &fakeMeasurer{entered: make(chan struct{}, 16)}
}

func (f *fakeMeasurer) Port() string { return "/dev/fake" }

func (f *fakeMeasurer) Measure(ctx context.Context) (model.Sample, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	err := f.err
	release := f.release
	f.mu.Unlock()

	f.entered <- struct{}{}
	if release != nil {
		<-release
	}
	if err != nil {
		return model.Sample{}, err
	}
	return model.Sample{
		Timestamp: time.Unix(int64(n), 0),
		Voltage:   "12.3",
		Current:   "0.45",
		Power:     "5.6",
	}, nil
}

func (f *fakeMeasurer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memSink struct {
	mu       sync.Mutex
	starts   []storage.RunInfo
	records  []model.Record
	startErr error
}

func (s *memSink) Start(run storage.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.starts = append(s.starts, run)
	s.records = nil
	return nil
}

func (s *memSink) Append(rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) Records() []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Record(nil), s.records...)
}

func (s *memSink) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.starts)
}

// newTestLoop returns a loop whose interval wait is driven by ticks.
func newTestLoop(t *testing.T, m Measurer, sink storage.Sink, opts ...Option) (*Loop, chan time.Time, *logtest.Hook) {
	t.Helper()
	lg, hook := logtest.NewNullLogger()
	l := New(m, sink, append([]Option{WithLogger(lg)}, opts...)...)
	ticks := make(chan time.Time)
	l.after = func(time.Duration) <-chan time.Time { return ticks }
	return l, ticks, hook
}

func waitEntered(t *testing.T, m *fakeMeasurer) {
	t.Helper()
	select {
	case <-m.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("measure was not called")
	}
}

func TestStartTwiceIsNoop(t *testing.T) {
	m := newFakeMeasurer()
	sink := &memSink{}
	l, _, _ := newTestLoop(t, m, sink)

	require.NoError(t, l.Start(context.Background(), "a"))
	require.NoError(t, l.Start(context.Background(), "b"))
	waitEntered(t, m)

	// interval never elapses, so a second goroutine would be the only
	// source of another measure
	select {
	case <-m.entered:
		t.Fatal("second sampling task running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, sink.Starts())
	assert.Equal(t, "a", l.Run().Label)
	assert.Equal(t, "/dev/fake", l.Run().Port)

	l.Stop()
	l.Wait()
	assert.False(t, l.Running())
	assert.NoError(t, l.LastError())
}

func TestTicksAppendInOrder(t *testing.T) {
	m := newFakeMeasurer()
	sink := &memSink{}
	l, ticks, _ := newTestLoop(t, m, sink, WithSignal("12V"))

	require.NoError(t, l.Start(context.Background(), ""))
	waitEntered(t, m)
	ticks <- time.Time{}
	waitEntered(t, m)
	ticks <- time.Time{}
	waitEntered(t, m)

	l.Stop()
	l.Wait()
	recs := sink.Records()
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, time.Unix(int64(i+1), 0), r.Timestamp)
		assert.Equal(t, "12V", r.Signal)
	}

	// a label overrides the default signal
	require.NoError(t, l.Start(context.Background(), "VCCIN"))
	waitEntered(t, m)
	l.Stop()
	l.Wait()
	recs = sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "VCCIN", recs[0].Signal)
}

func TestStopMidTickKeepsSample(t *testing.T) {
	m := newFakeMeasurer()
	m.release = make(chan struct{})
	sink := &memSink{}
	l, _, _ := newTestLoop(t, m, sink)

	require.NoError(t, l.Start(context.Background(), ""))
	waitEntered(t, m)
	l.Stop()
	assert.True(t, l.Running())
	close(m.release)
	l.Wait()

	assert.False(t, l.Running())
	assert.Equal(t, 1, m.Calls())
	assert.Len(t, sink.Records(), 1)
}

func TestCancelDoesNotAbortTick(t *testing.T) {
	m := newFakeMeasurer()
	m.release = make(chan struct{})
	sink := &memSink{}
	l, _, _ := newTestLoop(t, m, sink)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Start(ctx, ""))
	waitEntered(t, m)
	cancel()
	close(m.release)
	l.Wait()

	assert.Len(t, sink.Records(), 1)
	assert.NoError(t, l.LastError())
}

func TestMeasureErrorEndsRun(t *testing.T) {
	m := newFakeMeasurer()
	m.err = errors.New("unplugged")
	sink := &memSink{}
	l, _, hook := newTestLoop(t, m, sink)

	require.NoError(t, l.Start(context.Background(), ""))
	l.Wait()

	assert.False(t, l.Running())
	assert.ErrorContains(t, l.LastError(), "unplugged")
	assert.Empty(t, sink.Records())
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)

	// a new run can be started after the failure
	m.mu.Lock()
	m.err = nil
	m.mu.Unlock()
	require.NoError(t, l.Start(context.Background(), ""))
	waitEntered(t, m)
	waitEntered(t, m)
	l.Stop()
	l.Wait()
	assert.NoError(t, l.LastError())
	assert.Equal(t, 2, sink.Starts())
}

func TestStartFailsWhenSinkFails(t *testing.T) {
	sink := &memSink{startErr: errors.New("read-only")}
	l, _, _ := newTestLoop(t, newFakeMeasurer(), sink)
	err := l.Start(context.Background(), "")
	assert.ErrorContains(t, err, "read-only")
	assert.False(t, l.Running())
	l.Wait()
}

func TestObserversAndSubscribers(t *testing.T) {
	m := newFakeMeasurer()
	var mu sync.Mutex
	var seen []model.Sample
	obs := ObserverFunc(func(s model.Sample) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	l, ticks, _ := newTestLoop(t, m, &memSink{}, WithObservers(obs))
	ch, cancel := l.Subscribe(1)

	require.NoError(t, l.Start(context.Background(), ""))
	waitEntered(t, m)
	ticks <- time.Time{}
	waitEntered(t, m)
	ticks <- time.Time{}
	waitEntered(t, m)
	l.Stop()
	l.Wait()

	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()

	// the full buffer dropped later samples instead of blocking
	first := <-ch
	assert.Equal(t, time.Unix(1, 0), first.Timestamp)
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()
}

type countingRecorder struct {
	mu              sync.Mutex
	samples, failed int
	running         []bool
}

func (r *countingRecorder) SampleRecorded() { r.mu.Lock(); r.samples++; r.mu.Unlock() }
func (r *countingRecorder) TickFailed()     { r.mu.Lock(); r.failed++; r.mu.Unlock() }
func (r *countingRecorder) SetRunning(b bool) {
	r.mu.Lock()
	r.running = append(r.running, b)
	r.mu.Unlock()
}

func TestRecorder(t *testing.T) {
	m := newFakeMeasurer()
	rec := &countingRecorder{}
	l, _, _ := newTestLoop(t, m, &memSink{}, WithRecorder(rec))

	require.NoError(t, l.Start(context.Background(), ""))
	waitEntered(t, m)
	l.Stop()
	l.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.samples)
	assert.Equal(t, 0, rec.failed)
	assert.Equal(t, []bool{true, false}, rec.running)
}
