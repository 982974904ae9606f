// Package sampler runs the periodic measure -> log -> notify loop.
package sampler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"psu-logger/internal/model"
	"psu-logger/internal/storage"
)

// DefaultInterval is the pause between the end of one tick and the start of
// the next.
const DefaultInterval = 2 * time.Second

// Measurer takes one sample. *device.Session implements it.
type Measurer interface {
	Measure(ctx context.Context) (model.Sample, error)
	Port() string
}

// Observer is notified of every sample after it was logged.
type Observer interface {
	ObserveSample(s model.Sample)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(model.Sample)

func (f ObserverFunc) ObserveSample(s model.Sample) { f(s) }

// Recorder receives loop instrumentation. metrics.Metrics implements it.
type Recorder interface {
	SampleRecorded()
	TickFailed()
	SetRunning(running bool)
}

type nopRecorder struct{}

func (nopRecorder) SampleRecorded() {}
func (nopRecorder) TickFailed()      {}
func (nopRecorder) SetRunning(bool) {}

// Loop is Idle until Start and goes back to Idle after Stop, after the
// context passed to Start is cancelled, or after the first failing tick.
type Loop struct {
	m        Measurer
	sink     storage.Sink
	interval time.Duration
	signal   string
	log      logrus.FieldLogger
	rec      Recorder

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
	newID func() string

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	run       storage.RunInfo
	lastErr   error
	observers []Observer
	subs      map[int]chan model.Sample
	nextSub   int
}

type Option func(*Loop)

func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithSignal sets the signal column of records for runs started without a
// label.
func WithSignal(signal string) Option {
	return func(l *Loop) { l.signal = signal }
}

func WithLogger(lg logrus.FieldLogger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.log = lg
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(l *Loop) {
		if r != nil {
			l.rec = r
		}
	}
}

func WithObservers(obs ...Observer) Option {
	return func(l *Loop) { l.observers = append(l.observers, obs...) }
}

func New(m Measurer, sink storage.Sink, opts ...Option) *Loop {
	l := &Loop{
		m:        m,
		sink:     sink,
		interval: DefaultInterval,
		log:      logrus.StandardLogger(),
		rec:      nopRecorder{},
		now:      time.Now,
		after:    time.After,
		newID:    uuid.NewString,
		subs:     make(map[int]chan model.Sample),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// AddObserver registers o for all following samples.
func (l *Loop) AddObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Subscribe returns a channel of samples. Delivery never blocks the loop: a
// sample is dropped for a subscriber whose buffer is full. cancel closes the
// channel.
func (l *Loop) Subscribe(buffer int) (<-chan model.Sample, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.Sample, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// Start begins a new run: the sink is restarted, then the loop goroutine is
// spawned. label names the run and, when set, fills the signal column of its
// records. Start while running is a no-op.
func (l *Loop) Start(ctx context.Context, label string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}

	run := storage.RunInfo{
		RunID:     l.newID(),
		Label:     label,
		Port:      l.m.Port(),
		StartedAt: l.now(),
	}
	if err := l.sink.Start(run); err != nil {
		return fmt.Errorf("start log: %w", err)
	}

	l.running = true
	l.run = run
	l.lastErr = nil
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	l.rec.SetRunning(true)
	l.log.WithFields(logrus.Fields{"run_id": run.RunID, "interval": l.interval}).Info("sampling started")

	signal := l.signal
	if label != "" {
		signal = label
	}
	go l.loop(ctx, signal, l.stop, l.done)
	return nil
}

// Stop asks the loop to finish. A tick already in progress completes and
// its sample is logged; no new tick begins. Stop does not wait, see Wait.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

// Wait blocks until the loop is Idle.
func (l *Loop) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the loop goroutine is alive. It stays true after
// Stop until the in-flight tick has finished.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Run returns the current or last run.
func (l *Loop) Run() storage.RunInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.run
}

// LastError returns the error that ended the last run, or nil if it was
// stopped.
func (l *Loop) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

func (l *Loop) loop(ctx context.Context, signal string, stop <-chan struct{}, done chan struct{}) {
	var err error
	defer func() {
		l.mu.Lock()
		l.running = false
		l.lastErr = err
		l.stop = nil
		l.mu.Unlock()
		l.rec.SetRunning(false)
		close(done)
	}()

	// ticks are never cut short by the caller's context
	tctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-stop:
			l.log.Info("sampling stopped")
			return
		case <-ctx.Done():
			l.log.Info("sampling cancelled")
			return
		default:
		}

		if err = l.tick(tctx, signal); err != nil {
			l.rec.TickFailed()
			l.log.WithFields(logrus.Fields{"op": "tick", "error": err}).Error("sampling aborted")
			return
		}

		select {
		case <-stop:
			l.log.Info("sampling stopped")
			return
		case <-ctx.Done():
			l.log.Info("sampling cancelled")
			return
		case <-l.after(l.interval):
		}
	}
}

func (l *Loop) tick(ctx context.Context, signal string) error {
	s, err := l.m.Measure(ctx)
	if err != nil {
		return fmt.Errorf("measure: %w", err)
	}
	if err := l.sink.Append(model.Record{Sample: s, Signal: signal}); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	l.rec.SampleRecorded()
	l.notify(s)
	return nil
}

func (l *Loop) notify(s model.Sample) {
	l.mu.Lock()
	obs := append([]Observer(nil), l.observers...)
	for _, ch := range l.subs {
		select {
		case ch <- s:
		default:
		}
	}
	l.mu.Unlock()

	for _, o := range obs {
		o.ObserveSample(s)
	}
}
