// Package device serializes command/response exchanges with the supply over
// a single transport and exposes typed operations on top of them.
package device

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"psu-logger/internal/model"
	"psu-logger/internal/scpi"
	"psu-logger/internal/transport"
)

// DefaultSettleDelay is the pause after each write before the instrument is
// sent anything else or read from.
const DefaultSettleDelay = 100 * time.Millisecond

// Recorder receives per-exchange instrumentation. metrics.Metrics implements it.
type Recorder interface {
	CommandSent(cmd string)
	CommandFailed(op string)
	ExchangeDuration(cmd string, d time.Duration)
	EmptyReading(field string)
}

type nopRecorder struct{}

func (nopRecorder) CommandSent(string)                     {}
func (nopRecorder) CommandFailed(string)                   {}
func (nopRecorder) ExchangeDuration(string, time.Duration) {}
func (nopRecorder) EmptyReading(string)                    {}

// Session owns at most one transport. All public operations take the same
// lock for their full duration, so exchanges never interleave on the wire.
type Session struct {
	mu     sync.Mutex
	dialer transport.Dialer
	cfg    transport.Config
	tr     transport.Transport
	port   string

	settle time.Duration
	log    logrus.FieldLogger
	rec    Recorder
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Session)

func WithSettleDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.settle = d
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.rec = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSession returns a disconnected session. cfg supplies the line
// parameters; the address may be overridden on Connect.
func NewSession(dialer transport.Dialer, cfg transport.Config, opts ...Option) *Session {
	if dialer == nil {
		dialer = transport.DefaultDialer
	}
	s := &Session{
		dialer: dialer,
		cfg:    cfg,
		settle: DefaultSettleDelay,
		log:    logrus.StandardLogger(),
		rec:    nopRecorder{},
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connect opens the transport named by identifier (or the configured port
// when empty), replacing any previous connection, and asks the instrument
// to identify itself. A silent instrument is not an error.
func (s *Session) Connect(ctx context.Context, identifier string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tr != nil {
		_ = s.tr.Close()
		s.tr = nil
	}
	cfg := s.cfg
	if identifier != "" {
		cfg.Address = identifier
	}
	tr, err := s.dialer.Dial(ctx, cfg)
	if err != nil {
		s.rec.CommandFailed("connect")
		return "", &ConnectionError{Op: "connect", Err: err}
	}
	s.tr = tr
	s.port = cfg.Address
	s.log.WithField("port", cfg.Address).Info("connected")

	idn, err := s.identify(ctx)
	if err != nil {
		// a connect that reports failure leaves nothing open
		if s.tr != nil {
			_ = s.tr.Close()
			s.tr = nil
		}
		return "", err
	}
	if idn == "" {
		s.log.WithField("port", cfg.Address).Warn("instrument did not answer *IDN?")
	} else {
		s.log.WithFields(logrus.Fields{"port": cfg.Address, "idn": idn}).Info("instrument identified")
	}
	return idn, nil
}

// Disconnect closes the transport. It is a no-op when not connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return nil
	}
	err := s.tr.Close()
	s.tr = nil
	s.log.WithField("port", s.port).Info("disconnected")
	return err
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tr != nil && s.tr.IsOpen()
}

// Port returns the address of the current connection, if any.
func (s *Session) Port() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return ""
	}
	return s.port
}

// Identify queries *IDN? and returns the decoded answer, possibly empty.
func (s *Session) Identify(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identify(ctx)
}

func (s *Session) identify(ctx context.Context) (string, error) {
	if err := s.ready(); err != nil {
		return "", err
	}
	return s.exchange(ctx, "identify", scpi.Identify, "")
}

// ApplySettings writes voltage, current limit and protection, in that order,
// with a settle delay between writes.
func (s *Session) ApplySettings(ctx context.Context, st model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	steps := []struct {
		cmd   scpi.Command
		value string
	}{
		{scpi.SetVoltage, st.Voltage},
		{scpi.SetCurrent, st.Current},
		{scpi.SetProtection, st.Protection},
	}
	for i, step := range steps {
		if i > 0 {
			if err := s.sleep(ctx, s.settle); err != nil {
				return err
			}
		}
		if _, err := s.exchange(ctx, "apply_settings", step.cmd, step.value); err != nil {
			return err
		}
	}
	s.log.WithFields(logrus.Fields{
		"voltage":    st.Voltage,
		"current":    st.Current,
		"protection": st.Protection,
	}).Info("settings applied")
	return nil
}

// SetOutput sends the on/off sequence once, without reading anything back.
func (s *Session) SetOutput(ctx context.Context, state model.OutputState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.exchange(ctx, "set_output", scpi.OutputCommand(state), ""); err != nil {
		return err
	}
	s.log.WithField("state", state.String()).Info("output switched")
	return nil
}

// Measure reads voltage, current and power under one timestamp. A garbled
// field is left empty; an I/O failure on any read fails the whole sample.
func (s *Session) Measure(ctx context.Context) (model.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return model.Sample{}, err
	}

	sample := model.Sample{Timestamp: s.now()}
	fields := [3]*model.Reading{&sample.Voltage, &sample.Current, &sample.Power}
	for i, cmd := range scpi.MeasureCommands {
		text, err := s.exchange(ctx, "measure", cmd, "")
		if err != nil {
			return model.Sample{}, err
		}
		r := scpi.ParseReading(text)
		if r.IsEmpty() {
			s.rec.EmptyReading(cmd.String())
		} else if _, ok := r.Float64(); !ok {
			s.log.WithFields(logrus.Fields{"command": cmd.String(), "response": text}).Debug("non-numeric reading kept")
		}
		*fields[i] = r
	}
	return sample, nil
}

func (s *Session) ready() error {
	if s.tr == nil || !s.tr.IsOpen() {
		return ErrNotConnected
	}
	return nil
}

// exchange writes cmd and, for queries, settles and reads the answer.
// Setting and output commands are never read back. Caller holds s.mu.
func (s *Session) exchange(ctx context.Context, op string, cmd scpi.Command, param string) (string, error) {
	start := time.Now()
	if err := s.write(op, cmd, scpi.Encode(cmd, param)); err != nil {
		return "", err
	}
	if !cmd.IsQuery() {
		return "", nil
	}
	if err := s.sleep(ctx, s.settle); err != nil {
		return "", err
	}
	raw, err := s.tr.ReadAvailable()
	if err != nil {
		return "", s.fail(op, err)
	}
	s.rec.ExchangeDuration(cmd.String(), time.Since(start))
	return scpi.Decode(raw), nil
}

func (s *Session) write(op string, cmd scpi.Command, b []byte) error {
	if _, err := s.tr.Write(b); err != nil {
		return s.fail(op, err)
	}
	s.rec.CommandSent(cmd.String())
	return nil
}

// fail drops the broken transport so later calls report ErrNotConnected
// until the caller reconnects.
func (s *Session) fail(op string, err error) error {
	s.rec.CommandFailed(op)
	s.log.WithFields(logrus.Fields{"op": op, "port": s.port, "error": err}).Error("transport failure")
	if s.tr != nil {
		_ = s.tr.Close()
		s.tr = nil
	}
	return &ConnectionError{Op: op, Err: err}
}
