// Package tasks runs the batch rail check: each rail of a board is powered
// in turn, confirmed by the operator and measured once.
package tasks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"psu-logger/internal/model"
	"psu-logger/internal/storage"
)

// ErrAborted is returned when the confirmation input ends before all rails
// were measured.
var ErrAborted = errors.New("tasks: confirmation input closed")

// Controller is the part of device.Session the runner drives.
type Controller interface {
	ApplySettings(ctx context.Context, st model.Settings) error
	SetOutput(ctx context.Context, state model.OutputState) error
	Measure(ctx context.Context) (model.Sample, error)
	Port() string
}

// RailRunner executes a Plan against one supply.
type RailRunner struct {
	Dev  Controller
	Sink storage.Sink
	Plan Plan
	// In supplies one confirmation line per rail; Out receives prompts and
	// results.
	In  io.Reader
	Out io.Writer
	Log logrus.FieldLogger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func (r *RailRunner) init() {
	if r.Log == nil {
		r.Log = logrus.StandardLogger()
	}
	if r.Out == nil {
		r.Out = io.Discard
	}
	if r.sleep == nil {
		r.sleep = sleep
	}
	if r.now == nil {
		r.now = time.Now
	}
}

func sleep(ctx context.Context, d time.Duration) error {
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

// readLines feeds lines from in to the returned channel, which is closed at
// EOF. The goroutine stays blocked on in until the reader ends.
func readLines(in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}

// Run measures every rail in plan order and returns the logged records. The
// output is switched off before Run returns early, including on ctx
// cancellation.
func (r *RailRunner) Run(ctx context.Context) (recs []model.Record, err error) {
	r.init()
	if r.In == nil {
		return nil, errors.New("tasks: no confirmation input")
	}

	run := storage.RunInfo{
		RunID:     uuid.NewString(),
		Label:     "rails",
		Port:      r.Dev.Port(),
		StartedAt: r.now(),
	}
	if err := r.Sink.Start(run); err != nil {
		return nil, fmt.Errorf("start log: %w", err)
	}

	defer func() {
		if err == nil {
			return
		}
		offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if oerr := r.Dev.SetOutput(offCtx, model.OutputOff); oerr != nil {
			r.Log.WithFields(logrus.Fields{"op": "output_off", "error": oerr}).Error("could not switch output off")
		}
	}()

	lines := readLines(r.In)
	for _, pt := range r.Plan.Points {
		rec, err := r.runPoint(ctx, pt, lines)
		if rec.Signal != "" {
			recs = append(recs, rec)
		}
		if err != nil {
			return recs, fmt.Errorf("rail %s: %w", pt.Signal, err)
		}
	}
	return recs, nil
}

func (r *RailRunner) runPoint(ctx context.Context, pt Point, lines <-chan string) (model.Record, error) {
	log := r.Log.WithFields(logrus.Fields{"signal": pt.Signal, "voltage": pt.Voltage})
	log.Info("rail start")

	if err := r.Dev.SetOutput(ctx, model.OutputOff); err != nil {
		return model.Record{}, err
	}
	if err := r.sleep(ctx, r.Plan.OffDelay); err != nil {
		return model.Record{}, err
	}
	st := model.Settings{Voltage: pt.Voltage, Current: r.Plan.Current, Protection: r.Plan.Protection}
	if err := r.Dev.ApplySettings(ctx, st); err != nil {
		return model.Record{}, err
	}
	if err := r.sleep(ctx, r.Plan.ApplyDelay); err != nil {
		return model.Record{}, err
	}
	if err := r.Dev.SetOutput(ctx, model.OutputOn); err != nil {
		return model.Record{}, err
	}
	if err := r.sleep(ctx, r.Plan.OnDelay); err != nil {
		return model.Record{}, err
	}

	fmt.Fprintf(r.Out, "%s (%s V): press Enter to log the signal\n", pt.Signal, pt.Voltage)
	select {
	case <-ctx.Done():
		return model.Record{}, ctx.Err()
	case _, ok := <-lines:
		if !ok {
			return model.Record{}, ErrAborted
		}
	}

	s, err := r.Dev.Measure(ctx)
	if err != nil {
		return model.Record{}, err
	}
	rec := model.Record{Sample: s, Signal: pt.Signal}
	if err := r.Sink.Append(rec); err != nil {
		return model.Record{}, fmt.Errorf("append: %w", err)
	}
	fmt.Fprintf(r.Out, "[%s] signal:%s V: %s, A: %s, W: %s\n",
		s.Timestamp.Format(storage.TimeLayout), pt.Signal, s.Voltage, s.Current, s.Power)

	if err := r.sleep(ctx, r.Plan.Hold); err != nil {
		return rec, err
	}
	if err := r.Dev.SetOutput(ctx, model.OutputOff); err != nil {
		return rec, err
	}
	if err := r.sleep(ctx, r.Plan.OffDelay); err != nil {
		return rec, err
	}
	return rec, nil
}
