package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"psu-logger/internal/config"
	"psu-logger/internal/metrics"
	"psu-logger/internal/model"
	"psu-logger/internal/publish"
	"psu-logger/internal/sampler"
	"psu-logger/internal/storage"
	"psu-logger/internal/tasks"
)

func printSample(w io.Writer, signal string, s model.Sample) {
	ts := s.Timestamp.Format(storage.TimeLayout)
	if signal != "" {
		fmt.Fprintf(w, "[%s] signal:%s V: %s, A: %s, W: %s\n", ts, signal, s.Voltage, s.Current, s.Power)
		return
	}
	fmt.Fprintf(w, "[%s] V: %s, A: %s, W: %s\n", ts, s.Voltage, s.Current, s.Power)
}

// newLoop wires a sampling loop with its sink and, when enabled, the redis
// publisher. The returned cleanup closes both.
func newLoop(ctx context.Context, cfg *config.Config, m sampler.Measurer, log logrus.FieldLogger, rec *metrics.Metrics) (*sampler.Loop, func(), error) {
	sink, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	loop := sampler.New(m, sink,
		sampler.WithInterval(cfg.Sampling.Interval),
		sampler.WithLogger(log),
		sampler.WithRecorder(rec),
	)

	var pub *publish.Publisher
	if cfg.Redis.Enabled {
		pub, err = publish.Dial(ctx, cfg.Redis.Config,
			publish.WithLogger(log),
			publish.WithRecorder(rec),
			publish.WithPort(m.Port),
		)
		if err != nil {
			sink.Close()
			return nil, nil, err
		}
		loop.AddObserver(pub)
	}

	cleanup := func() {
		if pub != nil {
			if err := pub.Close(); err != nil {
				log.WithError(err).Warn("close publisher")
			}
		}
		if err := sink.Close(); err != nil {
			log.WithError(err).Warn("close log")
		}
	}
	return loop, cleanup, nil
}

var (
	logLabel    string
	logDuration time.Duration
	logApply    bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Sample the supply periodically and append to the configured logs",
	Long: `log connects, optionally applies the configured settings and switches the
output on, then records one voltage/current/power sample per interval until
interrupted or until --duration elapses.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		m, _ := newMetrics()
		sess, _, err := connect(ctx, cfg, log, m)
		if err != nil {
			return err
		}
		defer sess.Disconnect()

		if logApply {
			if err := sess.ApplySettings(ctx, cfg.Settings); err != nil {
				return err
			}
			if err := sess.SetOutput(ctx, model.OutputOn); err != nil {
				return err
			}
		}

		loop, cleanup, err := newLoop(ctx, cfg, sess, log, m)
		if err != nil {
			return err
		}
		defer cleanup()

		out := cmd.OutOrStdout()
		loop.AddObserver(sampler.ObserverFunc(func(s model.Sample) { printSample(out, logLabel, s) }))

		if err := loop.Start(ctx, logLabel); err != nil {
			return err
		}
		if logDuration > 0 {
			t := time.AfterFunc(logDuration, loop.Stop)
			defer t.Stop()
		}
		loop.Wait()

		if err := loop.LastError(); err != nil {
			return fmt.Errorf("logging stopped: %w", err)
		}
		log.WithField("run_id", loop.Run().RunID).Info("logging stopped")
		return nil
	},
}

var railsCmd = &cobra.Command{
	Use:   "rails",
	Short: "Step through the configured supply rails, logging one sample each",
	Long: `rails switches the output off, applies each rail voltage, switches it on
and waits for Enter before measuring. Records carry the rail name in the
signal column. The output is left off when the run ends or is interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.Storage.SignalColumn = true

		ctx, cancel := signalContext()
		defer cancel()

		m, _ := newMetrics()
		sess, _, err := connect(ctx, cfg, log, m)
		if err != nil {
			return err
		}
		defer sess.Disconnect()

		sink, err := storage.New(cfg.Storage)
		if err != nil {
			return err
		}
		defer sink.Close()

		runner := &tasks.RailRunner{
			Dev:  sess,
			Sink: sink,
			Plan: cfg.Rails,
			In:   os.Stdin,
			Out:  cmd.OutOrStdout(),
			Log:  log,
		}
		recs, err := runner.Run(ctx)
		log.WithField("records", len(recs)).Info("rails finished")
		return err
	},
}

func init() {
	logCmd.Flags().StringVar(&logLabel, "label", "", "run label, written to the signal column when enabled")
	logCmd.Flags().DurationVar(&logDuration, "duration", 0, "stop after this long (0 runs until interrupted)")
	logCmd.Flags().BoolVar(&logApply, "apply", false, "apply configured settings and switch the output on first")
}
