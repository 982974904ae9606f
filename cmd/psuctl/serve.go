package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"psu-logger/internal/api"
	"psu-logger/internal/utils"
)

var (
	serveConnect bool
	serveAddr    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP control API with live sample streaming",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.API.Addr = serveAddr
		}
		ctx, cancel := signalContext()
		defer cancel()

		m, reg := newMetrics()
		sess := newSession(cfg, log, m)
		defer sess.Disconnect()
		if serveConnect {
			if _, err := sess.Connect(ctx, ""); err != nil {
				log.WithError(err).Warn("initial connect failed, use POST /api/connect")
			}
		}

		loop, cleanup, err := newLoop(ctx, cfg, sess, log, m)
		if err != nil {
			return err
		}
		defer cleanup()

		latest := utils.NewSampleCache(0)
		loop.AddObserver(latest)

		h := api.NewHandler(ctx, sess, loop, latest, log).
			WithVersion(version).
			WithBuffer(cfg.Sampling.Buffer)
		e := api.NewServer(h, reg)

		errCh := make(chan error, 1)
		go func() {
			log.WithField("addr", cfg.API.Addr).Info("api listening")
			errCh <- e.Start(cfg.API.Addr)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		}

		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("api shutdown")
		}
		loop.Stop()
		loop.Wait()
		log.WithFields(logrus.Fields{"run_id": loop.Run().RunID}).Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveConnect, "connect", false, "connect to the configured port on startup")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides api.addr")
}
