// Command psuctl drives a DC310S bench supply: one-shot commands, periodic
// logging, guided rail checks and the HTTP control API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"psu-logger/internal/config"
	"psu-logger/internal/device"
	"psu-logger/internal/metrics"
)

var version = "dev"

var (
	// Global flags
	cfgPath    string
	portFlag   string
	driverFlag string
)

var rootCmd = &cobra.Command{
	Use:   "psuctl",
	Short: "DC310S power supply control and logging",
	Long: `psuctl talks to a DC310S bench power supply over a serial line. It can
apply settings, switch the output, take measurements, log samples
periodically to CSV/JSONL/SQLite, step through supply rails and serve an
HTTP control API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "serial port or host:port, overrides device.port")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "transport driver (serial|bugst|tcp), overrides device.driver")

	rootCmd.AddCommand(portsCmd, idnCmd, applyCmd, outputCmd, measureCmd, logCmd, railsCmd, serveCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the command-line overrides.
func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if portFlag != "" {
		cfg.Device.Address = portFlag
	}
	if driverFlag != "" {
		cfg.Device.Driver = driverFlag
	}
	log, err := cfg.Log.NewLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

// newSession builds a disconnected session from cfg. m may be nil.
func newSession(cfg *config.Config, log logrus.FieldLogger, m *metrics.Metrics) *device.Session {
	opts := []device.Option{
		device.WithSettleDelay(cfg.Device.SettleDelay),
		device.WithLogger(log),
	}
	if m != nil {
		opts = append(opts, device.WithRecorder(m))
	}
	return device.NewSession(nil, cfg.Device.Config, opts...)
}

// connect builds and connects a session in one step.
func connect(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, m *metrics.Metrics) (*device.Session, string, error) {
	sess := newSession(cfg, log, m)
	idn, err := sess.Connect(ctx, "")
	if err != nil {
		return nil, "", err
	}
	log.WithFields(logrus.Fields{"port": sess.Port(), "idn": idn}).Info("connected")
	return sess, idn, nil
}

// newMetrics registers the collectors on a private registry, which is also
// what /metrics serves.
func newMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return metrics.New(reg), reg
}
