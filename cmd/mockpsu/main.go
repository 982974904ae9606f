// Command mockpsu runs a simulated DC310S supply on a TCP port or on a
// (virtual) serial line, so psuctl can be exercised without hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"psu-logger/internal/simulator"
	"psu-logger/internal/utils"
)

// Config selects where the simulated instrument is reachable.
type Config struct {
	Mode     string  `yaml:"mode"`   // "tcp" | "serial" (auto-detect if empty)
	Listen   string  `yaml:"listen"` // tcp, e.g. 127.0.0.1:5025
	Serial   string  `yaml:"serial_port"`
	BaudRate int     `yaml:"baud_rate"`
	DataBits int     `yaml:"data_bits"`
	StopBits int     `yaml:"stop_bits"`
	Parity   string  `yaml:"parity"`
	Load     float64 `yaml:"load_ohms"`

	// Optional: auto-create a virtual serial pair via socat (Unix-like systems)
	SpawnSocat bool   `yaml:"spawn_socat"`
	SocatLink  string `yaml:"socat_link"` // path served by mockpsu, e.g. /tmp/psu0
	SocatPeer  string `yaml:"socat_peer"` // path given to psuctl, e.g. /tmp/psu1

	LogLevel string `yaml:"log_level"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return cfg, nil
}

func (c *Config) mode() string {
	m := strings.ToLower(strings.TrimSpace(c.Mode))
	if m != "" {
		return m
	}
	if c.Serial != "" || c.SpawnSocat {
		return "serial"
	}
	return "tcp"
}

func main() {
	var (
		cfgPath string
		flags   Config
	)
	flag.StringVar(&cfgPath, "config", "", "path to mockpsu YAML config (optional)")
	flag.StringVar(&flags.Listen, "listen", "", "TCP listen address (default 127.0.0.1:5025)")
	flag.StringVar(&flags.Serial, "serial", "", "serve on this serial port instead of TCP")
	flag.BoolVar(&flags.SpawnSocat, "socat", false, "create a socat pty pair (needs -socat-link and -socat-peer)")
	flag.StringVar(&flags.SocatLink, "socat-link", "", "pty path served by the simulator")
	flag.StringVar(&flags.SocatPeer, "socat-peer", "", "pty path for the client")
	flag.Float64Var(&flags.Load, "load", 0, "simulated load resistance in ohms")
	flag.StringVar(&flags.LogLevel, "log-level", "", "log level")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	merge(&cfg, flags)

	log := logrus.New()
	if cfg.LogLevel != "" {
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Fatalf("log level: %v", err)
		}
		log.SetLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sim := simulator.NewServer(log.WithField("component", "mockpsu"))
	if cfg.Load > 0 {
		sim.SetLoad(cfg.Load)
	}

	switch cfg.mode() {
	case "serial":
		err = runSerial(ctx, sim, cfg, log)
	case "tcp":
		err = runTCP(ctx, sim, cfg, log)
	default:
		err = fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

// merge lets command-line flags win over the file.
func merge(cfg *Config, f Config) {
	if f.Listen != "" {
		cfg.Listen = f.Listen
	}
	if f.Serial != "" {
		cfg.Serial = f.Serial
	}
	if f.SpawnSocat {
		cfg.SpawnSocat = true
	}
	if f.SocatLink != "" {
		cfg.SocatLink = f.SocatLink
	}
	if f.SocatPeer != "" {
		cfg.SocatPeer = f.SocatPeer
	}
	if f.Load > 0 {
		cfg.Load = f.Load
	}
	if f.LogLevel != "" {
		cfg.LogLevel = f.LogLevel
	}
}

func runTCP(ctx context.Context, sim *simulator.Server, cfg Config, log *logrus.Logger) error {
	addr := cfg.Listen
	if addr == "" {
		addr = "127.0.0.1:5025"
	}
	if err := sim.Listen(addr); err != nil {
		return err
	}
	<-ctx.Done()
	sim.Close()
	log.WithField("commands", sim.Commands()).Info("mockpsu stopped")
	return nil
}

// runSerial serves one serial port, optionally creating it with socat.
func runSerial(ctx context.Context, sim *simulator.Server, cfg Config, log *logrus.Logger) error {
	var socatCmd *exec.Cmd
	if cfg.SpawnSocat {
		link := cfg.SocatLink
		if link == "" {
			link = cfg.Serial
		}
		if link == "" || cfg.SocatPeer == "" {
			return fmt.Errorf("spawn_socat requires socat_link (or serial_port) and socat_peer")
		}
		socatCmd = utils.BuildSocatPairCmd(ctx, utils.SocatPair{Link: link, Peer: cfg.SocatPeer})
		socatCmd.Stdout = os.Stdout
		socatCmd.Stderr = os.Stderr
		if err := socatCmd.Start(); err != nil {
			return fmt.Errorf("start socat: %w", err)
		}
		log.WithFields(logrus.Fields{"link": link, "peer": cfg.SocatPeer, "pid": socatCmd.Process.Pid}).Info("spawned socat pair")
		// wait for the pty links to appear
		time.Sleep(400 * time.Millisecond)
		if cfg.Serial == "" {
			cfg.Serial = link
		}
	}

	rw, err := utils.OpenSerial(utils.SerialParams{
		Address:  cfg.Serial,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  time.Second,
	})
	if err != nil {
		stopSocat(socatCmd)
		return fmt.Errorf("open %s: %w", cfg.Serial, err)
	}
	log.WithField("port", cfg.Serial).Info("simulator serving serial line")

	done := make(chan struct{})
	go func() { defer close(done); sim.Serve(rw) }()

	select {
	case <-ctx.Done():
	case <-done:
	}
	rw.Close()
	<-done
	stopSocat(socatCmd)
	log.WithField("commands", sim.Commands()).Info("mockpsu stopped")
	return nil
}

func stopSocat(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	exited := make(chan struct{})
	go func() { _ = cmd.Wait(); close(exited) }()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
	}
}
