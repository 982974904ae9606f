package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"psu-logger/internal/model"
	"psu-logger/internal/transport"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports present on this host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(os.Stderr, "no serial ports found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PORT\tUSB\tVID:PID\tPRODUCT")
		for _, p := range ports {
			id := ""
			if p.IsUSB {
				id = p.VID + ":" + p.PID
			}
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", p.Name, p.IsUSB, id, p.Product)
		}
		return w.Flush()
	},
}

var idnCmd = &cobra.Command{
	Use:   "idn",
	Short: "Print the instrument identification string",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		sess, idn, err := connect(ctx, cfg, log, nil)
		if err != nil {
			return err
		}
		defer sess.Disconnect()
		if idn == "" {
			fmt.Fprintln(os.Stderr, "instrument did not identify itself")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), idn)
		return nil
	},
}

var applyFlags model.Settings

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply voltage, current and protection settings",
	Long: `apply sends the voltage, current and over-current protection set points.
Values not given on the command line come from the settings section of the
config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		st := cfg.Settings
		if applyFlags.Voltage != "" {
			st.Voltage = applyFlags.Voltage
		}
		if applyFlags.Current != "" {
			st.Current = applyFlags.Current
		}
		if applyFlags.Protection != "" {
			st.Protection = applyFlags.Protection
		}

		ctx, cancel := signalContext()
		defer cancel()
		sess, _, err := connect(ctx, cfg, log, nil)
		if err != nil {
			return err
		}
		defer sess.Disconnect()
		if err := sess.ApplySettings(ctx, st); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied V=%s A=%s OCP=%s\n", st.Voltage, st.Current, st.Protection)
		return nil
	},
}

var outputCmd = &cobra.Command{
	Use:       "output on|off",
	Short:     "Switch the supply output",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := model.ParseOutputState(args[0])
		if err != nil {
			return err
		}
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		sess, _, err := connect(ctx, cfg, log, nil)
		if err != nil {
			return err
		}
		defer sess.Disconnect()
		if err := sess.SetOutput(ctx, state); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "output %s\n", state)
		return nil
	},
}

var measureJSON bool

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Take one voltage/current/power sample",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		sess, _, err := connect(ctx, cfg, log, nil)
		if err != nil {
			return err
		}
		defer sess.Disconnect()

		s, err := sess.Measure(ctx)
		if err != nil {
			return err
		}
		if measureJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		printSample(cmd.OutOrStdout(), "", s)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and print the effective device settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "device   %s %s @ %d baud, timeout %s, settle %s\n",
			cfg.Device.Driver, cfg.Device.Address, cfg.Device.BaudRate, cfg.Device.ReadTimeout, cfg.Device.SettleDelay)
		fmt.Fprintf(out, "sampling every %s, sinks %s\n", cfg.Sampling.Interval, cfg.Storage.FileType)
		fmt.Fprintf(out, "rails    %d points\n", len(cfg.Rails.Points))
		fmt.Fprintln(out, "config ok")
		return nil
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyFlags.Voltage, "voltage", "", "output voltage (V)")
	applyCmd.Flags().StringVar(&applyFlags.Current, "current", "", "current limit (A)")
	applyCmd.Flags().StringVar(&applyFlags.Protection, "protection", "", "over-current protection (A)")

	measureCmd.Flags().BoolVar(&measureJSON, "json", false, "print the sample as JSON")
}
