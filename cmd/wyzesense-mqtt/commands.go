package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Poppeseed/wyzesense-mqtt/internal/bridges/wyzesense"
	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/config"
)

// command builds the root command and its subcommands.
func (a *app) command() *cobra.Command {
	root := &cobra.Command{
		Use:   "wyzesense-mqtt",
		Short: "Forward WyzeSense sensor events to an MQTT broker",
		Long: `Opens a WyzeSense USB bridge and publishes every sensor state change
to wyzesense/{MAC}/update on the MQTT broker.

Examples:
  wyzesense-mqtt --device /dev/hidraw0 --broker 192.168.1.10
  wyzesense-mqtt list
  wyzesense-mqtt unpair 77A2B3C4`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBridge(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&a.flags.debug, "debug", "d", false, "output debug log messages to stderr")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "print and log more information")
	pf.StringVar(&a.flags.device, "device", config.DefaultDevice, "USB device path")
	pf.StringVar(&a.flags.configPath, "config", "", "YAML configuration file (or WYZESENSE_CONFIG)")
	pf.StringVar(&a.flags.username, "username", "", "MQTT username")
	pf.StringVar(&a.flags.password, "password", "", "MQTT password")

	root.Flags().StringVar(&a.flags.broker, "broker", "", "IP address or hostname of MQTT broker, optionally host:port")
	root.Flags().StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")

	root.AddCommand(a.listCommand(), a.pairCommand(), a.unpairCommand())

	return root
}

func (a *app) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List paired sensors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDispatcher(cmd, func(ctx context.Context, d *wyzesense.Dispatcher) error {
				return d.List(ctx)
			})
		},
	}
}

func (a *app) pairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Pair a new sensor",
		Long:  "Enables pairing and waits for a sensor to announce itself, up to the scan timeout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDispatcher(cmd, func(ctx context.Context, d *wyzesense.Dispatcher) error {
				return d.Pair(ctx)
			})
		},
	}
}

func (a *app) unpairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unpair MAC [MAC...]",
		Short: "Unpair sensors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDispatcher(cmd, func(ctx context.Context, d *wyzesense.Dispatcher) error {
				return d.Unpair(ctx, args)
			})
		},
	}
}
