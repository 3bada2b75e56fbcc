package main

import (
	"fmt"
	"os"

	"triton/cmd/triton/ui"
	"triton/internal/buildinfo"
	"triton/internal/logging"
	"triton/pkg/api"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug  bool
		server string
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	ui.Configure()

	root := &cobra.Command{
		Use:           "triton",
		Short:         "Operator CLI for the Triton AUV fleet server",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&server, "server", defaultServer(), "Server base URL")

	client := func() *api.Client { return api.NewClient(server) }

	root.AddCommand(devicesCmd(client))
	root.AddCommand(commandsCmd(client))
	root.AddCommand(divesCmd(client))
	root.AddCommand(telemetryCmd(client))
	root.AddCommand(eventsCmd(client))
	root.AddCommand(healthCmd(client))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}

func defaultServer() string {
	if v := os.Getenv("TRITON_SERVER"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
