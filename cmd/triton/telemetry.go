package main

import (
	"fmt"
	"time"

	"triton/cmd/triton/ui"
	"triton/pkg/api"

	"github.com/spf13/cobra"
)

func telemetryCmd(client func() *api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Inspect heartbeat telemetry",
	}
	cmd.AddCommand(telemetryLatestCmd(client))
	cmd.AddCommand(telemetryTrackCmd(client))
	return cmd
}

func telemetryLatestCmd(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "latest <mid>",
		Short: "Show the most recent heartbeat frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hb, err := client().LatestTelemetry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(ui.KeyValues("",
				ui.KV("mid", hb.MID),
				ui.KV("hb seq", fmt.Sprintf("%d", hb.HBSeq)),
				ui.KV("state", hb.State),
				ui.KV("vehicle time", hb.TsUTC.Local().Format(time.RFC3339)),
				ui.KV("received", hb.ReceivedAt.Local().Format(time.RFC3339)),
				ui.KV("payload", string(hb.Payload)),
			))
			return nil
		},
	}
}

func telemetryTrackCmd(client func() *api.Client) *cobra.Command {
	var (
		format string
		from   string
		to     string
	)
	cmd := &cobra.Command{
		Use:   "track <mid>",
		Short: "Dump the trajectory GeoJSON for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fromT, toT *time.Time
			if from != "" {
				t, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from must be RFC 3339: %q", from)
				}
				fromT = &t
			}
			if to != "" {
				t, err := time.Parse(time.RFC3339, to)
				if err != nil {
					return fmt.Errorf("--to must be RFC 3339: %q", to)
				}
				toT = &t
			}

			raw, err := client().Trajectory(cmd.Context(), args[0], format, fromT, toT)
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "geojson", "Output format: geojson or detailed")
	cmd.Flags().StringVar(&from, "from", "", "Window start (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (RFC 3339)")
	return cmd
}

func healthCmd(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := client().Health(cmd.Context())
			if err != nil {
				return err
			}
			status := ui.Success(h.Status)
			if h.Status != "ok" {
				status = ui.WarnMsg("%s", h.Status)
			}
			fmt.Print(ui.KeyValues("",
				ui.KV("status", status),
				ui.KV("db", fmt.Sprintf("%t", h.DB)),
				ui.KV("clock", h.Clock),
			))
			return nil
		},
	}
}
