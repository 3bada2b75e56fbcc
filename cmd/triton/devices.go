package main

import (
	"fmt"
	"time"

	"triton/cmd/triton/ui"
	"triton/pkg/api"

	"github.com/spf13/cobra"
)

func devicesCmd(client func() *api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect the fleet",
	}
	cmd.AddCommand(devicesListCmd(client))
	cmd.AddCommand(devicesShowCmd(client))
	cmd.AddCommand(devicesStatusCmd(client))
	return cmd
}

func devicesStatusCmd(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <mid>",
		Short: "Show one device's condensed status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().DeviceStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(ui.KeyValues("",
				ui.KV("mid", s.MID),
				ui.KV("state", s.State),
				ui.KV("online", ui.Online(s.Online)),
				ui.KV("last seen", s.LastSeenAt.Local().Format(time.RFC3339)),
				ui.KV("exec", s.ExecStatus),
			))
			return nil
		},
	}
}

func devicesListCmd(client func() *api.Client) *cobra.Command {
	var state string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			cursor := ""
			var rows [][]string
			for {
				page, err := c.Devices(cmd.Context(), api.ListOptions{State: state, Cursor: cursor})
				if err != nil {
					return err
				}
				for _, d := range page.Items {
					rows = append(rows, []string{
						d.MID,
						d.State,
						ui.Online(d.Online),
						hbSeqStr(d.LastHBSeq),
						d.LastSeenAt.Local().Format(time.RFC3339),
					})
				}
				if page.NextCursor == "" {
					break
				}
				cursor = page.NextCursor
			}
			if len(rows) == 0 {
				fmt.Println(ui.Muted("no devices"))
				return nil
			}
			fmt.Println(ui.Table([]string{"MID", "STATE", "ONLINE", "HB SEQ", "LAST SEEN"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by reported state")
	return cmd
}

func devicesShowCmd(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "show <mid>",
		Short: "Show one device's rollup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := client().Device(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			pairs := []ui.Pair{
				ui.KV("mid", d.MID),
				ui.KV("fw", d.FW),
				ui.KV("state", d.State),
				ui.KV("online", ui.Online(d.Online)),
				ui.KV("last seen", d.LastSeenAt.Local().Format(time.RFC3339)),
				ui.KV("hb seq", hbSeqStr(d.LastHBSeq)),
			}
			if d.LastExecCmdSeq != nil {
				pairs = append(pairs, ui.KV("exec", fmt.Sprintf("cmd %d %s", *d.LastExecCmdSeq, d.LastExecStatus)))
			}
			if d.Position != nil {
				pairs = append(pairs, ui.KV("position", fmt.Sprintf("%.6f, %.6f", d.Position.Lat, d.Position.Lon)))
			}
			if d.Power != nil && d.Power.SOC != nil {
				pairs = append(pairs, ui.KV("battery", fmt.Sprintf("%.0f%%", *d.Power.SOC)))
			}
			if d.Environment != nil && d.Environment.DepthM != nil {
				pairs = append(pairs, ui.KV("depth", fmt.Sprintf("%.1f m", *d.Environment.DepthM)))
			}
			fmt.Print(ui.KeyValues("", pairs...))
			return nil
		},
	}
}

func hbSeqStr(seq *uint64) string {
	if seq == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *seq)
}
