package main

import (
	"fmt"
	"strconv"
	"time"

	"triton/cmd/triton/ui"
	"triton/pkg/api"

	"github.com/spf13/cobra"
)

func commandsCmd(client func() *api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Queue and inspect dive commands",
	}
	cmd.AddCommand(commandsListCmd(client))
	cmd.AddCommand(commandsShowCmd(client))
	cmd.AddCommand(commandsRunDiveCmd(client))
	return cmd
}

func commandsListCmd(client func() *api.Client) *cobra.Command {
	var (
		mid    string
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent commands, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := client().Commands(cmd.Context(), api.ListOptions{
				MID:    mid,
				Status: status,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if len(page.Items) == 0 {
				fmt.Println(ui.Muted("no commands"))
				return nil
			}

			var rows [][]string
			for _, c := range page.Items {
				rows = append(rows, []string{
					strconv.FormatInt(c.ID, 10),
					c.MID,
					strconv.FormatUint(c.Seq, 10),
					c.Cmd,
					ui.Status(c.Status),
					c.CreatedAt.Local().Format(time.RFC3339),
				})
			}
			fmt.Println(ui.Table([]string{"ID", "MID", "SEQ", "CMD", "STATUS", "CREATED"}, rows))
			if page.NextCursor != "" {
				fmt.Println(ui.Muted("more: --cursor " + page.NextCursor))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mid, "mid", "", "Filter by device")
	cmd.Flags().StringVar(&status, "status", "", "Filter by lifecycle status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	return cmd
}

func commandsShowCmd(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("id must be an integer: %q", args[0])
			}
			c, err := client().Command(cmd.Context(), id)
			if err != nil {
				return err
			}

			pairs := []ui.Pair{
				ui.KV("id", strconv.FormatInt(c.ID, 10)),
				ui.KV("mid", c.MID),
				ui.KV("seq", strconv.FormatUint(c.Seq, 10)),
				ui.KV("cmd", c.Cmd),
				ui.KV("status", ui.Status(c.Status)),
				ui.KV("plan hash", ui.Muted(c.PlanHash)),
				ui.KV("created", c.CreatedAt.Local().Format(time.RFC3339)),
			}
			if c.IssuedBy != "" {
				pairs = append(pairs, ui.KV("issued by", c.IssuedBy))
			}
			if c.IssuedAt != nil {
				pairs = append(pairs, ui.KV("issued", c.IssuedAt.Local().Format(time.RFC3339)))
			}
			if len(c.Args) > 0 {
				pairs = append(pairs, ui.KV("args", string(c.Args)))
			}
			fmt.Print(ui.KeyValues("", pairs...))
			return nil
		},
	}
}

func commandsRunDiveCmd(client func() *api.Client) *cobra.Command {
	var (
		depth  float64
		hold   int
		cycles int
	)
	cmd := &cobra.Command{
		Use:   "run-dive <mid>",
		Short: "Queue a RUN_DIVE command for a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client().EnqueueCommand(cmd.Context(), api.EnqueueCommandRequest{
				MID: args[0],
				Cmd: "RUN_DIVE",
				Args: api.RunDiveArgs{
					TargetDepthM: depth,
					HoldAtDepthS: hold,
					Cycles:       cycles,
				},
			})
			if err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("queued command %d (seq %d) for %s", c.ID, c.Seq, c.MID))
			return nil
		},
	}
	cmd.Flags().Float64Var(&depth, "depth", 0, "Target depth in meters (required)")
	cmd.Flags().IntVar(&hold, "hold", 0, "Hold time at depth in seconds")
	cmd.Flags().IntVar(&cycles, "cycles", 1, "Number of dive cycles")
	_ = cmd.MarkFlagRequired("depth")
	return cmd
}
