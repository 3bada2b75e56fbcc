package main

import (
	"fmt"
	"strconv"
	"time"

	"triton/cmd/triton/ui"
	"triton/pkg/api"

	"github.com/spf13/cobra"
)

func divesCmd(client func() *api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dives",
		Short: "Inspect recorded dives",
	}
	cmd.AddCommand(divesListCmd(client))
	cmd.AddCommand(divesShowCmd(client))
	return cmd
}

func divesListCmd(client func() *api.Client) *cobra.Command {
	var (
		mid   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dives, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := client().Dives(cmd.Context(), api.ListOptions{MID: mid, Limit: limit})
			if err != nil {
				return err
			}
			if len(page.Items) == 0 {
				fmt.Println(ui.Muted("no dives"))
				return nil
			}

			var rows [][]string
			for _, d := range page.Items {
				rows = append(rows, []string{
					strconv.FormatInt(d.ID, 10),
					d.MID,
					strconv.FormatUint(d.CmdSeq, 10),
					diveOutcome(d.OK),
					timeOrDash(d.StartedAt),
					timeOrDash(d.EndedAt),
				})
			}
			fmt.Println(ui.Table([]string{"ID", "MID", "CMD SEQ", "OUTCOME", "STARTED", "ENDED"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&mid, "mid", "", "Filter by device")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	return cmd
}

func divesShowCmd(client func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one dive record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("id must be an integer: %q", args[0])
			}
			d, err := client().Dive(cmd.Context(), id)
			if err != nil {
				return err
			}

			pairs := []ui.Pair{
				ui.KV("id", strconv.FormatInt(d.ID, 10)),
				ui.KV("mid", d.MID),
				ui.KV("cmd seq", strconv.FormatUint(d.CmdSeq, 10)),
				ui.KV("outcome", diveOutcome(d.OK)),
				ui.KV("started", timeOrDash(d.StartedAt)),
				ui.KV("ended", timeOrDash(d.EndedAt)),
			}
			if len(d.Summary) > 0 {
				pairs = append(pairs, ui.KV("summary", string(d.Summary)))
			}
			fmt.Print(ui.KeyValues("", pairs...))
			return nil
		},
	}
}

func diveOutcome(ok *bool) string {
	switch {
	case ok == nil:
		return ui.Muted("unknown")
	case *ok:
		return ui.Success("ok")
	default:
		return ui.ErrorStyle.Render("failed")
	}
}

func timeOrDash(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
