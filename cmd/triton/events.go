package main

import (
	"fmt"
	"strconv"
	"time"

	"triton/cmd/triton/ui"
	"triton/pkg/api"

	"github.com/spf13/cobra"
)

func eventsCmd(client func() *api.Client) *cobra.Command {
	var (
		mid       string
		eventType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List server event log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := client().Events(cmd.Context(), api.ListOptions{
				MID:   mid,
				Type:  eventType,
				Limit: limit,
			})
			if err != nil {
				return err
			}
			if len(page.Items) == 0 {
				fmt.Println(ui.Muted("no events"))
				return nil
			}

			var rows [][]string
			for _, e := range page.Items {
				rows = append(rows, []string{
					strconv.FormatInt(e.ID, 10),
					e.MID,
					ui.Accent(e.Type),
					string(e.Detail),
					e.CreatedAt.Local().Format(time.RFC3339),
				})
			}
			fmt.Println(ui.Table([]string{"ID", "MID", "TYPE", "DETAIL", "AT"}, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&mid, "mid", "", "Filter by device")
	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	return cmd
}
