package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/andresmejia3/amdlink/internal/posture"
	"github.com/andresmejia3/amdlink/internal/store"
	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recorded posture intervals",
	Annotations: map[string]string{dbAnnotation: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		intervals, err := DB.ListIntervals(cmd.Context(), historyLimit)
		if err != nil {
			utils.Die("Failed to list posture intervals", err, nil)
		}

		if len(intervals) == 0 {
			fmt.Println("No posture intervals found in database.")
			return
		}
		fmt.Println(renderIntervals(intervals))
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "Maximum number of intervals to show (0 = all)")
	rootCmd.AddCommand(historyCmd)
}

func renderIntervals(intervals []store.Interval) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "SESSION", "BODY", "POSTURE", "STARTED", "DURATION", "FRAMES"})

	for _, iv := range intervals {
		session := iv.SessionID
		if len(session) > 8 {
			session = session[:8]
		}
		tw.AppendRow(table.Row{
			strconv.FormatInt(iv.ID, 10),
			session,
			iv.BodyID,
			posture.Label(iv.Posture).String(),
			iv.StartedAt.Local().Format("2006-01-02 15:04:05"),
			iv.EndedAt.Sub(iv.StartedAt).Round(100 * time.Millisecond).String(),
			strconv.Itoa(iv.Frames),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 6, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 7, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
