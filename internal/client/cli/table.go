package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"seep/internal/client/cli/ui"
	"seep/internal/shared/snapshot"
)

var tableCmd = &cobra.Command{
	Use:   "table <snapshot>",
	Short: "Render a dynamic-table snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := snapshot.Load(args[0])
		if err != nil {
			return err
		}
		table := st.Table

		fmt.Printf("saved %s  capacity %d/%d  size %d  inserts %d  acked %d  evicted %d\n",
			st.SavedAt.Format("2006-01-02 15:04:05"),
			table.Capacity, table.MaxCapacity, table.Size,
			table.InsertCount, table.KnownReceivedCount, table.EvictionCount,
		)

		render := ui.NewTable([]string{"ABS", "NAME", "VALUE", "SIZE", "REFS", "STATE"}).
			WithTitle("dynamic table")
		// Newest first, the way the table is usually read.
		for i := len(table.Entries) - 1; i >= 0; i-- {
			e := table.Entries[i]
			state := "acked"
			if e.AbsoluteIndex >= table.KnownReceivedCount {
				state = ui.Accent("unacked")
			}
			render.AddRow([]string{
				strconv.FormatUint(e.AbsoluteIndex, 10),
				e.Name,
				e.Value,
				strconv.FormatUint(e.Size, 10),
				strconv.Itoa(e.Outstanding),
				state,
			})
		}
		render.Print()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tableCmd)
}
