package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sarchlab/busvip/avalon"
	"github.com/sarchlab/busvip/datarecording"
	"github.com/sarchlab/busvip/tracing"
	"github.com/sarchlab/busvip/wishbone"
)

var reportCmd = &cobra.Command{
	Use:   "report [recording.sqlite3]",
	Short: "Print the tables of a recording.",
	Long: "`report rec.sqlite3 --table wishbone_results --limit 5` prints " +
		"the row count and the first rows of the recorded tables.",
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	f := reportCmd.Flags()
	f.String("table", "", "Only print this table.")
	f.Int("limit", 10, "Rows to print per table, 0 for all.")
	f.String("where", "", "SQL condition on the rows, such as \"Reply = 'err'\".")
	f.String("order-by", "", "SQL ordering of the rows, such as \"Cycle DESC\".")
}

func runReport(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	only, _ := f.GetString("table")
	limit, _ := f.GetInt("limit")
	where, _ := f.GetString("where")
	orderBy, _ := f.GetString("order-by")

	reader, err := datarecording.NewReader(args[0])
	if err != nil {
		return err
	}
	defer reader.Close()

	reader.MapTable(wishboneTable, wishbone.ResultEntry{})
	reader.MapTable(avalonTable, avalon.PacketEntry{})
	reader.MapTable("trace", tracing.TaskEntry{})

	out := cmd.OutOrStdout()
	printed := 0

	for _, table := range reader.ListTables() {
		if only != "" && table != only {
			continue
		}

		rows, total, err := reader.Query(cmd.Context(), table,
			datarecording.QueryParams{
				Where:   where,
				Limit:   limit,
				OrderBy: orderBy,
			})
		if err != nil {
			if only != "" {
				return err
			}

			continue
		}

		fmt.Fprintf(out, "%s: %d rows\n", table, total)

		for _, row := range rows {
			fmt.Fprintf(out, "  %+v\n", row)
		}

		printed++
	}

	if printed == 0 {
		return errors.Errorf("no known table in %s", args[0])
	}

	return nil
}
