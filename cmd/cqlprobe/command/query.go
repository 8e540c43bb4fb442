package command

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	queryIdempotent bool
	queryPageSize   int

	queryCmd = &cobra.Command{
		Use:   "query STATEMENT",
		Short: "Execute a CQL statement and print its rows.",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuery,
	}
)

func init() {
	queryCmd.Flags().BoolVar(&queryIdempotent, "idempotent", false, "allow retries and speculative executions")
	queryCmd.Flags().IntVar(&queryPageSize, "page-size", 100, "rows per page")
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer closeSession(s)

	res, err := s.Query(args[0]).
		Idempotent(queryIdempotent).
		PageSize(queryPageSize).
		Result(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cols := res.Columns()
	if len(cols) == 0 {
		fmt.Fprintf(out, "OK (coordinator %s)\n", res.Host())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))

	rows := 0
	for res.Next() {
		values := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := res.Scan(dest...); err != nil {
			return err
		}

		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
		rows++
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n(%d rows, coordinator %s)\n", rows, res.Host())
	if res.PagingState() != nil {
		fmt.Fprintln(out, "more pages available")
	}

	return nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("0x%x", x)
	case *string:
		if x == nil {
			return "null"
		}

		return *x
	default:
		return fmt.Sprint(x)
	}
}
