package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"schedgraph/internal/sched"
	"schedgraph/server"
)

// openDataset opens a span database and loads it for querying. The returned
// close func releases the database.
func openDataset(ctx context.Context, path string) (*server.Dataset, func(), error) {
	db, err := server.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	ds, err := server.LoadDataset(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return ds, func() { _ = db.Close() }, nil
}

func newTraversalCmd(kind string) *cobra.Command {
	var limit int
	short := "List the spans woken by a span, transitively, with their depth"
	extra := []string{"depth", "is_root"}
	if kind == "ancestors" {
		short = "List the waker chain of a span with the height of each hop"
		extra = []string{"height", "is_leaf"}
	}
	cmd := &cobra.Command{
		Use:   kind + " <spans.db> [span-id]",
		Short: short,
		Long:  short + ". Without a span id every span is listed once.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start sql.Null[sched.SpanID]
			if len(args) == 2 {
				id, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid span id %q", args[1])
				}
				start = sql.Null[sched.SpanID]{V: sched.SpanID(id), Valid: true}
			}
			ds, closeDB, err := openDataset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer closeDB()

			var records [][]string
			if kind == "ancestors" {
				for _, r := range ds.Ancestors(start, limit) {
					records = append(records, r.Record())
				}
			} else {
				for _, r := range ds.Descendants(start, limit) {
					records = append(records, r.Record())
				}
			}
			return writeCSV(cmd.OutOrStdout(), append(append([]string{}, server.SpanHeader...), extra...), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (0 = all)")
	return cmd
}

func newSpuriousCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "spurious <spans.db>",
		Short: "List wakeups that targeted a thread that was not blocked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, closeDB, err := openDataset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer closeDB()

			// LIMIT -1 is unbounded in SQLite.
			list, err := ds.Spurious(cmd.Context(), -1, 0)
			if err != nil {
				return err
			}
			records := make([][]string, len(list))
			for i, w := range list {
				records[i] = w.Record()
			}
			return writeCSV(cmd.OutOrStdout(), server.SpuriousHeader, records)
		},
	}
}

func newSpanOfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "span-of <spans.db> <thread-state-id>",
		Short: "Print the executing span containing a thread state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid thread state id %q", args[1])
			}
			ds, closeDB, err := openDataset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer closeDB()

			_, err = fmt.Fprintln(cmd.OutOrStdout(), ds.SpanOf(id).Text())
			return err
		},
	}
}

func writeCSV(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
