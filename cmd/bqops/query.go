package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newQueryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "query <sql>...",
		Short: "Run standard SQL queries and print every row",
		Long: `Run each query in turn and print its rows. A failing query is logged
and the remaining queries still run.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.bigQuery(ctx)
			if err != nil {
				return err
			}

			failed := 0
			for _, sql := range args {
				it, err := client.Query(ctx, sql)
				if err == nil {
					err = a.printRows(cmd, it, limit)
				}
				if err != nil {
					failed++
					a.log.Error("query failed", zap.String("sql", sql), zap.Error(err))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d queries failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Print at most this many rows per query (0 for all)")
	return cmd
}
