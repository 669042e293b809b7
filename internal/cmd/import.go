package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/y0ug/detreg/internal/importer"
	"github.com/y0ug/detreg/pkg/client"
	"golang.org/x/time/rate"
)

func newImportCmd(opts *globalOptions) *cobra.Command {
	var (
		concurrency int64
		rps         float64
		burst       int
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Report every hash listed in a file",
		Long: `Import reads FILE and reports each entry as a detection.

A .csv file holds file_hash,timestamp rows; the timestamp column is optional.
Any other file is read as one hash per line. Lines starting with # are skipped
and entries without a timestamp are reported with the current time.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := importer.ReadRecords(args[0], time.Now())
			if err != nil {
				return fmt.Errorf("failed to read records from file: %w", err)
			}

			var extra []client.Option
			if rps > 0 {
				extra = append(extra, client.WithRateLimiter(rate.NewLimiter(rate.Limit(rps), burst)))
			}
			c, err := opts.newClient(extra...)
			if err != nil {
				return err
			}

			submitter := importer.SubmitterFunc(func(ctx context.Context, fileHash, timestamp string) error {
				_, err := c.ReportDetection(ctx, fileHash, timestamp)
				return err
			})

			result, err := importer.NewImporter(submitter, concurrency, opts.logger).Import(cmd.Context(), records)
			fmt.Fprintf(cmd.OutOrStdout(), "records: %d submitted: %d failed: %d\n",
				result.Total, result.Submitted, len(result.Failed))
			if err != nil {
				return err
			}
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d of %d records failed", len(result.Failed), result.Total)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&concurrency, "concurrency", 5, "Maximum concurrent submissions")
	cmd.Flags().Float64Var(&rps, "rate", 0, "Maximum requests per second (0 for unlimited)")
	cmd.Flags().IntVar(&burst, "burst", 1, "Rate limiter burst size")
	return cmd
}
