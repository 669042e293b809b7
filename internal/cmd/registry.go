package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/y0ug/detreg/internal/importer"
	"github.com/y0ug/detreg/pkg/auth"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for an identity",
		Long: `Token signs an access token with JWT_SECRET for the given subject.
The subject becomes the caller identity on a server running with AUTH_TYPE jwt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			authConfig, err := auth.NewConfig()
			if err != nil {
				return fmt.Errorf("failed to initialize auth config: %w", err)
			}
			token, err := auth.IssueToken(authConfig, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "Identity the token is issued for")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to ACCESS_TOKEN_EXPIRATION)")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func newReportCmd(opts *globalOptions) *cobra.Command {
	var timestamp string

	cmd := &cobra.Command{
		Use:   "report FILE_HASH",
		Short: "Report a detection as a trusted reporter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			if timestamp == "" {
				timestamp = time.Now().Format(importer.TimestampLayout)
			}
			d, err := c.ReportDetection(cmd.Context(), args[0], timestamp)
			if err != nil {
				return fmt.Errorf("failed to report detection: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "Detection time (defaults to now, "+importer.TimestampLayout+")")
	return cmd
}

func newConfirmCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm FILE_HASH",
		Short: "Confirm a reported detection as the owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			d, err := c.ConfirmDetection(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to confirm detection: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
}

func newGetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get FILE_HASH",
		Short: "Show the detection recorded for a file hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			d, err := c.GetDetection(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get detection: %w", err)
			}
			if d.IsZero() {
				opts.logger.WithField("file_hash", args[0]).Info("No detection recorded")
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
}

func newReporterCmd(opts *globalOptions) *cobra.Command {
	reporterCmd := &cobra.Command{
		Use:   "reporter",
		Short: "Manage trusted reporters",
	}

	reporterCmd.AddCommand(&cobra.Command{
		Use:   "add IDENTITY",
		Short: "Trust a reporter as the owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			if err := c.AddTrustedReporter(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to add reporter: %w", err)
			}
			opts.logger.WithField("reporter", args[0]).Info("Trusted reporter added")
			return nil
		},
	})

	reporterCmd.AddCommand(&cobra.Command{
		Use:   "check IDENTITY",
		Short: "Show whether an identity is a trusted reporter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			trusted, err := c.IsTrustedReporter(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to check reporter: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), trusted)
			return nil
		},
	})

	reporterCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trusted reporters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			reporters, err := c.ListTrustedReporters(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list reporters: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), reporters)
		},
	})

	return reporterCmd
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get statistics: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newWhoAmICmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the caller identity seen by the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.newClient()
			if err != nil {
				return err
			}
			me, err := c.WhoAmI(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get caller: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), me)
		},
	}
}
