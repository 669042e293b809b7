package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/y0ug/detreg/pkg/client"
)

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	logLevel  string
	logFormat string
	server    string
	token     string
	caller    string
	timeout   time.Duration

	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{logger: logrus.New()}

	rootCmd := &cobra.Command{
		Use:   "detreg",
		Short: "Ransomware detection registry",
		Long: `detreg keeps a registry of ransomware detections keyed by file hash.

The owner trusts reporters, trusted reporters submit detections and the
owner confirms them. Anyone may read detections and statistics.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error) (env LOG_LEVEL)")
	flags.StringVar(&opts.logFormat, "log-format", "json", "Log format (json, text)")
	flags.StringVar(&opts.server, "server", "http://localhost:8080", "Registry server URL (env DETREG_SERVER)")
	flags.StringVar(&opts.token, "token", "", "Bearer access token (env DETREG_TOKEN)")
	flags.StringVar(&opts.caller, "caller", "", "Caller identity when the server runs with AUTH_TYPE none (env DETREG_CALLER)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newTokenCmd(opts))
	rootCmd.AddCommand(newReportCmd(opts))
	rootCmd.AddCommand(newConfirmCmd(opts))
	rootCmd.AddCommand(newGetCmd(opts))
	rootCmd.AddCommand(newReporterCmd(opts))
	rootCmd.AddCommand(newStatsCmd(opts))
	rootCmd.AddCommand(newWhoAmICmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *globalOptions) init(cmd *cobra.Command) error {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		o.logger.Debug("No .env file found. Proceeding with environment variables.")
	}

	flags := cmd.Flags()
	envDefault(flags.Changed("log-level"), &o.logLevel, "LOG_LEVEL")
	envDefault(flags.Changed("server"), &o.server, "DETREG_SERVER")
	envDefault(flags.Changed("token"), &o.token, "DETREG_TOKEN")
	envDefault(flags.Changed("caller"), &o.caller, "DETREG_CALLER")

	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %s", o.logLevel)
	}
	o.logger.SetLevel(level)
	o.logger.SetOutput(cmd.ErrOrStderr())

	switch o.logFormat {
	case "json":
		o.logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		o.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format: %s", o.logFormat)
	}
	return nil
}

// envDefault overrides *value with the environment unless the flag was set.
func envDefault(changed bool, value *string, key string) {
	if changed {
		return
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*value = v
	}
}

func (o *globalOptions) newClient(extra ...client.Option) (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(o.timeout)}
	if o.token != "" {
		opts = append(opts, client.WithToken(o.token))
	}
	if o.caller != "" {
		opts = append(opts, client.WithCaller(o.caller))
	}
	return client.New(o.server, append(opts, extra...)...)
}
