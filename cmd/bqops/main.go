package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"bqops/internal/bigquery"
	"bqops/internal/cache"
	"bqops/internal/config"
	"bqops/internal/logging"

	"cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

var (
	version = "dev"
	commit  = "none"
)

const appName = "bqops"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string) int {
	a := &app{}
	defer func() { _ = a.close() }()

	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %s\n", errorText(err))
		return 1
	}
	return 0
}

// app is the state shared by every command once flags and config are resolved.
type app struct {
	cfg *config.Config
	log *zap.Logger

	client  *bigquery.Client
	gcs     *storage.Client
	history *cache.Cache

	configPath string
	envFile    string
	historyDir string
	output     string
	flags      config.Config
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Manage BigQuery datasets and tables and run load jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultPath(), "Path to the config file")
	pf.StringVar(&a.envFile, "env-file", ".env", "Path to a .env file to load")
	pf.StringVar(&a.flags.Project, "project", "", "BigQuery project ID (if not provided, will use default from credentials)")
	pf.StringVar(&a.flags.CredentialsFile, "credentials", "", "Path to service account credentials file")
	pf.StringVar(&a.flags.Emulator, "emulator", "", "BigQuery emulator endpoint (for testing)")
	pf.StringVar(&a.flags.Load.Location, "location", "", "Location load jobs run in")
	pf.StringVar(&a.flags.Log.Level, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.Log.Format, "log-format", "", "Log format (console, json)")
	pf.StringVar(&a.historyDir, "history-dir", "", "Directory holding the job history (default: OS cache dir)")
	pf.StringVarP(&a.output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newDatasetCmd(a),
		newTableCmd(a),
		newLoadCmd(a),
		newLoadManyCmd(a),
		newJobCmd(a),
		newQueryCmd(a),
		newDemoCmd(a),
	)

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command) error {
	if a.output != "table" && a.output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", a.output)
	}
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	// Precedence: flag > env > file > default.
	flags := cmd.Flags()
	if flags.Changed("project") {
		cfg.Project = a.flags.Project
	}
	if flags.Changed("credentials") {
		cfg.CredentialsFile = a.flags.CredentialsFile
	}
	if flags.Changed("emulator") {
		cfg.Emulator = a.flags.Emulator
	}
	if flags.Changed("location") {
		cfg.Load.Location = a.flags.Load.Location
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.flags.Log.Level
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.flags.Log.Format
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) close() error {
	var err error
	if a.client != nil {
		err = multierr.Append(err, a.client.Close())
		a.client = nil
	}
	if a.gcs != nil {
		err = multierr.Append(err, a.gcs.Close())
		a.gcs = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func (a *app) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if a.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(a.cfg.CredentialsFile))
	}
	if a.cfg.Emulator != "" {
		opts = append(opts, option.WithEndpoint(a.cfg.Emulator))
		opts = append(opts, option.WithoutAuthentication())
	}
	return opts
}

// bigQuery returns the client, creating it on first use.
func (a *app) bigQuery(ctx context.Context) (*bigquery.Client, error) {
	if a.client != nil {
		return a.client, nil
	}

	projID, err := a.cfg.ResolveProject()
	if err != nil {
		return nil, err
	}

	client, err := bigquery.NewClient(ctx, projID, a.log, a.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	a.client = client
	return client, nil
}

// jobHistory returns the job history store, or nil if it cannot be opened.
// A missing history only disables re-attaching to jobs.
func (a *app) jobHistory() *cache.Cache {
	if a.history != nil {
		return a.history
	}

	var (
		c   *cache.Cache
		err error
	)
	if a.historyDir != "" {
		c, err = cache.NewAt(a.historyDir)
	} else {
		c, err = cache.New()
	}
	if err != nil {
		a.log.Warn("job history unavailable", zap.Error(err))
		return nil
	}
	a.history = c
	return c
}

// submitter returns what loads and re-attached waits go through. With a
// staging bucket set, files go through Cloud Storage first and the staging
// object is removed once its job is terminal.
func (a *app) submitter(ctx context.Context) (bigquery.Submitter, error) {
	client, err := a.bigQuery(ctx)
	if err != nil {
		return nil, err
	}
	if a.cfg.Load.StagingBucket == "" {
		return client, nil
	}

	if a.gcs == nil {
		var opts []option.ClientOption
		if a.cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(a.cfg.CredentialsFile))
		}
		gcs, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.gcs = gcs
	}
	return bigquery.NewStagedSubmitter(client, a.gcs, a.cfg.Load.StagingBucket, a.cfg.Load.StagingPrefix), nil
}

// loader builds a Loader configured from the load section of the config.
func (a *app) loader(ctx context.Context) (*bigquery.Loader, error) {
	sub, err := a.submitter(ctx)
	if err != nil {
		return nil, err
	}

	l := bigquery.NewLoader(sub, a.log)
	l.Location = a.cfg.Load.Location
	l.Timeout = a.cfg.Load.Timeout
	if h := a.jobHistory(); h != nil {
		l.Recorder = h
	}
	return l, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (commit: %s)\n", appName, version, commit)
			return nil
		},
	}
}
