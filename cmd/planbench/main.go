// Package main provides the planbench command, which measures how a MongoDB
// query plan changes when a candidate index is added.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mouradhm/mongo-planbench/cmd/planbench/config"
	"github.com/mouradhm/mongo-planbench/pkg/activities"
	planerrors "github.com/mouradhm/mongo-planbench/pkg/errors"
	"github.com/mouradhm/mongo-planbench/pkg/metrics"
	"github.com/mouradhm/mongo-planbench/pkg/specfile"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "planbench",
	Short: "Compare MongoDB query plans before and after an index",
	Long: `planbench runs a query under explain("executionStats"), creates a
candidate index, runs the query again and reports how the plan and the
number of keys and documents examined changed. The index is dropped
afterwards unless --keep-index is given.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare one query before and after creating one index",
	Long: `Compare one query before and after creating one index.

Example:
  planbench compare --query students_by_major.json --index major_name_gpa.json
  planbench compare -q q.json -i i.json --keep-index --output json`,
	RunE: runCompare,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every comparison listed in a batch file",
	Long: `Run every comparison listed in a batch file. Comparisons on different
collections run in parallel; comparisons on the same collection run one
after another.

Example:
  planbench batch --file worksheet.json --workers 4`,
	RunE: runBatch,
}

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List the indexes defined on a collection",
	RunE:  runIndexes,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the sample school dataset (students, courses, enrollments)",
	Long: `Load the sample school dataset (students, courses, enrollments).

Documents have fixed _id values, so seeding a database that already holds
them reports duplicate key errors for those documents. Use --drop to reload
the collections from scratch.`,
	RunE: runSeed,
}

func init() {
	defaults := config.DefaultConfig()

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "config file path")
	pf.String("uri", defaults.URI, "MongoDB connection URI")
	pf.String("database", defaults.Database, "database holding the collections to measure")
	pf.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	pf.String("log-format", defaults.LogFormat, "log format (console, json)")
	pf.Duration("connect-timeout", defaults.ConnectTimeout, "connection and server selection timeout")
	pf.Duration("query-timeout", defaults.QueryTimeout, "timeout for one comparison")
	pf.Duration("cleanup-timeout", defaults.CleanupTimeout, "timeout for dropping a measured index")
	pf.Int("workers", defaults.Workers, "parallel comparisons in batch mode")
	pf.String("pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	pf.String("job-name", defaults.Metrics.JobName, "Pushgateway job name")

	// Bind flags to viper
	if err := viper.BindPFlags(pf); err != nil {
		panic(fmt.Errorf("failed to bind flags: %w", err))
	}
	viper.SetEnvPrefix("PLANBENCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	compareCmd.Flags().StringP("query", "q", "", "query spec file (Extended JSON)")
	compareCmd.Flags().StringP("index", "i", "", "index spec file (Extended JSON)")
	compareCmd.Flags().Bool("keep-index", false, "keep the created index after measuring")
	compareCmd.Flags().StringP("output", "o", "text", "output format (text, json)")
	_ = compareCmd.MarkFlagRequired("query")
	_ = compareCmd.MarkFlagRequired("index")

	batchCmd.Flags().StringP("file", "f", "", "batch file (Extended JSON)")
	batchCmd.Flags().StringP("output", "o", "text", "output format (text, json)")
	_ = batchCmd.MarkFlagRequired("file")

	seedCmd.Flags().Bool("drop", false, "drop the sample collections first (needed to re-seed)")
	seedCmd.Flags().Int("extra-students", 0, "number of generated students to add")
	seedCmd.Flags().Int("batch-size", 100, "documents per insert")

	indexesCmd.Flags().String("collection", "", "collection to inspect")
	_ = indexesCmd.MarkFlagRequired("collection")

	rootCmd.AddCommand(compareCmd, batchCmd, indexesCmd, seedCmd)

	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "planbench\n")
			fmt.Fprintf(cmd.OutOrStdout(), "Version:    %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit:     %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a failure kind to a process exit status
func exitCode(err error) int {
	switch planerrors.KindOf(err, "") {
	case planerrors.KindInvalidSpec:
		return 2
	case planerrors.KindConnection:
		return 3
	case planerrors.KindQuery:
		return 4
	case planerrors.KindIndexCreation:
		return 5
	case planerrors.KindCleanup:
		return 6
	case planerrors.KindCanceled:
		return 130
	default:
		return 1
	}
}

func loadConfig() (*config.Config, error) {
	// Load config file if specified
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &config.Config{
		URI:            viper.GetString("uri"),
		Database:       viper.GetString("database"),
		LogLevel:       viper.GetString("log-level"),
		LogFormat:      viper.GetString("log-format"),
		ConnectTimeout: viper.GetDuration("connect-timeout"),
		QueryTimeout:   viper.GetDuration("query-timeout"),
		CleanupTimeout: viper.GetDuration("cleanup-timeout"),
		Workers:        viper.GetInt("workers"),
		Metrics: config.MetricsConfig{
			Pushgateway: viper.GetString("pushgateway"),
			JobName:     viper.GetString("job-name"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setupLogging(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	return logger.Level(logLevel).With().
		Timestamp().
		Str("service", "planbench").
		Logger()
}

// session bundles what every database command needs
type session struct {
	cfg       *config.Config
	logger    zerolog.Logger
	driver    *activities.MongoDriver
	collector *metrics.PrometheusCollector
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := setupLogging(cfg.LogLevel, cfg.LogFormat)

	logger.Info().
		Str("version", version).
		Str("database", cfg.Database).
		Msg("Connecting to MongoDB")

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	driver, err := activities.ConnectMongoDriver(connectCtx, cfg.ConnectionParams())
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:       cfg,
		logger:    logger,
		driver:    driver,
		collector: metrics.NewPrometheusCollector(),
	}, nil
}

func (s *session) comparator() *activities.PlanComparator {
	return activities.NewPlanComparator(s.driver,
		activities.WithLogger(s.logger),
		activities.WithMetrics(s.collector),
		activities.WithCleanupTimeout(s.cfg.CleanupTimeout),
	)
}

// close pushes metrics if configured and disconnects
func (s *session) close() {
	if s.cfg.Metrics.Pushgateway != "" {
		if err := s.collector.Push(s.cfg.Metrics.Pushgateway, s.cfg.Metrics.JobName); err != nil {
			s.logger.Error().Err(err).Msg("Failed to push metrics")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.driver.Close(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error disconnecting from MongoDB")
	}
}

func runCompare(cmd *cobra.Command, args []string) error {
	queryPath, _ := cmd.Flags().GetString("query")
	indexPath, _ := cmd.Flags().GetString("index")
	keepIndex, _ := cmd.Flags().GetBool("keep-index")
	output, _ := cmd.Flags().GetString("output")

	query, err := specfile.LoadQuery(queryPath)
	if err != nil {
		return planerrors.New(planerrors.KindInvalidSpec, err)
	}
	index, err := specfile.LoadIndex(indexPath)
	if err != nil {
		return planerrors.New(planerrors.KindInvalidSpec, err)
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.QueryTimeout)
	defer cancel()

	report, err := s.comparator().Compare(ctx, query, index, keepIndex)
	if report != nil {
		if perr := printReport(cmd.OutOrStdout(), report, output); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if report.CleanupError != nil {
		return report.CleanupError
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	output, _ := cmd.Flags().GetString("output")

	requests, err := specfile.LoadBatch(path)
	if err != nil {
		return planerrors.New(planerrors.KindInvalidSpec, err)
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	result := activities.RunBatch(cmd.Context(), s.comparator(), requests, activities.BatchOptions{
		Workers: s.cfg.Workers,
		Timeout: s.cfg.QueryTimeout,
	}, s.logger)
	if err := printBatch(cmd.OutOrStdout(), result, output); err != nil {
		return err
	}

	if !result.OverallSuccess {
		return fmt.Errorf("%d of %d comparisons did not complete cleanly", countFailed(result.Results), len(result.Results))
	}
	return nil
}

func runIndexes(cmd *cobra.Command, args []string) error {
	collection, _ := cmd.Flags().GetString("collection")

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	indexes, err := s.driver.ListIndexes(cmd.Context(), collection)
	if err != nil {
		return err
	}
	return printIndexes(cmd.OutOrStdout(), indexes)
}

func runSeed(cmd *cobra.Command, args []string) error {
	drop, _ := cmd.Flags().GetBool("drop")
	extra, _ := cmd.Flags().GetInt("extra-students")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	counts, err := activities.SeedSampleData(cmd.Context(), s.driver.Database(), activities.SeedParams{
		Drop:          drop,
		ExtraStudents: extra,
		BatchSize:     batchSize,
	}, s.logger)
	for _, name := range []string{"students", "courses", "enrollments"} {
		if n, ok := counts[name]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d documents\n", name, n)
		}
	}
	return err
}
