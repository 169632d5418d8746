package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"maskfeat/internal/models"
	"maskfeat/internal/telemetry"
	"maskfeat/pkg/config"
	"maskfeat/pkg/decoder"
	"maskfeat/pkg/features"
	"maskfeat/pkg/pipeline"
	"maskfeat/pkg/sink"
	"maskfeat/pkg/validation"
	"maskfeat/pkg/visualization"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [container...]",
	Short: "Extract features from image containers",
	Long: `Decode every container, validate each record's masks and write one feature
vector per accepted record to the output.

Containers come from the arguments, the input.files setting and --file-list,
in that order. The output is a .csv or .tsv file or a postgres:// connection
string. Settings are read from --config, then overridden by MASKFEAT_*
environment variables and flags.`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.String("file-list", "", "File listing one container path per line")
	f.StringSlice("mask", nil, "Mask containers, one per input container (paired layout)")
	f.String("layout", "", "Plane layout: interleaved or paired")
	f.Int("image-limit", 0, "Maximum records per container, -1 for all")
	f.IntSlice("channels", nil, "Channels to read, in output order")
	f.Int("workers", 0, "Size of the feature worker pool")
	f.Int("queue-capacity", 0, "Tasks waiting for a worker before decoding blocks")
	f.Duration("shutdown-grace", 0, "Time in-flight tasks get to finish after an interrupt")
	f.StringSlice("features", nil, "Feature or group names to compute")
	f.Bool("all-features", false, "Compute every registered feature")
	f.StringP("output", "o", "", "Output .csv/.tsv file or postgres:// connection string")
	f.String("delimiter", "", "Delimiter overriding the one chosen from the output extension")
	f.String("table", "", "Destination table for database output")
	f.Int("batch-size", 0, "Rows per batch for database output")
	f.Bool("save-rejected", false, "Save renderings of rejected records")
	f.String("rejected-dir", "", "Directory for renderings of rejected records")
	f.Bool("metrics", false, "Serve Prometheus metrics while running")
	f.String("metrics-address", "", "Address of the metrics endpoint")

	for key, name := range map[string]string{
		"input.fileList":                 "file-list",
		"input.maskFiles":                "mask",
		"input.layout":                   "layout",
		"input.imageLimit":               "image-limit",
		"input.channels":                 "channels",
		"processing.workers":             "workers",
		"processing.queueCapacity":       "queue-capacity",
		"processing.shutdownGrace":       "shutdown-grace",
		"features.names":                 "features",
		"features.all":                   "all-features",
		"output.path":                    "output",
		"output.delimiter":               "delimiter",
		"output.table":                   "table",
		"output.batchSize":               "batch-size",
		"output.saveIntermediaryResults": "save-rejected",
		"output.intermediaryDir":         "rejected-dir",
		"metrics.enabled":                "metrics",
		"metrics.address":                "metrics-address",
	} {
		mustBind(viper.BindPFlag(key, f.Lookup(name)))
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetString("config"), args)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := execute(ctx, cfg, logger)
	if summary != nil {
		if printErr := printSummary(cmd.OutOrStdout(), summary); printErr != nil {
			logger.Warn("Failed to print summary", zap.Error(printErr))
		}
	}
	if errors.Is(err, context.Canceled) && summary != nil {
		return fmt.Errorf("interrupted after writing %d feature vectors", summary.Written)
	}
	return err
}

// loadConfig reads the configuration file, applies environment and flag
// overrides and collects the input containers
func loadConfig(path string, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyOverrides(cfg)

	cfg.Input.Files = append(cfg.Input.Files, args...)
	if list := viper.GetString("input.fileList"); list != "" {
		files, err := readFileList(list)
		if err != nil {
			return nil, err
		}
		cfg.Input.Files = append(cfg.Input.Files, files...)
	}
	if len(cfg.Input.Files) == 0 {
		return nil, models.NewConfigurationError("input.files", "no input containers given")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverrides copies every setting given by a flag or environment
// variable over the file configuration
func applyOverrides(cfg *config.Config) {
	set := func(key string, apply func()) {
		if viper.IsSet(key) {
			apply()
		}
	}

	set("input.maskFiles", func() { cfg.Input.MaskFiles = viper.GetStringSlice("input.maskFiles") })
	set("input.layout", func() { cfg.Input.Layout = viper.GetString("input.layout") })
	set("input.imageLimit", func() { cfg.Input.ImageLimit = viper.GetInt("input.imageLimit") })
	set("input.channels", func() { cfg.Input.Channels = viper.GetIntSlice("input.channels") })
	set("processing.workers", func() { cfg.Processing.Workers = viper.GetInt("processing.workers") })
	set("processing.queueCapacity", func() { cfg.Processing.QueueCapacity = viper.GetInt("processing.queueCapacity") })
	set("processing.shutdownGrace", func() { cfg.Processing.ShutdownGrace = viper.GetDuration("processing.shutdownGrace") })
	set("processing.progressEvery", func() { cfg.Processing.ProgressEvery = viper.GetInt("processing.progressEvery") })
	set("features.names", func() { cfg.Features.Names = viper.GetStringSlice("features.names") })
	set("features.all", func() { cfg.Features.All = viper.GetBool("features.all") })
	set("output.path", func() { cfg.Output.Path = viper.GetString("output.path") })
	set("output.delimiter", func() { cfg.Output.Delimiter = viper.GetString("output.delimiter") })
	set("output.table", func() { cfg.Output.Table = viper.GetString("output.table") })
	set("output.batchSize", func() { cfg.Output.BatchSize = viper.GetInt("output.batchSize") })
	set("output.saveIntermediaryResults", func() {
		cfg.Output.SaveIntermediaryResults = viper.GetBool("output.saveIntermediaryResults")
	})
	set("output.intermediaryDir", func() { cfg.Output.IntermediaryDir = viper.GetString("output.intermediaryDir") })
	set("logging.level", func() { cfg.Logging.Level = viper.GetString("logging.level") })
	set("logging.development", func() { cfg.Logging.Development = viper.GetBool("logging.development") })
	set("metrics.enabled", func() { cfg.Metrics.Enabled = viper.GetBool("metrics.enabled") })
	set("metrics.address", func() { cfg.Metrics.Address = viper.GetString("metrics.address") })
}

// readFileList returns the paths listed in path, skipping blank lines and
// lines starting with #
func readFileList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file list: %w", err)
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		files = append(files, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file list: %w", err)
	}
	return files, nil
}

// newLogger builds the process logger; output goes to stderr so stdout
// carries only command output
func newLogger(level string, development bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, models.NewConfigurationError("logging.level", "%v", err)
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// execute wires the pipeline components from cfg and runs them
func execute(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline.Summary, error) {
	// Step 1: metrics
	provider, err := telemetry.NewProvider(telemetry.Config{
		Enabled: cfg.Metrics.Enabled,
		Address: cfg.Metrics.Address,
	}, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down metrics", zap.Error(err))
		}
	}()

	if cfg.Metrics.Enabled {
		serveCtx, cancelServe := context.WithCancel(context.Background())
		defer cancelServe()
		go func() {
			if err := telemetry.Serve(serveCtx, cfg.Metrics.Address, telemetry.NewRouter(provider.Handler), logger); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	metrics, err := telemetry.NewPipelineMetrics(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	// Step 2: decoding and feature computation
	dec, err := decoder.New(cfg.Input.Files, decoder.Options{
		ImageLimit: cfg.Input.ImageLimit,
		Channels:   cfg.Input.Channels,
		Layout:     decoder.Layout(cfg.Input.Layout),
		MaskPaths:  cfg.Input.MaskFiles,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = dec.Close() }()

	engine, err := features.NewEngine(features.Request{
		Names:    cfg.Features.Names,
		All:      cfg.Features.All,
		Channels: cfg.Input.Channels,
		Params:   cfg.FeatureParams(),
	}, logger)
	if err != nil {
		return nil, err
	}

	// Step 3: output
	var delimiter rune
	if cfg.Output.Delimiter != "" {
		delimiter = []rune(cfg.Output.Delimiter)[0]
	}
	out, err := sink.Open(ctx, cfg.Output.Path, sink.Options{
		Table:     cfg.Output.Table,
		BatchSize: cfg.Output.BatchSize,
		Delimiter: delimiter,
		LogEvery:  cfg.Processing.ProgressEvery,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}

	// Step 4: run
	opts := []pipeline.Option{pipeline.WithLogger(logger), pipeline.WithMetrics(metrics)}
	if cfg.Output.SaveIntermediaryResults {
		opts = append(opts, pipeline.WithRejectionHook(
			visualization.RejectionWriter(cfg.Output.IntermediaryDir, visualization.DefaultScale, logger)))
	}

	coordinator, err := pipeline.NewCoordinator(pipeline.Params{
		Workers:       cfg.Processing.Workers,
		QueueCapacity: cfg.Processing.QueueCapacity,
		ShutdownGrace: cfg.Processing.ShutdownGrace,
		ProgressEvery: cfg.Processing.ProgressEvery,
	}, dec, validation.NewValidator(logger), engine, out, opts...)
	if err != nil {
		_ = out.Close()
		return nil, err
	}

	logger.Info("Extracting features",
		zap.Int("containers", len(cfg.Input.Files)),
		zap.Strings("features", engine.Names()),
		zap.Ints("channels", cfg.Input.Channels),
		zap.String("output", cfg.Output.Path))

	return coordinator.Run(ctx)
}

// printSummary renders the accounting of a run as a table
func printSummary(w io.Writer, s *pipeline.Summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")

	rows := [][]string{
		{"Run", s.RunID},
		{"Decoded records", strconv.Itoa(s.Decoded)},
		{"Rejected records", strconv.Itoa(s.Rejected)},
		{"Decode errors", strconv.Itoa(s.DecodeErrors)},
		{"Submitted tasks", strconv.FormatUint(s.Submitted, 10)},
		{"Written vectors", strconv.FormatUint(s.Written, 10)},
		{"Computation errors", strconv.Itoa(s.ComputationErrors)},
		{"Backpressure waits", strconv.Itoa(s.BackpressureWaits)},
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, ref := range s.RejectedRecords {
		if _, err := fmt.Fprintf(w, "rejected: %s\n", ref); err != nil {
			return err
		}
	}
	return nil
}
