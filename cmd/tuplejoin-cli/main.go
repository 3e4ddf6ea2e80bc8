package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/paveg/tuplejoin"
	"github.com/paveg/tuplejoin/internal/bucket"
	"github.com/paveg/tuplejoin/internal/config"
	"github.com/paveg/tuplejoin/internal/driver"
	"github.com/paveg/tuplejoin/internal/logging"
	"github.com/paveg/tuplejoin/internal/monitoring"
	"github.com/paveg/tuplejoin/internal/sink"
	"github.com/paveg/tuplejoin/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

type options struct {
	plan        string
	out         string
	configPath  string
	metricsAddr string
	logLevel    string
	partitions  int
	rows        int
	explain     bool
	demo        bool
	benchmark   bool
	version     bool
}

func customUsage() {
	fmt.Fprintf(os.Stderr, "tuplejoin CLI (version %s)\n\n", version.Version)
	fmt.Fprintf(os.Stderr, "Usage: tuplejoin-cli [options]\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	fmt.Fprintf(os.Stderr, "  --plan FILE\n\t\tRun the join or sort described by a YAML or JSON plan file\n")
	fmt.Fprintf(os.Stderr, "  --out FILE\n\t\tWrite output rows to FILE (.csv, .tsv, .json, .jsonl, .parquet) instead of stdout\n")
	fmt.Fprintf(os.Stderr, "  --explain\n\t\tPrint the compiled plan and exit\n")
	fmt.Fprintf(os.Stderr, "  --config FILE\n\t\tLoad engine configuration from a YAML or JSON file\n")
	fmt.Fprintf(os.Stderr, "  --partitions N\n\t\tOverride the number of reduce partitions\n")
	fmt.Fprintf(os.Stderr, "  --metrics-addr ADDR\n\t\tServe /metrics, /health and /progress on ADDR while running\n")
	fmt.Fprintf(os.Stderr, "  --log-level LEVEL\n\t\tdebug, info, warn or error\n")
	fmt.Fprintf(os.Stderr, "  --demo\n\t\tRun the items and members demo\n")
	fmt.Fprintf(os.Stderr, "  --benchmark\n\t\tRun benchmark scenarios\n")
	fmt.Fprintf(os.Stderr, "  --rows N\n\t\tRows to generate (default: 1000 for demo, 200000 for benchmark)\n")
	fmt.Fprintf(os.Stderr, "  -v, --version\n\t\tPrint version information and exit\n")
	fmt.Fprintf(os.Stderr, "  -h, --help\n\t\tShow this help message and exit\n")
}

func main() {
	var opts options
	flag.BoolVar(&opts.version, "v", false, "Print version and exit")
	flag.BoolVar(&opts.version, "version", false, "Print version and exit")
	flag.StringVar(&opts.plan, "plan", "", "Plan file")
	flag.StringVar(&opts.out, "out", "", "Output file")
	flag.BoolVar(&opts.explain, "explain", false, "Print the compiled plan and exit")
	flag.StringVar(&opts.configPath, "config", "", "Configuration file")
	flag.IntVar(&opts.partitions, "partitions", 0, "Reduce partitions")
	flag.StringVar(&opts.metricsAddr, "metrics-addr", "", "Monitoring server address")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level")
	flag.BoolVar(&opts.demo, "demo", false, "Run the demo")
	flag.BoolVar(&opts.benchmark, "benchmark", false, "Run benchmark scenarios")
	flag.IntVar(&opts.rows, "rows", 0, "Rows to generate")

	//nolint:reassign // Standard Go pattern for customizing flag usage message
	flag.Usage = customUsage
	flag.Parse()

	if opts.version {
		fmt.Print(version.Info().String())
		return
	}
	if opts.plan == "" && !opts.demo && !opts.benchmark {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "error: ")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	stopCleanup := bucket.InstallExitHandler(logger)
	defer stopCleanup()

	switch {
	case opts.demo:
		return runDemo(ctx, cfg, logger, opts.rows, stdout)
	case opts.benchmark:
		return runBenchmark(ctx, cfg, opts.rows, stdout)
	}

	pf, err := LoadPlanFile(opts.plan)
	if err != nil {
		return err
	}

	runner := &driver.Runner{
		Config:   cfg,
		Logger:   logger,
		Counters: &monitoring.Counters{},
	}
	if opts.metricsAddr != "" {
		stop := serveMetrics(opts.metricsAddr, runner, cfg, logger)
		defer stop()
	}

	out := sink.NewCollector()
	var res *driver.Result
	var columns []string
	if pf.Sorting() {
		if opts.explain {
			fmt.Fprintf(stdout, "Sort: %v\n", pf.Sort)
			return nil
		}
		if len(pf.Datasets) != 1 {
			return fmt.Errorf("sort needs exactly one dataset, got %d", len(pf.Datasets))
		}
		cols, err := pf.SortColumns()
		if err != nil {
			return err
		}
		datasets, err := pf.LoadDatasets()
		if err != nil {
			return err
		}
		if res, err = runner.Sort(ctx, datasets[0].Rows, cols, out); err != nil {
			return err
		}
	} else {
		plan, err := pf.Compile()
		if err != nil {
			return err
		}
		if opts.explain {
			qp := plan.Explain().Build()
			fmt.Fprint(stdout, qp.String())
			return nil
		}
		datasets, err := pf.LoadDatasets()
		if err != nil {
			return err
		}
		runner.Plan = plan
		runner.Datasets = datasets
		if res, err = runner.Run(ctx, out); err != nil {
			return err
		}
		columns = plan.Output()
	}

	if opts.out != "" {
		if err := tuplejoin.WriteFile(opts.out, out.Rows()); err != nil {
			return err
		}
	} else {
		printTable(stdout, columns, out.Rows())
	}
	printSummary(os.Stderr, res)
	return nil
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.NewConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(opts.configPath); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()

	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.partitions > 0 {
		cfg.Partitions = opts.partitions
	}
	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
		cfg.MetricsCollection = true
	}

	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

// serveMetrics wires the runner to a private registry and serves it until
// the returned function is called.
func serveMetrics(addr string, runner *driver.Runner, cfg config.Config, logger logrus.FieldLogger) func() {
	reg := prometheus.NewRegistry()
	runner.Registerer = reg
	runner.Collector = monitoring.NewMetricsCollector(cfg.MetricsCollection)

	srv := monitoring.NewMonitoringServer(addr, runner.Counters, runner.Collector, reg)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("monitoring server failed")
		}
	}()
	logger.WithField("addr", addr).Info("monitoring server started")

	return func() {
		if err := srv.Stop(); err != nil {
			logger.WithError(err).Warn("stopping monitoring server")
		}
	}
}
