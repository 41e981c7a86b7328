package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nashen-netdev/server-ping-test/internal/config"
	"github.com/nashen-netdev/server-ping-test/internal/filter"
	"github.com/nashen-netdev/server-ping-test/internal/inventory"
	"github.com/nashen-netdev/server-ping-test/internal/logging"
	"github.com/nashen-netdev/server-ping-test/internal/probe"
	"github.com/nashen-netdev/server-ping-test/internal/report"
	"github.com/nashen-netdev/server-ping-test/internal/sessionlog"
	"github.com/nashen-netdev/server-ping-test/internal/stats"
	"github.com/nashen-netdev/server-ping-test/internal/target"
)

var (
	// Build-time variables (set via -ldflags)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"

	// Global configuration
	cfg *config.Config

	// CLI flags
	hosts          string
	hostFile       string
	inventoryFile  string
	filterExpr     string
	outputDir      string
	concurrency    string
	launchInterval time.Duration
	connectRetries int
	pollInterval   time.Duration
	drainWindow    time.Duration
	stopTimeout    time.Duration
	reportFormat   string
	quiet          bool
	dryRun         bool
	logLevel       string
	logFormat      string
	showProgress   bool
	showStats      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "batch-ping [flags] [targets.csv]",
	Short: "Probe network reachability from many hosts at once over SSH",
	Long: `batch-ping connects to a fleet of hosts over SSH, runs a continuous
ping from each host against its configured destination addresses, and watches
the live output for packet loss.

Every lost packet is recorded the moment the remote ping reports it. On
Ctrl-C each remote ping receives an interrupt so it prints its own statistics
block, which is captured before the session closes. Per-session logs and an
aggregated report are written under the output directory.

Examples:
  # Probe destinations listed in a CSV target file
  batch-ping servers.csv

  # Inline target specifications
  batch-ping --hosts "root@10.0.0.1=8.8.8.8+1.1.1.1,admin@10.0.0.2=8.8.4.4"

  # Targets from a YAML inventory, restricted by label
  batch-ping --inventory fleet.yaml --filter "label:core"

  # JSON report for automation
  batch-ping servers.csv --report json

  # Dry run to see the probe plan
  batch-ping servers.csv --dry-run`,
	Args: cobra.MaximumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration from all sources
		configManager := config.NewManager()
		loadedCfg, err := configManager.Load()
		if err != nil {
			return &SetupError{Message: fmt.Sprintf("failed to load configuration: %v", err)}
		}
		cfg = loadedCfg

		// A positional argument is the tabular CSV target file
		if len(args) == 1 {
			cfg.Targets = args[0]
		}

		// Override config with CLI flags if provided
		if err := overrideConfigWithFlags(cmd); err != nil {
			return &SetupError{Message: fmt.Sprintf("failed to apply CLI flags: %v", err)}
		}

		// Validate that we have at least one target source
		if cfg.Targets == "" && cfg.Hosts == "" && cfg.HostFile == "" && cfg.Inventory == "" && isStdinTTY() {
			return &SetupError{Message: "must specify targets via a CSV file, --hosts, --hostfile, --inventory, or stdin"}
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(os.Stdout)
	},
}

func init() {
	// Add version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("batch-ping %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
			fmt.Printf("Built: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// Add all CLI flags
	rootCmd.Flags().StringVar(&hosts, "hosts", "", "Comma-separated target specifications (user@host:port=dest1+dest2?key=path&label=name)")
	rootCmd.Flags().StringVar(&hostFile, "hostfile", "", "Path to file containing target specifications (one per line)")
	rootCmd.Flags().StringVar(&inventoryFile, "inventory", "", "Load targets from YAML inventory file")
	rootCmd.Flags().StringVar(&filterExpr, "filter", "", "Filter targets using expression (e.g., 'label:core host:10.20.*')")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "results", "Directory for session logs and reports")
	rootCmd.Flags().StringVar(&concurrency, "concurrency", "auto", "Maximum concurrent sessions ('auto' or number)")
	rootCmd.Flags().DurationVar(&launchInterval, "launch-interval", 300*time.Millisecond, "Stagger between session launches")
	rootCmd.Flags().IntVar(&connectRetries, "connect-retries", 3, "Connect attempts per target before giving up")
	rootCmd.Flags().DurationVar(&pollInterval, "poll-interval", 100*time.Millisecond, "Idle delay between channel polls")
	rootCmd.Flags().DurationVar(&drainWindow, "drain-window", 500*time.Millisecond, "Settle time after the stop interrupt")
	rootCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 3*time.Second, "Join window for sessions after stop")
	rootCmd.Flags().StringVar(&reportFormat, "report", "text", "Report format (text, json)")
	rootCmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress non-error output")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show probe plan without connecting")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (info, error)")
	rootCmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (json, text)")
	rootCmd.Flags().BoolVar(&showProgress, "progress", true, "Show launch and stop-drain progress")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "Show real-time statistics dashboard")
}

func overrideConfigWithFlags(cmd *cobra.Command) error {
	// Override configuration with CLI flags if they were explicitly set
	if cmd.Flags().Changed("hosts") {
		cfg.Hosts = hosts
	}
	if cmd.Flags().Changed("hostfile") {
		cfg.HostFile = hostFile
	}
	if cmd.Flags().Changed("inventory") {
		cfg.Inventory = inventoryFile
	}
	if cmd.Flags().Changed("filter") {
		cfg.Filter = filterExpr
	}
	if cmd.Flags().Changed("output-dir") {
		cfg.OutputDir = outputDir
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if cmd.Flags().Changed("launch-interval") {
		cfg.LaunchInterval = launchInterval
	}
	if cmd.Flags().Changed("connect-retries") {
		cfg.ConnectRetries = connectRetries
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.PollInterval = pollInterval
	}
	if cmd.Flags().Changed("drain-window") {
		cfg.DrainWindow = drainWindow
	}
	if cmd.Flags().Changed("stop-timeout") {
		cfg.StopTimeout = stopTimeout
	}
	if cmd.Flags().Changed("report") {
		cfg.Report = reportFormat
	}
	if cmd.Flags().Changed("quiet") {
		cfg.Quiet = quiet
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = dryRun
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.LogFormat = logFormat
	}
	if cmd.Flags().Changed("progress") {
		cfg.ShowProgress = showProgress
	}
	if cmd.Flags().Changed("stats") {
		cfg.ShowStats = showStats
	}

	// Validate the final configuration
	configManager := config.NewManager()
	if err := configManager.Validate(cfg); err != nil {
		return &SetupError{Message: fmt.Sprintf("configuration validation failed: %v", err)}
	}

	return nil
}

// parseAndFilterTargets parses targets from the configured source and applies
// the filter expression
func parseAndFilterTargets(logger *logging.Logger) ([]target.Target, error) {
	parser := target.NewParser()
	var targets []target.Target
	var err error
	var source string

	switch {
	case cfg.Targets != "":
		source = fmt.Sprintf("target file: %s", cfg.Targets)
		targets, err = parser.ParseCSVFile(cfg.Targets)
	case cfg.Inventory != "":
		source = fmt.Sprintf("inventory file: %s", cfg.Inventory)
		targets, err = inventory.Load(cfg.Inventory)
	case cfg.Hosts != "":
		source = "CLI hosts parameter"
		targets, err = parser.ParseHosts(cfg.Hosts)
	case cfg.HostFile != "":
		source = fmt.Sprintf("host file: %s", cfg.HostFile)
		targets, err = parser.ParseHostFile(cfg.HostFile)
	default:
		source = "stdin"
		targets, err = parser.ParseStdin()
	}
	if err != nil {
		logger.LogTargetParsingError(source, err)
		return nil, &SetupError{Message: fmt.Sprintf("failed to parse targets: %v", err)}
	}

	// Apply filters if specified
	if cfg.Filter != "" {
		filters, filterErr := filter.ParseFilterExpression(cfg.Filter)
		if filterErr != nil {
			return nil, &SetupError{Message: fmt.Sprintf("failed to parse filter expression: %v", filterErr)}
		}
		originalCount := len(targets)
		targets = filter.FilterTargets(targets, filters...)
		logger.Info("Applied filters", "original_count", originalCount, "filtered_count", len(targets), "filter", cfg.Filter)
	}

	if len(targets) == 0 {
		logger.LogTargetParsingError(source, fmt.Errorf("no valid targets found"))
		return nil, &SetupError{Message: "no valid targets found"}
	}

	// Log successful target parsing
	logger.LogTargetParsing(source, len(targets))

	return targets, nil
}

func runProbe(writer io.Writer) error {
	// Set up logging with proper error handling
	logger := logging.NewLoggerFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.Quiet)
	if logger == nil {
		return &SetupError{Message: "failed to initialize logger"}
	}

	// Log configuration loading
	logger.LogConfigLoad("CLI flags and configuration files")

	// Parse and filter targets
	targets, err := parseAndFilterTargets(logger)
	if err != nil {
		return err
	}

	// Handle dry-run mode
	if cfg.DryRun {
		return performDryRun(targets, writer)
	}

	// Calculate concurrency with validation
	concurrencyValue, err := calculateConcurrency(cfg.Concurrency, target.TotalStreams(targets))
	if err != nil {
		logger.LogConfigError("concurrency calculation", err)
		return &SetupError{Message: fmt.Sprintf("failed to calculate concurrency: %v", err)}
	}

	// Session logs live under <output-dir>/sessions/<timestamp>/
	sinks, err := sessionlog.NewFileFactory(cfg.OutputDir, time.Now())
	if err != nil {
		return &SetupError{Message: fmt.Sprintf("failed to prepare output directory: %v", err)}
	}

	// Set up context with proper cancellation handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up graceful shutdown handling for SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start a goroutine to handle shutdown signals
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal, stopping sessions", "signal", sig.String())
			cancel() // Cancel the context to trigger the stop protocol
		case <-ctx.Done():
			// Context already canceled, nothing to do
		}
	}()
	defer signal.Stop(sigChan)

	// Initialize the live statistics dashboard
	tracker := stats.NewTracker(target.TotalStreams(targets), writer, cfg.ShowStats)

	opts := probe.Options{
		Concurrency:    concurrencyValue,
		LaunchInterval: cfg.LaunchInterval,
		ConnectRetries: cfg.ConnectRetries,
		PollInterval:   cfg.PollInterval,
		DrainWindow:    cfg.DrainWindow,
		StopTimeout:    cfg.StopTimeout,
		ShowProgress:   cfg.ShowProgress && !cfg.Quiet,
	}
	orch := probe.NewOrchestrator(opts, logger, sinks, tracker)

	summary := orch.Run(ctx, targets)

	// A report is always written, even for interrupted or failed runs;
	// whatever was captured is what the operator came for.
	format := report.Format(cfg.Report)
	reportPath, reportErr := report.WriteFile(cfg.OutputDir, format, summary)
	if reportErr != nil {
		logger.Error("Failed to write report file", "error", reportErr.Error())
	} else {
		logger.Info("Report written", "path", reportPath)
	}

	// Render the summary to the console as well
	if !cfg.Quiet {
		if err := report.NewFormatter(format).Format(writer, summary); err != nil {
			logger.Error("Failed to render summary", "error", err.Error())
		}
	}

	if summary.ConnectionFailures > 0 {
		return &ExecutionError{
			Message: fmt.Sprintf("probe incomplete: %d/%d streams never connected",
				summary.ConnectionFailures, summary.TotalStreams),
		}
	}
	if reportErr != nil {
		return &ExecutionError{Message: fmt.Sprintf("failed to write report: %v", reportErr)}
	}

	return nil
}

func performDryRun(targets []target.Target, writer io.Writer) error {
	fmt.Fprintln(writer, "batch-ping Dry Run - Probe Plan")
	fmt.Fprintln(writer, "===============================")
	fmt.Fprintln(writer)

	streams := target.TotalStreams(targets)

	// Display configuration details
	fmt.Fprintln(writer, "Configuration:")
	fmt.Fprintf(writer, "  Targets: %d (%d ping streams)\n", len(targets), streams)
	fmt.Fprintf(writer, "  Concurrency Setting: %s\n", cfg.Concurrency)
	fmt.Fprintf(writer, "  Launch Interval: %v\n", cfg.LaunchInterval)
	fmt.Fprintf(writer, "  Connect Retries: %d\n", cfg.ConnectRetries)
	fmt.Fprintf(writer, "  Drain Window: %v\n", cfg.DrainWindow)
	fmt.Fprintf(writer, "  Stop Timeout: %v\n", cfg.StopTimeout)
	fmt.Fprintf(writer, "  Output Directory: %s\n", cfg.OutputDir)
	fmt.Fprintf(writer, "  Report Format: %s\n", cfg.Report)
	fmt.Fprintln(writer)

	// Calculate and display resolved concurrency
	concurrencyValue, err := calculateConcurrency(cfg.Concurrency, streams)
	if err != nil {
		return fmt.Errorf("failed to calculate concurrency: %w", err)
	}
	fmt.Fprintf(writer, "Probe Plan:\n")
	fmt.Fprintf(writer, "  Resolved Concurrency: %d concurrent sessions\n", concurrencyValue)
	fmt.Fprintf(writer, "  Launch Spread: %v\n", time.Duration(streams)*cfg.LaunchInterval)
	fmt.Fprintln(writer)

	// Display target details
	fmt.Fprintf(writer, "Target Details:\n")
	for i, t := range targets {
		fmt.Fprintf(writer, "  %d. %s\n", i+1, t.Original)
		fmt.Fprintf(writer, "     → User: %s, Host: %s, Port: %d\n", t.User, t.Host, t.Port)
		if t.Label != "" {
			fmt.Fprintf(writer, "     → Label: %s\n", t.Label)
		}
		for _, d := range t.Destinations {
			fmt.Fprintf(writer, "     → Ping: %s\n", d)
		}
		if t.IdentityFile != "" {
			fmt.Fprintf(writer, "     → Identity File: %s\n", t.IdentityFile)
		} else if t.Password != "" {
			fmt.Fprintf(writer, "     → Authentication: password\n")
		} else {
			fmt.Fprintf(writer, "     → Authentication: SSH agent or default keys\n")
		}
	}
	fmt.Fprintln(writer)

	// Display what would happen without actually connecting
	fmt.Fprintf(writer, "Note: This is a dry run. No SSH connections will be established.\n")
	fmt.Fprintf(writer, "To probe for real, remove the --dry-run flag.\n")

	return nil
}

func calculateConcurrency(concurrencyStr string, streamCount int) (int, error) {
	if concurrencyStr == "auto" {
		return probe.AutoConcurrency(streamCount), nil
	}

	concurrencyValue, err := strconv.Atoi(concurrencyStr)
	if err != nil {
		return 0, &SetupError{Message: fmt.Sprintf("invalid concurrency value '%s': must be 'auto' or a positive integer", concurrencyStr)}
	}

	if concurrencyValue <= 0 {
		return 0, &SetupError{Message: fmt.Sprintf("concurrency must be positive, got %d", concurrencyValue)}
	}

	return concurrencyValue, nil
}

func isStdinTTY() bool {
	// Check if stdin is a TTY (terminal)
	stat, err := os.Stdin.Stat()
	if err != nil {
		return true // Assume TTY on error
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// ExecutionError represents a probe run that could not complete (exit code 1)
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// SetupError represents an error during setup/configuration (exit code 2)
type SetupError struct {
	Message string
}

func (e *SetupError) Error() string {
	return e.Message
}

// getExitCode determines the appropriate exit code based on error type
// Returns:
//   - 0: Success (every stream connected and was probed)
//   - 1: Probe failure (one or more streams never connected)
//   - 2: Setup error (invalid arguments, configuration issues, etc.)
func getExitCode(err error) int {
	if err == nil {
		return 0 // Success
	}

	switch err.(type) {
	case *SetupError:
		return 2 // Setup/configuration errors
	case *ExecutionError:
		return 1 // Probe failures
	default:
		// Unknown errors are treated as setup errors for safety
		// This includes panics, unexpected errors, etc.
		return 2
	}
}
