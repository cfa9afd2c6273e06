// Package main is the entry point for the API gateway.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/avagate/internal/config"
	"github.com/vyrodovalexey/avagate/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	watchConfig bool
	showVersion bool
}

func main() {
	flags := parseFlags(os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	cfg, err := loadAndValidateConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := initLogger(logConfigFor(flags, cfg))
	defer func() { _ = logger.Sync() }()

	logger.Info("starting avagate",
		observability.String("version", version),
		observability.String("commit", gitCommit),
		observability.String("config", flags.configPath),
		observability.String("name", cfg.Metadata.Name),
		observability.Int("routes", len(cfg.Spec.Routes)),
	)

	app, err := initApplication(cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return
	}

	runGateway(app, flags, logger)
}

// parseFlags parses command line flags. Environment variables provide
// the defaults.
func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("avagate", flag.ExitOnError)
	configPath := fs.String("config", envString("config_path", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := fs.String("log-level", envString("log_level", ""),
		"Log level (debug, info, warn, error); overrides the configuration file")
	logFormat := fs.String("log-format", envString("log_format", ""),
		"Log format (json, console); overrides the configuration file")
	watchConfig := fs.Bool("watch", envBool("watch_config", true),
		"Reload routes and keys when the configuration file changes")
	showVersion := fs.Bool("version", false, "Show version information")
	_ = fs.Parse(args)

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		watchConfig: *watchConfig,
		showVersion: *showVersion,
	}
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("avagate version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// loadAndValidateConfig loads and validates the configuration file.
func loadAndValidateConfig(path string) (*config.GatewayConfig, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// logConfigFor merges the logging section of cfg with command line
// overrides.
func logConfigFor(flags cliFlags, cfg *config.GatewayConfig) observability.LogConfig {
	lc := observability.DefaultLogConfig()
	if l := cfg.Spec.Observability.Logging; l.Level != "" {
		lc.Level = l.Level
	}
	if l := cfg.Spec.Observability.Logging; l.Format != "" {
		lc.Format = l.Format
	}
	if o := cfg.Spec.Observability.Logging.Output; o != "" {
		lc.Output = o
	}
	if flags.logLevel != "" {
		lc.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		lc.Format = flags.logFormat
	}
	return lc
}

// initLogger initializes the global logger.
func initLogger(lc observability.LogConfig) observability.Logger {
	logger, err := observability.NewLogger(lc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// fatalWithSync flushes the logger before exiting.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}
