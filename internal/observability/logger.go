// Package observability sets up the process loggers.
package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger is used for one-shot commands (SIMPLE profile)
	CLILogger *logging.Logger

	// DaemonLogger is used by the poll loop and status server (STRUCTURED profile)
	DaemonLogger *logging.Logger
)

// InitCLILogger initializes the CLI logger with SIMPLE profile
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}

	if verbose {
		logger.SetLevel(logging.DEBUG)
	}

	CLILogger = logger
}

// InitDaemonLogger initializes the loop logger with STRUCTURED profile,
// writing JSON lines to stderr.
func InitDaemonLogger(serviceName string, logLevel string, staticFields map[string]any) {
	logger, err := NewDaemonLogger(serviceName, logLevel, staticFields)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize daemon logger", err)
	}
	DaemonLogger = logger
}

// NewDaemonLogger builds a STRUCTURED logger without touching the globals.
func NewDaemonLogger(serviceName string, logLevel string, staticFields map[string]any) (*logging.Logger, error) {
	if staticFields == nil {
		staticFields = make(map[string]any)
	}

	config := &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: ParseLogLevel(logLevel),
		Service:      serviceName,
		Environment:  environment(),
		StaticFields: staticFields,
		Middleware: []logging.MiddlewareConfig{
			{
				Name:    "correlation",
				Enabled: true,
				Order:   100,
				Config:  make(map[string]any),
			},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:   "console",
				Format: "json",
				Console: &logging.ConsoleSinkConfig{
					Stream:   "stderr",
					Colorize: false,
				},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}

	return logging.New(config)
}

// ParseLogLevel converts a config log level to a logging severity string.
func ParseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

func environment() string {
	if env := strings.TrimSpace(os.Getenv("RATEWATCH_ENV")); env != "" {
		return env
	}
	return "production"
}

// exitWithCodeStderr exits with a semantic exit code, writing to stderr.
// Used for logger initialization failures before any logger is available.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %s: %v (exit code: %d)\n", msg, err, exitCode)
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: %s (exit code: %d)\n", msg, exitCode)
		}
		os.Exit(int(exitCode))
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
	fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)

	os.Exit(info.Code)
}
