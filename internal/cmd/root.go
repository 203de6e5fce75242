package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/observability"
)

var (
	cfgFile      string
	verbose      bool
	registryPath string

	appViper = viper.New()

	// configErr holds a config file or .env failure until a command needs config.
	configErr error

	// Version info set by main package
	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{"dev", "unknown", "unknown"}
)

// rootFlags are the registry actions and loop overrides accepted by the bare command.
var rootFlags struct {
	addAPI          string
	endpoint        string
	header          string
	headerValue     string
	threshold       float64
	remainingHeader string
	limitHeader     string
	extraHeaders    []string
	list            bool
	removeAPI       string
	outputFormat    string
	out             string
	interval        time.Duration
}

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Watch API rate limits and alert before they run out",
	Long: `ratewatch polls registered API endpoints, reads their rate-limit headers,
and sends one alert when usage crosses a threshold.

Run without arguments to start the poll loop.

Examples:
  # Register an API
  ratewatch --add-api GitHub --endpoint https://api.github.com/rate_limit \
    --header Authorization --header-value "token $GITHUB_TOKEN" --threshold 90

  # List and remove
  ratewatch --list
  ratewatch --remove-api GitHub

  # Poll every minute
  ratewatch --interval 1m`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runRoot,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/ratewatch/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	pf.StringVar(&registryPath, "registry", "", "registry file (default is <data dir>/apis.yaml)")

	f := rootCmd.Flags()
	f.StringVar(&rootFlags.addAPI, "add-api", "", "register an API under this name")
	f.StringVar(&rootFlags.endpoint, "endpoint", "", "URL to poll (with --add-api)")
	f.StringVar(&rootFlags.header, "header", "", "auth header name (with --add-api)")
	f.StringVar(&rootFlags.headerValue, "header-value", "", "auth header value (with --add-api)")
	f.Float64Var(&rootFlags.threshold, "threshold", 0, "alert threshold in percent (default alert.default_threshold)")
	f.StringVar(&rootFlags.remainingHeader, "remaining-header", "", "header holding remaining requests")
	f.StringVar(&rootFlags.limitHeader, "limit-header", "", "header holding the request limit")
	f.StringArrayVar(&rootFlags.extraHeaders, "extra-header", nil, "extra request header as NAME:VALUE (repeatable)")
	f.BoolVar(&rootFlags.list, "list", false, "list registered APIs")
	f.StringVar(&rootFlags.removeAPI, "remove-api", "", "remove the API with this name")
	f.StringVar(&rootFlags.outputFormat, "output-format", "table", "output format for --list: table|json|markdown")
	f.StringVar(&rootFlags.out, "out", "", "write --list output to a file (default stdout)")
	f.DurationVar(&rootFlags.interval, "interval", 0, "poll interval override (default poll.interval)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)
	logger := cliLogger()

	configErr = nil
	appViper = viper.New()

	loaded, err := config.LoadDotEnv(config.DotEnvPaths()...)
	if err != nil {
		configErr = err
	}
	for _, path := range loaded {
		logger.Debug("Loaded .env file", zap.String("path", path))
	}

	config.SetDefaults(appViper)
	if err := config.BindEnv(appViper); err != nil && configErr == nil {
		configErr = &config.ConfigError{Field: "env", Err: err}
	}

	_ = appViper.BindPFlag("registry.path", rootCmd.PersistentFlags().Lookup("registry"))
	_ = appViper.BindPFlag("poll.interval", rootCmd.Flags().Lookup("interval"))
	if verbose {
		appViper.Set("logging.level", "debug")
	}

	if cfgFile != "" {
		appViper.SetConfigFile(cfgFile)
	} else {
		if dir := gfconfig.GetAppConfigDir(config.AppName); strings.TrimSpace(dir) != "" {
			appViper.AddConfigPath(dir)
		}
		appViper.AddConfigPath("./config")
		appViper.SetConfigName("config")
		appViper.SetConfigType("yaml")
	}

	if err := appViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Debug("No config file found, using defaults and environment variables")
		} else if configErr == nil {
			configErr = &config.ConfigError{Field: "config", Err: err}
		}
	} else {
		logger.Debug("Using config file", zap.String("path", appViper.ConfigFileUsed()))
	}
}

// loadConfig decodes and validates the layered configuration.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	return config.Load(appViper)
}

func cliLogger() core.Logger {
	if observability.CLILogger == nil {
		return core.NopLogger()
	}
	return observability.CLILogger
}

func runRoot(cmd *cobra.Command, _ []string) error {
	actions := 0
	for _, set := range []bool{rootFlags.addAPI != "", rootFlags.list, rootFlags.removeAPI != ""} {
		if set {
			actions++
		}
	}
	if actions > 1 {
		return errors.New("--add-api, --list and --remove-api are mutually exclusive")
	}

	switch {
	case rootFlags.addAPI != "":
		return runAddAPI(cmd)
	case rootFlags.list:
		return runListAPIs(cmd)
	case rootFlags.removeAPI != "":
		return runRemoveAPI(cmd)
	}

	if cmd.Flags().Changed("endpoint") || cmd.Flags().Changed("header") || cmd.Flags().Changed("threshold") {
		return fmt.Errorf("--endpoint, --header and --threshold require --add-api")
	}
	return runLoop(cmd)
}
