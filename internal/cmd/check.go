package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/engine"
	"github.com/ratewatch/ratewatch/internal/notify"
	"github.com/ratewatch/ratewatch/internal/output"
)

var checkFlags struct {
	dryRun       bool
	outputFormat string
	out          string
}

var checkCmd = &cobra.Command{
	Use:   "check [name...]",
	Short: "Run one poll cycle and print the outcomes",
	Long: `Poll every registered API once (or only the named ones), update alert
state, send any alerts that fire, and print the results.

With --dry-run no alert is sent and no state is written.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkFlags.dryRun, "dry-run", false, "do not notify or persist state")
	checkCmd.Flags().StringVar(&checkFlags.outputFormat, "output-format", "table", "output format: table|json|markdown")
	checkCmd.Flags().StringVar(&checkFlags.out, "out", "", "write output to a file (default stdout)")
}

// subsetLister restricts a cycle to selected APIs.
type subsetLister []core.MonitoredAPI

func (s subsetLister) List() []core.MonitoredAPI { return s }

// selectAPIs returns the named APIs in registry order, or all when names is empty.
func selectAPIs(all []core.MonitoredAPI, names []string) ([]core.MonitoredAPI, error) {
	if len(names) == 0 {
		return all, nil
	}

	byKey := make(map[string]core.MonitoredAPI, len(all))
	for _, api := range all {
		byKey[api.Key()] = api
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		key := core.NormalizeName(name)
		if _, ok := byKey[key]; !ok {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, name)
		}
		wanted[key] = true
	}

	selected := make([]core.MonitoredAPI, 0, len(wanted))
	for _, api := range all {
		if wanted[api.Key()] {
			selected = append(selected, api)
		}
	}
	return selected, nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(checkFlags.outputFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var notifier notify.Notifier
	if !checkFlags.dryRun {
		if err := cfg.ValidateNotify(); err != nil {
			return err
		}
		if notifier, err = notify.New(cfg.NotifySettings()); err != nil {
			return &config.ConfigError{Field: "notify", Err: err}
		}
	}

	logger := cliLogger()
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	apis, err := selectAPIs(reg.List(), args)
	if err != nil {
		return err
	}

	var st engine.Store
	if checkFlags.dryRun {
		st = engine.NewMemoryStore()
	} else {
		st = openStore(cmd.Context(), cfg.Store, logger)
	}
	defer func() { _ = st.Close() }()

	poller := newPoller(cfg, subsetLister(apis), st, notifier, nil, logger)

	sink, err := openSink(checkFlags.out, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	return checkOnce(cmd.Context(), sink.writer, poller, format, logger)
}

// checkOnce runs a single cycle and renders it.
func checkOnce(ctx context.Context, w io.Writer, runner engine.CycleRunner, format output.Format, logger core.Logger) error {
	outcomes := runner.RunCycle(ctx)

	summary := engine.Summarize(outcomes)
	logger.Debug("Check complete",
		zap.Int("apis", summary.Total),
		zap.Int("sampled", summary.Sampled),
		zap.Int("alerts", summary.Alerts))

	rendered, err := output.NewFormatter(format).FormatOutcomes(outcomes)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}
