package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/store"
	"github.com/ratewatch/ratewatch/internal/output"
)

var (
	stateListOutput     string
	stateResetAll       bool
	stateResetYes       bool
	stateBackoffsOutput string
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and clear stored alert state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored alert state per API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(stateListOutput)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st := openStore(cmd.Context(), cfg.Store, cliLogger())
		defer func() { _ = st.Close() }()

		return listStates(cmd.Context(), cmd.OutOrStdout(), st, format)
	},
}

var stateResetCmd = &cobra.Command{
	Use:   "reset [name]",
	Short: "Clear alert state so the next crossing alerts again",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		if err := validateReset(name, stateResetAll, stateResetYes); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st := openStore(cmd.Context(), cfg.Store, cliLogger())
		defer func() { _ = st.Close() }()

		return resetStates(cmd.Context(), cmd.OutOrStdout(), st, name, stateResetAll)
	},
}

var stateBackoffsCmd = &cobra.Command{
	Use:   "backoffs",
	Short: "List endpoints currently backing off after a 429",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(stateBackoffsOutput)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st := openStore(cmd.Context(), cfg.Store, cliLogger())
		defer func() { _ = st.Close() }()

		lister, ok := st.(backoffLister)
		if !ok {
			return errors.New("backoff state requires the database store")
		}
		return listBackoffs(cmd.Context(), cmd.OutOrStdout(), lister, format, time.Now().UTC())
	},
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateListCmd, stateResetCmd, stateBackoffsCmd)

	stateListCmd.Flags().StringVar(&stateListOutput, "output-format", "table", "output format: table|json|markdown")
	stateResetCmd.Flags().BoolVar(&stateResetAll, "all", false, "reset every API")
	stateResetCmd.Flags().BoolVar(&stateResetYes, "yes", false, "confirm --all")
	stateBackoffsCmd.Flags().StringVar(&stateBackoffsOutput, "output-format", "table", "output format: table|json")
}

type stateLister interface {
	ListAlertStates(ctx context.Context) (map[string]core.AlertState, error)
}

type stateResetter interface {
	ResetAlertState(ctx context.Context, apiName string) error
	ResetAllAlertStates(ctx context.Context) (int, error)
}

type backoffLister interface {
	ListBackoffs(ctx context.Context, now time.Time) ([]store.BackoffEntry, error)
}

func listStates(ctx context.Context, w io.Writer, st stateLister, format output.Format) error {
	states, err := st.ListAlertStates(ctx)
	if err != nil {
		return err
	}
	rendered, err := output.NewFormatter(format).FormatStates(output.SortedStates(states))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}

func validateReset(name string, all, yes bool) error {
	switch {
	case strings.TrimSpace(name) != "" && all:
		return errors.New("give an API name or --all, not both")
	case strings.TrimSpace(name) == "" && !all:
		return errors.New("give an API name or --all")
	case all && !yes:
		return errors.New("--all requires --yes")
	}
	return nil
}

func resetStates(ctx context.Context, w io.Writer, st stateResetter, name string, all bool) error {
	if all {
		count, err := st.ResetAllAlertStates(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "Reset alert state for %d API(s)\n", count)
		return err
	}

	if err := st.ResetAlertState(ctx, name); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Reset alert state: %s\n", strings.TrimSpace(name))
	return err
}

func listBackoffs(ctx context.Context, w io.Writer, st backoffLister, format output.Format, now time.Time) error {
	entries, err := st.ListBackoffs(ctx, now)
	if err != nil {
		return err
	}

	if format == output.FormatJSON {
		if entries == nil {
			entries = []store.BackoffEntry{}
		}
		payload, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	lines := []string{"Poll Backoff", ""}
	if len(entries) == 0 {
		lines = append(lines, "(no API is backing off)")
		_, err = fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
		return err
	}

	for _, entry := range entries {
		until := "-"
		if entry.BackoffUntil != nil {
			until = entry.BackoffUntil.UTC().Format(time.RFC3339)
		}
		lines = append(lines, fmt.Sprintf("%s: consecutive=%d backoff_until=%s", entry.API, entry.Consecutive, until))
	}
	_, err = fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return err
}
