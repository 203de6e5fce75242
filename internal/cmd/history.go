package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/output"
)

var historyFlags struct {
	limit        int
	graph        bool
	width        int
	height       int
	outputFormat string
	out          string
}

var historyCmd = &cobra.Command{
	Use:   "history <name>",
	Short: "Show stored usage samples for an API",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(historyFlags.outputFormat)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st := openStore(cmd.Context(), cfg.Store, cliLogger())
		defer func() { _ = st.Close() }()

		sink, err := openSink(historyFlags.out, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		opts := historyOptions{
			Limit:  historyFlags.limit,
			Graph:  historyFlags.graph,
			Width:  historyFlags.width,
			Height: historyFlags.height,
			Format: format,
		}
		return printHistory(cmd.Context(), sink.writer, st, args[0], opts)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyFlags.limit, "limit", "n", 50, "number of most recent samples to show")
	historyCmd.Flags().BoolVar(&historyFlags.graph, "graph", false, "plot usage percent as a chart")
	historyCmd.Flags().IntVar(&historyFlags.width, "width", 60, "chart width (with --graph)")
	historyCmd.Flags().IntVar(&historyFlags.height, "height", 10, "chart height (with --graph)")
	historyCmd.Flags().StringVar(&historyFlags.outputFormat, "output-format", "table", "output format: table|json|markdown")
	historyCmd.Flags().StringVar(&historyFlags.out, "out", "", "write output to a file (default stdout)")
}

type historyOptions struct {
	Limit  int
	Graph  bool
	Width  int
	Height int
	Format output.Format
}

type sampleLister interface {
	ListSamples(ctx context.Context, apiName string, limit int) ([]core.UsageSample, error)
}

func printHistory(ctx context.Context, w io.Writer, st sampleLister, name string, opts historyOptions) error {
	samples, err := st.ListSamples(ctx, name, opts.Limit)
	if err != nil {
		return err
	}

	if opts.Graph {
		_, err = fmt.Fprintln(w, output.RenderUsageChart(name, samples, opts.Width, opts.Height))
		return err
	}

	rendered, err := output.NewFormatter(opts.Format).FormatSamples(name, samples)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}
