package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ratewatch/ratewatch/internal/config"
	"github.com/ratewatch/ratewatch/internal/core"
	"github.com/ratewatch/ratewatch/internal/core/registry"
	"github.com/ratewatch/ratewatch/internal/output"
)

// addOptions is the flag set for --add-api, decoupled from cobra for tests.
type addOptions struct {
	Name            string
	Endpoint        string
	HeaderName      string
	HeaderValue     string
	Threshold       float64
	ThresholdSet    bool
	RemainingHeader string
	LimitHeader     string
	ExtraHeaders    []string
}

func (o addOptions) toAPI(defaultThreshold float64) (core.MonitoredAPI, error) {
	headers, err := parseExtraHeaders(o.ExtraHeaders)
	if err != nil {
		return core.MonitoredAPI{}, err
	}

	threshold := defaultThreshold
	if o.ThresholdSet {
		threshold = o.Threshold
	}

	return core.MonitoredAPI{
		Name:             strings.TrimSpace(o.Name),
		Endpoint:         strings.TrimSpace(o.Endpoint),
		AuthHeaderName:   strings.TrimSpace(o.HeaderName),
		AuthHeaderValue:  o.HeaderValue,
		RemainingHeader:  strings.TrimSpace(o.RemainingHeader),
		LimitHeader:      strings.TrimSpace(o.LimitHeader),
		Headers:          headers,
		ThresholdPercent: threshold,
	}, nil
}

// parseExtraHeaders turns NAME:VALUE pairs into a header map.
func parseExtraHeaders(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(values))
	for _, raw := range values {
		name, value, ok := strings.Cut(raw, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: extra header %q must be NAME:VALUE", core.ErrInvalidAPI, raw)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// openRegistry never needs notifier credentials.
func openRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.Open(cfg.Registry.Path, cliLogger())
}

func addAPI(w io.Writer, reg *registry.Registry, opts addOptions, defaultThreshold float64, logger core.Logger) error {
	api, err := opts.toAPI(defaultThreshold)
	if err != nil {
		return err
	}
	if err := reg.Add(api); err != nil {
		return err
	}
	if api.ThresholdPercent <= 1 {
		logger.Warn("Threshold is in percent, not a 0-1 fraction; this API alerts on almost any usage",
			zap.String("api", api.Name),
			zap.Float64("threshold_percent", api.ThresholdPercent))
	}
	_, err = fmt.Fprintf(w, "Added API: %s\n", api.Name)
	return err
}

func listAPIs(w io.Writer, reg *registry.Registry, format output.Format) error {
	rendered, err := output.NewFormatter(format).FormatAPIs(reg.List())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}

// apiForgetter drops stored alert state, history and backoff for an API.
type apiForgetter interface {
	ForgetAPI(ctx context.Context, apiName string) error
}

// removeAPI deletes the registry entry and then everything stored for it, so a
// later API with the same name starts from a clean state.
func removeAPI(ctx context.Context, w io.Writer, reg *registry.Registry, name string, st apiForgetter, logger core.Logger) error {
	if err := reg.Remove(name); err != nil {
		return err
	}
	if st != nil {
		if err := st.ForgetAPI(ctx, name); err != nil {
			logger.Warn("Removed API but could not clear its stored state",
				zap.String("api", strings.TrimSpace(name)),
				zap.Error(err))
		}
	}
	_, err := fmt.Fprintf(w, "Removed API: %s\n", strings.TrimSpace(name))
	return err
}

func runAddAPI(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	opts := addOptions{
		Name:            rootFlags.addAPI,
		Endpoint:        rootFlags.endpoint,
		HeaderName:      rootFlags.header,
		HeaderValue:     rootFlags.headerValue,
		Threshold:       rootFlags.threshold,
		ThresholdSet:    cmd.Flags().Changed("threshold"),
		RemainingHeader: rootFlags.remainingHeader,
		LimitHeader:     rootFlags.limitHeader,
		ExtraHeaders:    rootFlags.extraHeaders,
	}
	return addAPI(cmd.OutOrStdout(), reg, opts, cfg.Alert.DefaultThreshold, cliLogger())
}

func runListAPIs(cmd *cobra.Command) error {
	format, err := output.ParseFormat(rootFlags.outputFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	sink, err := openSink(rootFlags.out, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer func() { _ = sink.close() }()

	return listAPIs(sink.writer, reg, format)
}

func runRemoveAPI(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st := openStore(ctx, cfg.Store, cliLogger())
	defer func() { _ = st.Close() }()

	return removeAPI(ctx, cmd.OutOrStdout(), reg, rootFlags.removeAPI, st, cliLogger())
}
