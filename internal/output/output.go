// Package output renders registry, cycle and history data for the CLI.
package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ratewatch/ratewatch/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// StateRow pairs an API name with its stored alert state.
type StateRow struct {
	Name  string          `json:"name"`
	State core.AlertState `json:"state"`
}

// Formatter renders CLI results.
type Formatter interface {
	FormatAPIs(apis []core.MonitoredAPI) (string, error)
	FormatOutcomes(outcomes []core.CycleOutcome) (string, error)
	FormatSamples(apiName string, samples []core.UsageSample) (string, error)
	FormatStates(rows []StateRow) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

// SortedStates turns a keyed state map into rows ordered by name.
func SortedStates(states map[string]core.AlertState) []StateRow {
	rows := make([]StateRow, 0, len(states))
	for name, state := range states {
		rows = append(rows, StateRow{Name: name, State: state})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func formatCounts(remaining, limit int) string {
	return humanize.Comma(int64(remaining)) + " / " + humanize.Comma(int64(limit))
}

func alertingLabel(alerting bool) string {
	if alerting {
		return "ALERTING"
	}
	return "ok"
}

// outcomeCells flattens an outcome into status, usage, and detail columns.
func outcomeCells(o core.CycleOutcome) (status, counts, usage, detail string) {
	status = string(o.Kind)
	counts, usage = "-", "-"
	if o.Sample != nil {
		counts = formatCounts(o.Sample.Remaining, o.Sample.Limit)
		usage = formatPercent(o.Sample.UsagePercent())
	}

	switch {
	case o.AlertFired:
		detail = "alert sent"
	case o.State != nil && o.State.IsAlerting:
		detail = "alerting"
	default:
		detail = o.Reason
	}
	return status, counts, usage, detail
}
