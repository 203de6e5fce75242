package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ratewatch/ratewatch/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func newTable(header table.Row) table.Writer {
	style := table.StyleRounded
	style.Format.Footer = text.FormatDefault
	t := table.NewWriter()
	t.SetStyle(style)
	t.AppendHeader(header)
	return t
}

// FormatAPIs renders the registry, one row per API.
func (f *TableFormatter) FormatAPIs(apis []core.MonitoredAPI) (string, error) {
	if len(apis) == 0 {
		return "No APIs registered.", nil
	}

	t := newTable(table.Row{"Name", "Endpoint", "Threshold"})
	for _, api := range apis {
		t.AppendRow(table.Row{api.Name, api.Endpoint, formatPercent(api.ThresholdPercent)})
	}
	return t.Render(), nil
}

// FormatOutcomes renders one poll cycle.
func (f *TableFormatter) FormatOutcomes(outcomes []core.CycleOutcome) (string, error) {
	if len(outcomes) == 0 {
		return "No APIs registered.", nil
	}

	t := newTable(table.Row{"API", "Outcome", "Remaining / Limit", "Usage", "Notes"})
	var sampled, failed int
	for _, o := range outcomes {
		status, counts, usage, detail := outcomeCells(o)
		t.AppendRow(table.Row{o.APIName, status, counts, usage, detail})
		if o.Kind == core.OutcomeSampled {
			sampled++
		} else {
			failed++
		}
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d sampled, %d failed", sampled, failed)})
	return t.Render(), nil
}

// FormatSamples renders stored history oldest first.
func (f *TableFormatter) FormatSamples(apiName string, samples []core.UsageSample) (string, error) {
	if len(samples) == 0 {
		return fmt.Sprintf("No samples recorded for %s.", apiName), nil
	}

	t := newTable(table.Row{"Sampled At (UTC)", "Remaining / Limit", "Usage", "Source"})
	t.SetTitle(apiName)
	for _, s := range samples {
		t.AppendRow(table.Row{formatTime(s.SampledAt), formatCounts(s.Remaining, s.Limit), formatPercent(s.UsagePercent()), string(s.Source)})
	}
	return t.Render(), nil
}

// FormatStates renders stored alert state.
func (f *TableFormatter) FormatStates(rows []StateRow) (string, error) {
	if len(rows) == 0 {
		return "No alert state recorded.", nil
	}

	t := newTable(table.Row{"API", "State", "Last Usage", "Last Alert (UTC)", "Updated (UTC)"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Name,
			alertingLabel(r.State.IsAlerting),
			formatPercent(r.State.LastUsagePercent),
			formatTimePtr(r.State.LastAlertAt),
			formatTime(r.State.UpdatedAt),
		})
	}
	return t.Render(), nil
}
