package output

import (
	"fmt"
	"strings"

	"github.com/ratewatch/ratewatch/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func writeMarkdownRow(sb *strings.Builder, cells ...string) {
	sb.WriteString("|")
	for _, c := range cells {
		sb.WriteString(" ")
		sb.WriteString(escapeMarkdownCell(c))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

func writeMarkdownHeader(sb *strings.Builder, cells ...string) {
	writeMarkdownRow(sb, cells...)
	sb.WriteString("|")
	for range cells {
		sb.WriteString("---|")
	}
	sb.WriteString("\n")
}

func (f *MarkdownFormatter) FormatAPIs(apis []core.MonitoredAPI) (string, error) {
	var sb strings.Builder
	writeMarkdownHeader(&sb, "Name", "Endpoint", "Threshold")
	for _, api := range apis {
		writeMarkdownRow(&sb, api.Name, api.Endpoint, formatPercent(api.ThresholdPercent))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatOutcomes(outcomes []core.CycleOutcome) (string, error) {
	var sb strings.Builder
	writeMarkdownHeader(&sb, "API", "Outcome", "Remaining / Limit", "Usage", "Notes")
	for _, o := range outcomes {
		status, counts, usage, detail := outcomeCells(o)
		writeMarkdownRow(&sb, o.APIName, status, counts, usage, detail)
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatSamples(apiName string, samples []core.UsageSample) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s usage history\n\n", escapeMarkdownCell(apiName)))
	writeMarkdownHeader(&sb, "Sampled At (UTC)", "Remaining / Limit", "Usage")
	for _, s := range samples {
		writeMarkdownRow(&sb, formatTime(s.SampledAt), formatCounts(s.Remaining, s.Limit), formatPercent(s.UsagePercent()))
	}
	return sb.String(), nil
}

func (f *MarkdownFormatter) FormatStates(rows []StateRow) (string, error) {
	var sb strings.Builder
	writeMarkdownHeader(&sb, "API", "State", "Last Usage", "Last Alert (UTC)")
	for _, r := range rows {
		writeMarkdownRow(&sb, r.Name, alertingLabel(r.State.IsAlerting), formatPercent(r.State.LastUsagePercent), formatTimePtr(r.State.LastAlertAt))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
