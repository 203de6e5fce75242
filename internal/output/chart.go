package output

import (
	"fmt"

	"github.com/guptarohit/asciigraph"

	"github.com/ratewatch/ratewatch/internal/core"
)

// RenderUsageChart plots usage percent over the given samples, oldest first.
func RenderUsageChart(apiName string, samples []core.UsageSample, width, height int) string {
	if len(samples) == 0 {
		return fmt.Sprintf("No samples recorded for %s.", apiName)
	}

	// Ensure minimum dimensions
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	data := make([]float64, len(samples))
	for i, s := range samples {
		data[i] = s.UsagePercent()
	}

	caption := fmt.Sprintf("%s usage %% (%s to %s UTC)",
		apiName,
		formatTime(samples[0].SampledAt),
		formatTime(samples[len(samples)-1].SampledAt))

	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.LowerBound(0),
		asciigraph.UpperBound(100),
		asciigraph.Caption(caption),
	)
}
