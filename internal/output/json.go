package output

import (
	"encoding/json"

	"github.com/ratewatch/ratewatch/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (f *JSONFormatter) FormatAPIs(apis []core.MonitoredAPI) (string, error) {
	if apis == nil {
		apis = []core.MonitoredAPI{}
	}
	return f.marshal(apis)
}

func (f *JSONFormatter) FormatOutcomes(outcomes []core.CycleOutcome) (string, error) {
	if outcomes == nil {
		outcomes = []core.CycleOutcome{}
	}
	return f.marshal(outcomes)
}

func (f *JSONFormatter) FormatSamples(apiName string, samples []core.UsageSample) (string, error) {
	if samples == nil {
		samples = []core.UsageSample{}
	}
	return f.marshal(struct {
		API     string             `json:"api"`
		Samples []core.UsageSample `json:"samples"`
	}{apiName, samples})
}

func (f *JSONFormatter) FormatStates(rows []StateRow) (string, error) {
	if rows == nil {
		rows = []StateRow{}
	}
	return f.marshal(rows)
}
