package config

import (
	"slices"

	"github.com/FerroO2000/parpipe/internal"
)

// Validator is an utility struct for validating a configuration.
type Validator struct {
	tel *internal.Telemetry

	anomalyCollector *AnomalyCollector
}

// NewValidator returns a new validator.
func NewValidator(tel *internal.Telemetry) *Validator {
	return &Validator{
		tel: tel,

		anomalyCollector: NewAnomalyCollector(),
	}
}

// Validate validates the given configuration, logging a warning
// for every anomaly found. It returns the anomalies found by this call.
func (m *Validator) Validate(config Config) []Anomaly {
	from := m.anomalyCollector.Len()

	config.Validate(m.anomalyCollector)

	found := slices.Collect(m.anomalyCollector.All())[from:]
	for _, anomaly := range found {
		m.handleAnomaly(anomaly)
	}

	return found
}

func (m *Validator) handleAnomaly(an Anomaly) {
	m.tel.LogWarn("config anomaly",
		"field", an.Field, "reason", an.Reason,
		"actual", an.Actual, "fallback", an.Fallback)
}
