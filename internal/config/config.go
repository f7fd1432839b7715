// Package config contains utility structs/functions and types
// for validating the configurations across the library.
//
// Validation never fails: every value out of its domain is reported
// as an anomaly and replaced with a fallback. Hard errors, such as a
// parallelism the machine cannot host, are checked by the owner of the
// configuration before running the validator.
package config

// Config defines the minimal interface for a configuration
// in order to be validated.
type Config interface {
	// Validate checks the configuration, fixing the fields
	// with an invalid value.
	Validate(ac *AnomalyCollector)
}
