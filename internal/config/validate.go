package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/simops/internal/logging"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedProviders = map[string]bool{
	ProviderGemini: true,
	ProviderOpenAI: true,
	ProviderNone:   true,
}

// Validate checks a Config for semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if p := cfg.Pipeline.FailureProbability; p != nil && (*p < 0 || *p > 1) {
		errs = append(errs, ValidationError{Field: "pipeline.failure_probability", Message: "must be between 0 and 1"})
	}
	if cfg.Pipeline.TimeScale < 0 {
		errs = append(errs, ValidationError{Field: "pipeline.time_scale", Message: "must not be negative"})
	}

	validateDuration("telemetry.interval", cfg.Telemetry.Interval, &errs)
	validateDuration("assistant.timeout", cfg.Assistant.Timeout, &errs)
	validateDuration("server.stream_interval", cfg.Server.StreamInterval, &errs)

	if !recognizedProviders[cfg.Assistant.Provider] {
		errs = append(errs, ValidationError{
			Field:   "assistant.provider",
			Message: fmt.Sprintf("unrecognized provider %q", cfg.Assistant.Provider),
		})
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port %d out of range", cfg.Server.Port),
		})
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: err.Error()})
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must be positive"})
	}
}
