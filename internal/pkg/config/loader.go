package config

import (
	"fmt"
	"os"
	"time"
)

// ConfigLoadResult is the outcome of loading one configuration value.
// Value holds the loaded (or fallback) value, Warnings one message per
// fallback applied, and FallbackApplied whether the default was used
// because the environment value failed to parse or validate.
//
// All loaders in this package share this shape so call sites can treat
// every field the same way:
//
//	result := LoadEnvDuration("RUN_TIMEOUT", 10*time.Minute, ValidatePositiveDuration)
//	timeout := result.Value.(time.Duration)
type ConfigLoadResult struct {
	Value           interface{}
	Warnings        []string
	FallbackApplied bool
}

// LoadEnvString reads a string from the environment, returning the
// default when the variable is unset or empty. No validation is
// applied; use LoadEnvWithFallback when a value can be wrong.
func LoadEnvString(envKey, defaultValue string) string {
	value := os.Getenv(envKey)
	if value == "" {
		return defaultValue
	}
	return value
}

// LoadEnvWithFallback reads a string from the environment and runs it
// through validator. An unset variable silently yields the default; a
// set-but-invalid one yields the default plus a warning. This function
// never fails, which is the point: a worker with a misspelled cron
// schedule should run on the default schedule, not stay down.
//
//	result := LoadEnvWithFallback("URGENT_SCHEDULE", "* * * * *", ValidateCronSchedule)
//	schedule := result.Value.(string)
func LoadEnvWithFallback(envKey, defaultValue string, validator func(string) error) ConfigLoadResult {
	value := os.Getenv(envKey)
	if value == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	if validator != nil {
		if err := validator(value); err != nil {
			return fallbackResult(envKey, value, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: value}
}

// LoadEnvDuration reads a Go duration string ("30s", "5m", "1h30m")
// from the environment with the same fallback semantics as
// LoadEnvWithFallback. Both parse and validation failures fall back.
func LoadEnvDuration(envKey string, defaultValue time.Duration, validator func(time.Duration) error) ConfigLoadResult {
	valueStr := os.Getenv(envKey)
	if valueStr == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	parsed, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallbackResult(envKey, valueStr, err, defaultValue)
	}
	if validator != nil {
		if err := validator(parsed); err != nil {
			return fallbackResult(envKey, valueStr, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: parsed}
}

// LoadEnvInt reads an integer from the environment with the same
// fallback semantics as LoadEnvWithFallback.
func LoadEnvInt(envKey string, defaultValue int, validator func(int) error) ConfigLoadResult {
	valueStr := os.Getenv(envKey)
	if valueStr == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	var parsed int
	if _, err := fmt.Sscanf(valueStr, "%d", &parsed); err != nil {
		return fallbackResult(envKey, valueStr, fmt.Errorf("invalid integer format"), defaultValue)
	}
	if validator != nil {
		if err := validator(parsed); err != nil {
			return fallbackResult(envKey, valueStr, err, defaultValue)
		}
	}
	return ConfigLoadResult{Value: parsed}
}

// LoadEnvBool reads a boolean from the environment. Accepted spellings
// match strconv.ParseBool ("1", "t", "true", "0", "f", "false" in any
// common casing); anything else falls back with a warning.
func LoadEnvBool(envKey string, defaultValue bool) ConfigLoadResult {
	valueStr := os.Getenv(envKey)
	if valueStr == "" {
		return ConfigLoadResult{Value: defaultValue}
	}

	switch valueStr {
	case "1", "t", "T", "true", "TRUE", "True":
		return ConfigLoadResult{Value: true}
	case "0", "f", "F", "false", "FALSE", "False":
		return ConfigLoadResult{Value: false}
	}
	return fallbackResult(envKey, valueStr,
		fmt.Errorf("invalid boolean format, expected 'true' or 'false'"),
		defaultValue)
}

// fallbackResult builds the default-valued result with a single
// warning in the shared format. The default keeps its concrete type so
// callers can type-assert Value the same way on both paths.
func fallbackResult(envKey, raw string, err error, defaultValue interface{}) ConfigLoadResult {
	warning := fmt.Sprintf("Invalid %s='%s': %v, falling back to default '%v'", envKey, raw, err, defaultValue)
	return ConfigLoadResult{
		Value:           defaultValue,
		Warnings:        []string{warning},
		FallbackApplied: true,
	}
}
