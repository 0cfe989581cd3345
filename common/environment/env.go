// Package environment reads typed configuration overrides from environment
// variables. Every helper falls back to a caller-supplied value when the
// variable is unset, empty, or malformed, so callers can layer environment
// overrides on top of defaults or values loaded from a file.
package environment

import (
	"os"
	"strconv"
	"time"
)

// StringOr returns the value of the named environment variable, or fallback
// if the variable is unset or empty.
func StringOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// BoolOr parses the named variable with strconv.ParseBool.
func BoolOr(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// IntOr parses the named variable as a decimal integer.
func IntOr(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// FloatOr parses the named variable as a 64-bit float (e.g. "0.7").
func FloatOr(name string, fallback float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// DurationOr parses the named variable as a time.Duration ("30s", "2m").
func DurationOr(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
