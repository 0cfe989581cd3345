package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/Kioku/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("KIOKU_TEST_STRING", "gpt-4o-mini")
	if got := environment.StringOr("KIOKU_TEST_STRING", "default"); got != "gpt-4o-mini" {
		t.Errorf("expected %q, got %q", "gpt-4o-mini", got)
	}
	if got := environment.StringOr("KIOKU_TEST_STRING_MISSING", "default"); got != "default" {
		t.Errorf("expected %q, got %q", "default", got)
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("KIOKU_TEST_BOOL", "true")
	if !environment.BoolOr("KIOKU_TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("KIOKU_TEST_BOOL", "nope")
	if environment.BoolOr("KIOKU_TEST_BOOL", false) {
		t.Error("expected fallback false for unparsable value")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("KIOKU_TEST_INT", "8000")
	if got := environment.IntOr("KIOKU_TEST_INT", 0); got != 8000 {
		t.Errorf("expected 8000, got %d", got)
	}
	t.Setenv("KIOKU_TEST_INT_BAD", "lots")
	if got := environment.IntOr("KIOKU_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}

func TestFloatOr(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		fallback float64
		want     float64
	}{
		{"parsed", "0.75", 0.7, 0.75},
		{"empty uses fallback", "", 0.9, 0.9},
		{"garbage uses fallback", "ninety", 0.9, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("KIOKU_TEST_FLOAT", tt.value)
			if got := environment.FloatOr("KIOKU_TEST_FLOAT", tt.fallback); got != tt.want {
				t.Errorf("FloatOr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("KIOKU_TEST_DUR", "45s")
	if got := environment.DurationOr("KIOKU_TEST_DUR", time.Minute); got != 45*time.Second {
		t.Errorf("expected 45s, got %v", got)
	}
	if got := environment.DurationOr("KIOKU_TEST_DUR_MISSING", time.Minute); got != time.Minute {
		t.Errorf("expected 1m, got %v", got)
	}
}
