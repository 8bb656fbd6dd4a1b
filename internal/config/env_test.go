package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseStringUsesEnvOverDefault(t *testing.T) {
	t.Setenv("NHKREC_TEST_STRING", "from-env")
	require.Equal(t, "from-env", ParseString("NHKREC_TEST_STRING", "fallback"))
}

func TestParseStringFallsBackWhenUnset(t *testing.T) {
	require.Equal(t, "fallback", ParseString("NHKREC_TEST_STRING_UNSET", "fallback"))
}

func TestParseIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("NHKREC_TEST_INT", "not-a-number")
	require.Equal(t, 7, ParseInt("NHKREC_TEST_INT", 7))
}

func TestParseIntParsesValid(t *testing.T) {
	t.Setenv("NHKREC_TEST_INT", "42")
	require.Equal(t, 42, ParseInt("NHKREC_TEST_INT", 7))
}

func TestParseDurationParsesValid(t *testing.T) {
	t.Setenv("NHKREC_TEST_DURATION", "45s")
	require.Equal(t, 45*time.Second, ParseDuration("NHKREC_TEST_DURATION", time.Minute))
}

func TestParseDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("NHKREC_TEST_DURATION", "not-a-duration")
	require.Equal(t, time.Minute, ParseDuration("NHKREC_TEST_DURATION", time.Minute))
}

func TestParseBoolVariants(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "false": false, "0": false, "no": false}
	for v, want := range cases {
		t.Setenv("NHKREC_TEST_BOOL", v)
		require.Equal(t, want, ParseBool("NHKREC_TEST_BOOL", !want), "value %q", v)
	}
}

func TestParseBoolFallsBackOnGarbage(t *testing.T) {
	t.Setenv("NHKREC_TEST_BOOL", "maybe")
	require.True(t, ParseBool("NHKREC_TEST_BOOL", true))
}

func TestParseFloatParsesValid(t *testing.T) {
	t.Setenv("NHKREC_TEST_FLOAT", "1.5")
	require.InDelta(t, 1.5, ParseFloat("NHKREC_TEST_FLOAT", 2), 0.0001)
}
