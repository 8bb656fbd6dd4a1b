package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlagSetDefaults(t *testing.T) {
	fs := flag.NewFlagSet("nhkrecd", flag.ContinueOnError)
	f := NewFlagSet(fs)
	require.NoError(t, fs.Parse(nil))

	cfg := f.Resolved()
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	require.Equal(t, 25*time.Hour, cfg.SchedulingHorizon)
	require.Equal(t, "ffmpeg", cfg.MuxerExecutable)
	require.False(t, cfg.DryRun)
}

func TestFlagSetOverridesDefaults(t *testing.T) {
	fs := flag.NewFlagSet("nhkrecd", flag.ContinueOnError)
	f := NewFlagSet(fs)
	require.NoError(t, fs.Parse([]string{"--listen", ":9090", "--dry-run", "--reconcile-interval", "10s"}))

	cfg := f.Resolved()
	require.Equal(t, ":9090", cfg.ListenAddr)
	require.True(t, cfg.DryRun)
	require.Equal(t, 10*time.Second, cfg.ReconcileInterval)
}

func TestFlagSetVerboseOverridesLogLevel(t *testing.T) {
	fs := flag.NewFlagSet("nhkrecd", flag.ContinueOnError)
	f := NewFlagSet(fs)
	require.NoError(t, fs.Parse([]string{"--verbose"}))

	cfg := f.Resolved()
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestFlagSetEnvPrecedesDefaultButNotFlag(t *testing.T) {
	t.Setenv("NHKREC_LISTEN", ":7070")
	fs := flag.NewFlagSet("nhkrecd", flag.ContinueOnError)
	f := NewFlagSet(fs)
	require.NoError(t, fs.Parse(nil))
	require.Equal(t, ":7070", f.Resolved().ListenAddr)

	fs2 := flag.NewFlagSet("nhkrecd", flag.ContinueOnError)
	f2 := NewFlagSet(fs2)
	require.NoError(t, fs2.Parse([]string{"--listen", ":6060"}))
	require.Equal(t, ":6060", f2.Resolved().ListenAddr)
}
