package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"nhkrec/internal/log"
)

// Config carries every start-up parameter the daemon needs to build its
// components. Precedence for each field is flag > environment > default.
type Config struct {
	ListenAddr string
	DataRoot   string

	ReconcileInterval time.Duration
	SchedulingHorizon time.Duration
	EventsHorizon     time.Duration
	GraceInterval     time.Duration
	SeriesCacheTTL    time.Duration

	LeadIn          time.Duration
	TailOut         time.Duration
	SegmentDuration time.Duration
	StopGrace       time.Duration

	EventsBaseURL   string
	SeriesListURL   string
	StreamConfigURL string
	UpstreamRPS     float64

	MuxerExecutable string
	LogLevel        string
	DryRun          bool
}

// FlagSet mirrors Config's fields as a *flag.FlagSet, so main can call
// flag.Parse() once and Resolved can read the resolved flag values.
type FlagSet struct {
	fs *flag.FlagSet

	listenAddr string
	dataRoot   string

	reconcileInterval time.Duration
	schedulingHorizon time.Duration
	eventsHorizon     time.Duration
	graceInterval     time.Duration
	seriesCacheTTL    time.Duration

	leadIn          time.Duration
	tailOut         time.Duration
	segmentDuration time.Duration
	stopGrace       time.Duration

	eventsBaseURL   string
	seriesListURL   string
	streamConfigURL string
	upstreamRPS     float64

	muxerExecutable string
	logLevel        string
	verbose         bool
	dryRun          bool
}

// NewFlagSet registers nhkrecd's flags against fs, defaulting every flag's
// own default to its environment-or-built-in value so a flag that is never
// passed still carries the correct ENV/default precedence.
func NewFlagSet(fs *flag.FlagSet) *FlagSet {
	f := &FlagSet{fs: fs}

	fs.StringVar(&f.listenAddr, "listen", ParseString("NHKREC_LISTEN", ":8080"), "HTTP listen address")
	fs.StringVar(&f.dataRoot, "data-root", ParseString("NHKREC_DATA_ROOT", "/var/lib/nhkrec"), "data root directory (catalogue, staging, recordings)")

	fs.DurationVar(&f.reconcileInterval, "reconcile-interval", ParseDuration("NHKREC_RECONCILE_INTERVAL", 30*time.Second), "scheduler reconciliation tick interval")
	fs.DurationVar(&f.schedulingHorizon, "scheduling-horizon", ParseDuration("NHKREC_SCHEDULING_HORIZON", 25*time.Hour), "how far ahead a pending reservation may be armed")
	fs.DurationVar(&f.eventsHorizon, "events-horizon", ParseDuration("NHKREC_EVENTS_HORIZON", 7*24*time.Hour), "how far ahead series watches fetch upstream events")
	fs.DurationVar(&f.graceInterval, "grace-interval", ParseDuration("NHKREC_GRACE_INTERVAL", 5*time.Minute), "how long a plan may sit unstarted past its start before being reaped")
	fs.DurationVar(&f.seriesCacheTTL, "series-cache-ttl", ParseDuration("NHKREC_SERIES_CACHE_TTL", 6*time.Hour), "upstream series/stream catalog cache lifetime")

	fs.DurationVar(&f.leadIn, "lead-in", ParseDuration("NHKREC_LEAD_IN", 5*time.Second), "capture lead-in before scheduled start")
	fs.DurationVar(&f.tailOut, "tail-out", ParseDuration("NHKREC_TAIL_OUT", 30*time.Second), "capture tail-out after scheduled end")
	fs.DurationVar(&f.segmentDuration, "segment-duration", ParseDuration("NHKREC_SEGMENT_DURATION", 6*time.Second), "target HLS segment duration for the muxer")
	fs.DurationVar(&f.stopGrace, "stop-grace", ParseDuration("NHKREC_STOP_GRACE", 10*time.Second), "grace period before SIGKILLing the muxer")

	fs.StringVar(&f.eventsBaseURL, "events-base-url", ParseString("NHKREC_EVENTS_BASE_URL", ""), "upstream series-events endpoint template base")
	fs.StringVar(&f.seriesListURL, "series-list-url", ParseString("NHKREC_SERIES_LIST_URL", ""), "upstream series list URL")
	fs.StringVar(&f.streamConfigURL, "stream-config-url", ParseString("NHKREC_STREAM_CONFIG_URL", ""), "upstream area/stream configuration URL")
	fs.Float64Var(&f.upstreamRPS, "upstream-rps", ParseFloat("NHKREC_UPSTREAM_RPS", 2), "outbound requests per second to upstream")

	fs.StringVar(&f.muxerExecutable, "muxer", ParseString("NHKREC_MUXER", "ffmpeg"), "path to the segment muxer executable")
	fs.StringVar(&f.logLevel, "log-level", ParseString("NHKREC_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	fs.BoolVar(&f.verbose, "verbose", ParseBool("NHKREC_VERBOSE", false), "shorthand for --log-level=debug")
	fs.BoolVar(&f.dryRun, "dry-run", ParseBool("NHKREC_DRY_RUN", false), "run the scheduler without spawning the muxer or writing recordings")

	return f
}

// ParseFloat reads a float64 from an environment variable, falling back to
// defaultValue on absence or parse failure.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid float, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Float64("value", f).Str("source", "environment").Msg("using environment variable")
	return f
}

// Resolved converts the parsed flag values (already flag > env > default)
// into a Config, after flag.Parse has run.
func (f *FlagSet) Resolved() Config {
	level := f.logLevel
	if f.verbose {
		level = "debug"
	}
	return Config{
		ListenAddr:        f.listenAddr,
		DataRoot:          f.dataRoot,
		ReconcileInterval: f.reconcileInterval,
		SchedulingHorizon: f.schedulingHorizon,
		EventsHorizon:     f.eventsHorizon,
		GraceInterval:     f.graceInterval,
		SeriesCacheTTL:    f.seriesCacheTTL,
		LeadIn:            f.leadIn,
		TailOut:           f.tailOut,
		SegmentDuration:   f.segmentDuration,
		StopGrace:         f.stopGrace,
		EventsBaseURL:     f.eventsBaseURL,
		SeriesListURL:     f.seriesListURL,
		StreamConfigURL:   f.streamConfigURL,
		UpstreamRPS:       f.upstreamRPS,
		MuxerExecutable:   f.muxerExecutable,
		LogLevel:          level,
		DryRun:            f.dryRun,
	}
}
