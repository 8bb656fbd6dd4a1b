// Package model holds the persisted and transient domain types: the
// Reservation union, canonical BroadcastEvent, Recording, and the
// scheduler-private CapturePlan state machine types.
package model

import "time"

// ServiceID is the fixed, closed set of radio services this appliance knows
// about. Upstream's "r3" is folded into FM per the fixed service-id mapping.
type ServiceID string

const (
	ServiceR1 ServiceID = "r1"
	ServiceR2 ServiceID = "r2"
	ServiceFM ServiceID = "fm"
)

// Series is an upstream programme descriptor, returned by UpstreamClient's
// cached series list.
type Series struct {
	SeriesID   string `json:"seriesId"`
	SeriesCode string `json:"seriesCode"`
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
}

// ReservationKind discriminates the Reservation union. Persisted as a tag
// field; unknown tags are rejected at load time rather than silently
// defaulted.
type ReservationKind string

const (
	KindSingleEvent ReservationKind = "single_event"
	KindSeriesWatch ReservationKind = "series_watch"
)

// ReservationStatus is the SingleEvent lifecycle. SeriesWatch reservations
// are always StatusPending until deleted.
type ReservationStatus string

const (
	StatusPending    ReservationStatus = "pending"
	StatusInProgress ReservationStatus = "in_progress"
	StatusDone       ReservationStatus = "done"
	StatusFailed     ReservationStatus = "failed"
	StatusCanceled   ReservationStatus = "canceled"
)

// MusicArtist is a performer or contributor credited on a MusicItem.
// Supplemental display metadata; never consulted by capture timing.
type MusicArtist struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
	Part string `json:"part,omitempty"`
}

// MusicItem describes one piece of music listed against a broadcast, carried
// through verbatim from upstream when present.
type MusicItem struct {
	Name     string        `json:"name,omitempty"`
	NameRuby string        `json:"nameRuby,omitempty"`
	Lyricist string        `json:"lyricist,omitempty"`
	Composer string        `json:"composer,omitempty"`
	Arranger string        `json:"arranger,omitempty"`
	Location string        `json:"location,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Label    string        `json:"label,omitempty"`
	Duration string        `json:"duration,omitempty"`
	Code     string        `json:"code,omitempty"`
	ByArtist []MusicArtist `json:"byArtist,omitempty"`
}

// BroadcastEvent is the canonical, normalised form of an upstream schedule
// entry. Instants are always UTC.
type BroadcastEvent struct {
	BroadcastEventID     string            `json:"broadcastEventId"`
	RadioSeriesID        string            `json:"radioSeriesId,omitempty"`
	RadioEpisodeID       string            `json:"radioEpisodeId,omitempty"`
	ServiceID            ServiceID         `json:"serviceId"`
	AreaID               string            `json:"areaId"`
	Start                time.Time         `json:"start"`
	End                  time.Time         `json:"end"`
	Title                string            `json:"title"`
	Description          string            `json:"description,omitempty"`
	Genres               []string          `json:"genres,omitempty"`
	DurationISO          string            `json:"durationIso,omitempty"`
	Location             string            `json:"location,omitempty"`
	URLs                 []string          `json:"urls,omitempty"`
	DetailedDescription  map[string]string `json:"detailedDescription,omitempty"`
	MusicList            []MusicItem       `json:"musicList,omitempty"`
}

// Duration returns End-Start; callers must already have checked End.After(Start).
func (e BroadcastEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Reservation is the persisted union type. Kind discriminates which of the
// type-specific fields below are meaningful; apart from SeriesID, a
// reservation never carries fields from both variants populated meaningfully.
type Reservation struct {
	ID        string          `json:"id"`
	Kind      ReservationKind `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`

	// SingleEvent fields.
	Event       BroadcastEvent    `json:"event,omitempty"`
	Status      ReservationStatus `json:"status,omitempty"`
	RecordingID string            `json:"recordingId,omitempty"`
	WatchID     string            `json:"watchId,omitempty"` // set when materialised from a SeriesWatch

	// SeriesWatch fields. SeriesID is also set on SingleEvent reservations,
	// naming the event's series; the API's duplicate check compares it.
	SeriesID  string          `json:"seriesId,omitempty"`
	SeriesCode string          `json:"seriesCode,omitempty"`
	AreaFilter string          `json:"areaFilter,omitempty"`
	SeenEvents map[string]bool `json:"seenEvents,omitempty"`

	// Display fields carried on a SeriesWatch, copied onto materialised
	// children when upstream doesn't supply better data.
	DisplayTitle string `json:"displayTitle,omitempty"`
}

// IsSingleEvent reports whether this reservation is the SingleEvent variant.
func (r *Reservation) IsSingleEvent() bool { return r.Kind == KindSingleEvent }

// IsSeriesWatch reports whether this reservation is the SeriesWatch variant.
func (r *Reservation) IsSeriesWatch() bool { return r.Kind == KindSeriesWatch }

// HasSeen reports whether a broadcast event id has already been
// materialised into a child reservation.
func (r *Reservation) HasSeen(broadcastEventID string) bool {
	return r.SeenEvents != nil && r.SeenEvents[broadcastEventID]
}

// MarkSeen extends the seen set, allocating it on first use.
func (r *Reservation) MarkSeen(broadcastEventID string) {
	if r.SeenEvents == nil {
		r.SeenEvents = make(map[string]bool)
	}
	r.SeenEvents[broadcastEventID] = true
}

// Recording is a committed, durable capture. Visible through ApiSurface only
// after CaptureWorker's atomic commit.
type Recording struct {
	ID            string            `json:"id"`
	ReservationID string            `json:"reservationId"`
	Event         BroadcastEvent    `json:"event"`
	Dir           string            `json:"dir"` // relative to recordings root
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	SizeBytes     int64             `json:"sizeBytes"`
	DurationSec   float64           `json:"durationSec"`
}

// CapturePlanState is the CapturePlan lifecycle. Only arming->running and
// the three terminal transitions cross goroutine boundaries; all others
// happen under the scheduler's single lock.
type CapturePlanState string

const (
	PlanScheduled   CapturePlanState = "scheduled"
	PlanArming      CapturePlanState = "arming"
	PlanRunning     CapturePlanState = "running"
	PlanFinalising  CapturePlanState = "finalising"
	PlanCommitted   CapturePlanState = "committed"
	PlanFailed      CapturePlanState = "failed"
	PlanCanceled    CapturePlanState = "canceled"
)

// IsTerminal reports whether a CapturePlan state is final.
func (s CapturePlanState) IsTerminal() bool {
	switch s {
	case PlanCommitted, PlanFailed, PlanCanceled:
		return true
	}
	return false
}

// CapturePlan is transient, scheduler-private state: exactly one may exist
// per reservation id at a time.
type CapturePlan struct {
	ReservationID string
	Event         BroadcastEvent
	Start         time.Time
	End           time.Time
	SourceURL     string
	OutputDir     string
	State         CapturePlanState
	Cancel        func()
}
