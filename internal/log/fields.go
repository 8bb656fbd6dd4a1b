package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldReservationID = "reservation_id"
	FieldRecordingID   = "recording_id"
	FieldRequestID     = "request_id"
	FieldSeriesID      = "series_id"
	FieldBroadcastID   = "broadcast_event_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Capture fields
	FieldServiceID  = "service_id"
	FieldAreaID     = "area_id"
	FieldSourceURL  = "source_url"
	FieldOutputDir  = "output_dir"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath         = "path"
	FieldBaseURL      = "base_url"
	FieldPlaylistPath = "playlist_path"
)
