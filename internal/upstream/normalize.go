package upstream

import (
	"strconv"
	"strings"
	"time"

	"nhkrec/internal/apperr"
	"nhkrec/internal/model"
)

// Candidate field-name tables, tried in order, for each canonical field.
// Upstream payload shapes vary by endpoint and have drifted over time; this
// is the explicit normaliser spec.md calls for in place of duck-typed field
// discovery.
var (
	startKeys   = []string{"startDate", "start", "start_time", "startTime"}
	endKeys     = []string{"endDate", "end", "end_time", "endTime"}
	titleKeys   = []string{"name", "title", "programTitle"}
	idKeys      = []string{"broadcastEventId", "broadcast_event_id", "id", "eventId"}
	seriesKeys  = []string{"radioSeriesId", "seriesId", "series_id"}
	episodeKeys = []string{"radioEpisodeId", "episodeId", "episode_id"}
	serviceKeys = []string{"serviceId", "service_id", "service"}
	areaKeys    = []string{"areaId", "area_id", "area"}
)

// walk recursively yields every object (map[string]any) reachable from root,
// depth-first, the way a heterogeneous-JSON duck-typed scan would, but here
// only to find normaliser candidates rather than to extract fields ad hoc.
func walk(v any, yield func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		yield(t)
		for _, child := range t {
			walk(child, yield)
		}
	case []any:
		for _, child := range t {
			walk(child, yield)
		}
	}
}

func firstString(obj map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func firstOf(obj map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// parseTimestamp accepts ISO-8601 (with or without fractional seconds, with
// trailing Z or an explicit offset), the compact YYYYMMDDHHMMSS form
// (interpreted in Asia/Tokyo), or numeric epoch seconds.
func parseTimestamp(raw any) (time.Time, bool) {
	jst, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		jst = time.UTC
	}

	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		layouts := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
		if len(s) == 14 && isAllDigits(s) {
			if t, err := time.ParseInLocation("20060102150405", s, jst); err == nil {
				return t.UTC(), true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizeService maps a raw service identifier to the closed ServiceID
// set by case-insensitive substring match, folding r3 into fm per the fixed
// service-id mapping.
func normalizeService(raw string) (model.ServiceID, bool) {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "r1"):
		return model.ServiceR1, true
	case strings.Contains(lower, "r2"), strings.Contains(lower, "rs"):
		return model.ServiceR2, true
	case strings.Contains(lower, "fm"), strings.Contains(lower, "r3"):
		return model.ServiceFM, true
	}
	return "", false
}

// extractEvents walks an arbitrary JSON payload and returns every object
// that looks like a broadcast event: something carrying both a start-like
// and end-like timestamp. Objects missing a required field, with
// unparseable timestamps, or with end<=start are skipped rather than
// surfaced as UpstreamMalformed. An unrecognised payload shape is not
// reported as malformed either: FetchEvents returns a payload with zero
// extractable events as an empty result.
func extractEvents(payload any) []model.BroadcastEvent {
	var events []model.BroadcastEvent
	walk(payload, func(obj map[string]any) {
		startRaw, ok := firstOf(obj, startKeys)
		if !ok {
			return
		}
		start, ok := parseTimestamp(startRaw)
		if !ok {
			return
		}
		endRaw, ok := firstOf(obj, endKeys)
		if !ok {
			return
		}
		end, ok := parseTimestamp(endRaw)
		if !ok {
			return
		}
		if !end.After(start) {
			return
		}

		serviceRaw, ok := firstString(obj, serviceKeys)
		if !ok {
			if idGroup, ok := obj["identifierGroup"].(map[string]any); ok {
				serviceRaw, _ = firstString(idGroup, serviceKeys)
			}
		}
		service, ok := normalizeService(serviceRaw)
		if !ok {
			return
		}

		areaRaw, ok := firstString(obj, areaKeys)
		if !ok {
			if idGroup, ok := obj["identifierGroup"].(map[string]any); ok {
				areaRaw, _ = firstString(idGroup, areaKeys)
			}
		}
		area := strings.ToLower(areaRaw)

		id, _ := firstString(obj, idKeys)
		if id == "" {
			if idGroup, ok := obj["identifierGroup"].(map[string]any); ok {
				id, _ = firstString(idGroup, idKeys)
			}
		}
		title, _ := firstString(obj, titleKeys)
		seriesID, _ := firstString(obj, seriesKeys)
		episodeID, _ := firstString(obj, episodeKeys)
		description, _ := firstString(obj, []string{"description"})

		events = append(events, model.BroadcastEvent{
			BroadcastEventID: id,
			RadioSeriesID:    seriesID,
			RadioEpisodeID:   episodeID,
			ServiceID:        service,
			AreaID:           area,
			Start:            start,
			End:              end,
			Title:            title,
			Description:      description,
			DetailedDescription: extractDetailedDescription(obj),
			MusicList:           extractMusicList(obj),
		})
	})
	return events
}

// extractDetailedDescription pulls NHK's detailedDescription string map,
// dropping non-string entries and blank values.
func extractDetailedDescription(obj map[string]any) map[string]string {
	raw, ok := obj["detailedDescription"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// extractMusicList pulls NHK's misc.musicList block into MusicItems, purely
// additive display metadata.
func extractMusicList(obj map[string]any) []model.MusicItem {
	misc, ok := obj["misc"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := misc["musicList"].([]any)
	if !ok {
		return nil
	}
	var items []model.MusicItem
	for _, entryRaw := range raw {
		entry, ok := entryRaw.(map[string]any)
		if !ok {
			continue
		}
		item := model.MusicItem{}
		item.Name, _ = firstString(entry, []string{"name"})
		item.NameRuby, _ = firstString(entry, []string{"nameruby"})
		item.Lyricist, _ = firstString(entry, []string{"lyricist"})
		item.Composer, _ = firstString(entry, []string{"composer"})
		item.Arranger, _ = firstString(entry, []string{"arranger"})
		item.Location, _ = firstString(entry, []string{"location"})
		item.Provider, _ = firstString(entry, []string{"provider"})
		item.Label, _ = firstString(entry, []string{"label"})
		item.Duration, _ = firstString(entry, []string{"duration"})
		item.Code, _ = firstString(entry, []string{"code"})
		if artistsRaw, ok := entry["byArtist"].([]any); ok {
			for _, artistRaw := range artistsRaw {
				artist, ok := artistRaw.(map[string]any)
				if !ok {
					continue
				}
				name, ok := firstString(artist, []string{"name"})
				if !ok {
					continue
				}
				role, _ := firstString(artist, []string{"role"})
				part, _ := firstString(artist, []string{"part"})
				item.ByArtist = append(item.ByArtist, model.MusicArtist{Name: name, Role: role, Part: part})
			}
		}
		items = append(items, item)
	}
	return items
}

// isNotFoundPayload treats an HTTP 404, or a payload-level {error:{code:404}}
// shaped body, as a successful empty result.
func isNotFoundPayload(payload map[string]any) bool {
	errBlock, ok := payload["error"].(map[string]any)
	if !ok {
		return false
	}
	for _, key := range []string{"statuscode", "code", "status"} {
		if v, ok := errBlock[key]; ok {
			switch n := v.(type) {
			case float64:
				if int(n) == 404 {
					return true
				}
			case string:
				if n == "404" {
					return true
				}
			}
		}
	}
	return false
}

func malformed(reason string) error {
	return apperr.New(apperr.UpstreamMalformed, reason)
}
