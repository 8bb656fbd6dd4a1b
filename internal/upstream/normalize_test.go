package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTimestampCompactJST(t *testing.T) {
	ts, ok := parseTimestamp("20260101090000")
	require.True(t, ok)
	jst, _ := time.LoadLocation("Asia/Tokyo")
	want := time.Date(2026, 1, 1, 9, 0, 0, 0, jst).UTC()
	require.True(t, ts.Equal(want))
}

func TestParseTimestampEpochSeconds(t *testing.T) {
	ts, ok := parseTimestamp(float64(1735689600))
	require.True(t, ok)
	require.Equal(t, int64(1735689600), ts.Unix())
}

func TestParseTimestampISOWithOffset(t *testing.T) {
	ts, ok := parseTimestamp("2026-01-01T09:00:00+09:00")
	require.True(t, ok)
	require.Equal(t, 0, ts.Hour())
}

func TestNormalizeServiceSubstringMatch(t *testing.T) {
	s, ok := normalizeService("NHK-R1-TOKYO")
	require.True(t, ok)
	require.EqualValues(t, "r1", s)

	s, ok = normalizeService("rs")
	require.True(t, ok)
	require.EqualValues(t, "r2", s)
}

func TestExtractEventsSkipsMissingServiceID(t *testing.T) {
	payload := map[string]any{
		"result": []any{
			map[string]any{
				"name":      "No Service",
				"startDate": "2026-01-01T00:00:00Z",
				"endDate":   "2026-01-01T01:00:00Z",
			},
		},
	}
	events := extractEvents(payload)
	require.Empty(t, events)
}

func TestExtractEventsCarriesMusicList(t *testing.T) {
	payload := map[string]any{
		"result": []any{
			map[string]any{
				"name":      "Music Hour",
				"startDate": "2026-01-01T00:00:00Z",
				"endDate":   "2026-01-01T01:00:00Z",
				"identifierGroup": map[string]any{
					"broadcastEventId": "E1",
					"serviceId":        "r1",
					"areaId":           "tokyo",
				},
				"misc": map[string]any{
					"musicList": []any{
						map[string]any{
							"name":     "Song A",
							"byArtist": []any{map[string]any{"name": "Artist A", "role": "vocal"}},
						},
					},
				},
			},
		},
	}
	events := extractEvents(payload)
	require.Len(t, events, 1)
	require.Len(t, events[0].MusicList, 1)
	require.Equal(t, "Song A", events[0].MusicList[0].Name)
	require.Equal(t, "Artist A", events[0].MusicList[0].ByArtist[0].Name)
}
