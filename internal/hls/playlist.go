// Package hls parses and validates the HLS media playlists CaptureWorker
// produces, line-scanning in the same style the rest of this codebase uses
// for other line-oriented text formats.
package hls

import (
	"bufio"
	"strconv"
	"strings"
)

// Segment is one #EXTINF entry in a media playlist.
type Segment struct {
	DurationSeconds float64
	URI             string
}

// Playlist is the subset of HLS media-playlist state CaptureWorker's commit
// policy needs: the segment list and whether an end marker is present.
type Playlist struct {
	TargetDuration float64
	Segments       []Segment
	HasEndList     bool
}

// TotalDuration sums every segment's declared duration.
func (p Playlist) TotalDuration() float64 {
	var total float64
	for _, s := range p.Segments {
		total += s.DurationSeconds
	}
	return total
}

// Parse reads an HLS media playlist from content. Unknown tags are ignored,
// and so is an #EXTINF whose duration does not parse (its URI line is then
// dropped too); the only error returned is a read error from the scanner.
func Parse(content string) (Playlist, error) {
	var pl Playlist
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var pendingDuration float64
	haveDuration := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v := strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:")
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				pl.TargetDuration = f
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			v := strings.TrimPrefix(line, "#EXTINF:")
			v = strings.TrimSuffix(v, ",")
			if idx := strings.Index(v, ","); idx >= 0 {
				v = v[:idx]
			}
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				pendingDuration = f
				haveDuration = true
			}
		case line == "#EXT-X-ENDLIST":
			pl.HasEndList = true
		case strings.HasPrefix(line, "#"):
			// Unknown tag; ignored.
		default:
			// URI line following an #EXTINF.
			if haveDuration {
				pl.Segments = append(pl.Segments, Segment{DurationSeconds: pendingDuration, URI: line})
				haveDuration = false
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Playlist{}, err
	}
	return pl, nil
}
