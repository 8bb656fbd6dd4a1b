package hls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:6.000000,
00000.ts
#EXTINF:6.000000,
00001.ts
#EXTINF:3.500000,
00002.ts
#EXT-X-ENDLIST
`

func TestParsePlaylist(t *testing.T) {
	pl, err := Parse(samplePlaylist)
	require.NoError(t, err)
	require.True(t, pl.HasEndList)
	require.Len(t, pl.Segments, 3)
	require.Equal(t, "00002.ts", pl.Segments[2].URI)
	require.InDelta(t, 15.5, pl.TotalDuration(), 0.001)
}

func TestParsePlaylistNoSegmentsNoEndList(t *testing.T) {
	pl, err := Parse("#EXTM3U\n#EXT-X-TARGETDURATION:6\n")
	require.NoError(t, err)
	require.False(t, pl.HasEndList)
	require.Empty(t, pl.Segments)
}
