// Package convert is the on-demand download-time collaborator ApiSurface
// calls to turn a committed recording's staged HLS tree into a single
// streamed container file, the way internal/capture/muxer.go spawns the
// capture-time muxer: one external process, stream-copied, no re-encode.
package convert

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"nhkrec/internal/apperr"
	"nhkrec/internal/log"
)

// Executable is the path to the external remuxer binary (ffmpeg in
// practice). It defaults to "ffmpeg", as capture.MuxerExecutable does; the
// daemon's --muxer setting changes only capture.MuxerExecutable, not this.
var Executable = "ffmpeg"

// ToContainer remuxes the media playlist at playlistPath into a single
// container, stream-copied (never re-encoded), and writes it to w as it
// becomes available. format is an ffmpeg output format name, e.g. "adts".
func ToContainer(ctx context.Context, playlistPath, format string, w io.Writer) error {
	logger := log.WithComponent("convert")
	cmd := exec.CommandContext(ctx, Executable,
		"-nostats",
		"-loglevel", "error",
		"-i", playlistPath,
		"-vn",
		"-c", "copy",
		"-f", format,
		"-",
	)
	cmd.Stdout = w

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "open remux stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return apperr.Wrap(apperr.Internal, err, "spawn remux process")
	}

	errOutput, _ := io.ReadAll(stderr)
	if err := cmd.Wait(); err != nil {
		logger.Error().Err(err).Str("stderr", string(errOutput)).Str("playlist", playlistPath).Msg("remux failed")
		return apperr.Wrap(apperr.Internal, err, "remux process failed")
	}
	return nil
}

// ContentType returns the MIME type associated with an ffmpeg output
// format name, for the Content-Type response header.
func ContentType(format string) string {
	switch format {
	case "adts":
		return "audio/aac"
	case "mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// FileName builds the downloadable file's name for recordingID in format.
func FileName(recordingID, format string) string {
	ext := format
	if format == "adts" {
		ext = "aac"
	}
	return fmt.Sprintf("%s.%s", recordingID, ext)
}
