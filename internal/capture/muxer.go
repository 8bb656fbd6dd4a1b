package capture

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nhkrec/internal/apperr"
	"nhkrec/internal/log"
)

// MuxerSpec is the known argument contract CaptureWorker hands to the
// external segment muxer: an input URL, an output playlist path, a segment
// filename template, a target segment duration, and the total capture
// duration. No video stream, no re-encoding, reconnect on network errors.
type MuxerSpec struct {
	SourceURL       string
	PlaylistPath    string
	SegmentPattern  string
	SegmentDuration time.Duration
	TotalDuration   time.Duration
}

// MuxerExecutable is the path to the external segment-muxer binary
// (ffmpeg in practice), configured at start-up.
var MuxerExecutable = "ffmpeg"

func buildArgs(spec MuxerSpec) []string {
	return []string{
		"-nostats",
		"-loglevel", "error",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_on_network_error", "1",
		"-reconnect_at_eof", "1",
		"-rw_timeout", "15000000",
		"-i", spec.SourceURL,
		"-vn",
		"-c", "copy",
		"-t", fmt.Sprintf("%.3f", spec.TotalDuration.Seconds()),
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", int(spec.SegmentDuration.Seconds())),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", spec.SegmentPattern,
		"-y",
		spec.PlaylistPath,
	}
}

// Handle supervises one running muxer subprocess.
type Handle struct {
	cmd    *exec.Cmd
	done   chan error
	logger zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

// ringBuffer keeps the last few stderr lines for diagnostics without
// growing unbounded on a noisy or stuck muxer.
type ringBuffer struct {
	lines []string
	cap   int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) add(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Start spawns the muxer and begins supervising its stderr in the
// background. The returned Handle's Done channel receives the process's
// exit error (nil on clean exit) exactly once.
func Start(ctx context.Context, spec MuxerSpec) (*Handle, error) {
	if err := ensureDir(filepath.Dir(spec.PlaylistPath)); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, MuxerExecutable, buildArgs(spec)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperr.Wrap(apperr.CaptureFailed, err, "open muxer stderr pipe")
	}

	h := &Handle{
		cmd:    cmd,
		done:   make(chan error, 1),
		logger: log.WithComponent("capture.muxer"),
	}

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.CaptureFailed, err, "spawn muxer process")
	}

	go h.monitor(stderr)
	go func() {
		h.done <- cmd.Wait()
	}()

	return h, nil
}

func (h *Handle) monitor(stderr interface {
	Read(p []byte) (n int, err error)
}) {
	buf := newRingBuffer(50)
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		buf.add(line)
		h.logger.Debug().Str("muxer_stderr", line).Msg("muxer output")
	}
}

// Done returns a channel that receives the process's exit error exactly
// once, nil on a clean exit.
func (h *Handle) Done() <-chan error { return h.done }

// Stop requests graceful termination (SIGTERM), then escalates to SIGKILL
// if the process has not exited within grace.
func (h *Handle) Stop(grace time.Duration) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	if h.cmd.Process == nil {
		return
	}
	_ = h.cmd.Process.Signal(osInterruptSignal())

	// Kill after an exit that Wait has already reaped is a harmless no-op.
	time.AfterFunc(grace, func() {
		_ = h.cmd.Process.Kill()
	})
}
