package api

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nhkrec/internal/convert"
	"nhkrec/internal/model"
)

const fakeRemuxerScript = `#!/bin/sh
printf 'CONTAINER-BYTES'
exit 0
`

func writeFakeRemuxerBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ffmpeg.sh")
	require.NoError(t, os.WriteFile(path, []byte(fakeRemuxerScript), 0o755))
	return path
}

func commitFakeRecording(t *testing.T, srv *Server, id string) *model.Recording {
	t.Helper()
	stagingDir := filepath.Join(srv.store.StagingRoot(), id)
	require.NoError(t, os.MkdirAll(filepath.Join(stagingDir, "segments"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "recording.m3u8"), []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "segments", "00000.ts"), []byte("ts-data"), 0o644))

	rec := &model.Recording{
		ID:        id,
		Event:     model.BroadcastEvent{BroadcastEventID: "ev-" + id},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, srv.store.AtomicCommitRecording(context.Background(), rec, stagingDir))
	got, err := srv.store.GetRecording(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestHandleListRecordingsEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	req := httptest.NewRequest("GET", "/recordings", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	require.JSONEq(t, `[]`, rr.Body.String())
}

func TestHandlePatchRecordingMetadataMerges(t *testing.T) {
	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	commitFakeRecording(t, srv, "rec1")

	req := httptest.NewRequest("PATCH", "/recordings/rec1/metadata", bytes.NewBufferString(`{"note":"great show"}`))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	require.Contains(t, rr.Body.String(), "great show")
}

func TestHandleDeleteRecordingRemovesIt(t *testing.T) {
	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	commitFakeRecording(t, srv, "rec1")

	req := httptest.NewRequest("DELETE", "/recordings/rec1", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 204, rr.Code)

	_, err := srv.store.GetRecording(context.Background(), "rec1")
	require.Error(t, err)
}

func TestHandleDownloadRecordingStreamsConvertedBytes(t *testing.T) {
	old := convert.Executable
	convert.Executable = writeFakeRemuxerBinary(t)
	defer func() { convert.Executable = old }()

	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	commitFakeRecording(t, srv, "rec1")

	req := httptest.NewRequest("GET", "/recordings/rec1/download", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	require.Equal(t, "CONTAINER-BYTES", rr.Body.String())
}

func TestHandleDownloadRecordingMissingIsNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	req := httptest.NewRequest("GET", "/recordings/missing/download", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 404, rr.Code)
}

func TestHandleBulkDownloadRecordingsBuildsDeterministicZip(t *testing.T) {
	old := convert.Executable
	convert.Executable = writeFakeRemuxerBinary(t)
	defer func() { convert.Executable = old }()

	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	commitFakeRecording(t, srv, "rec1")
	commitFakeRecording(t, srv, "rec2")

	req := httptest.NewRequest("POST", "/recordings/bulk-download", bytes.NewBufferString(`{"ids":["rec1","rec2"]}`))
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)

	zr, err := zip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	require.Equal(t, "rec1.aac", zr.File[0].Name)
	require.Equal(t, "rec2.aac", zr.File[1].Name)
	require.Equal(t, zip.Store, zr.File[0].Method)

	f, err := zr.File[0].Open()
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, "CONTAINER-BYTES", string(data))
}

func TestHandleRecordingPlaylistServesStaticFile(t *testing.T) {
	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	commitFakeRecording(t, srv, "rec1")

	req := httptest.NewRequest("GET", "/recordings/rec1/recording.m3u8", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	require.Contains(t, rr.Body.String(), "#EXTM3U")
}

func TestHandleRecordingSegmentServesStaticFile(t *testing.T) {
	srv := newTestServer(t, &fakeUpstreamSource{}, &fakeSchedulerControl{})
	commitFakeRecording(t, srv, "rec1")

	req := httptest.NewRequest("GET", "/recordings/rec1/segments/00000.ts", nil)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
	require.Equal(t, "ts-data", rr.Body.String())
}
