package api

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"nhkrec/internal/apperr"
	"nhkrec/internal/convert"
	"nhkrec/internal/model"
)

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recordings, err := s.store.ListRecordings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if recordings == nil {
		recordings = []*model.Recording{}
	}
	writeJSON(w, http.StatusOK, recordings)
}

func (s *Server) handlePatchRecordingMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "malformed JSON body"))
		return
	}
	rec, err := s.store.UpdateRecordingMetadata(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteRecording(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadRecording streams a single recording's HLS tree remuxed
// into one container file, the external converter reading the stored
// playlist directly rather than buffering the whole file in memory.
func (s *Server) handleDownloadRecording(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	playlistPath := filepath.Join(s.store.RecordingsRoot(), rec.Dir, "recording.m3u8")
	w.Header().Set("Content-Type", convert.ContentType(s.cfg.RemuxFormat))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", convert.FileName(rec.ID, s.cfg.RemuxFormat)))
	if err := convert.ToContainer(r.Context(), playlistPath, s.cfg.RemuxFormat, w); err != nil {
		s.logger.Error().Err(err).Str("recording_id", id).Msg("download remux failed mid-stream")
		return
	}
}

type bulkDownloadRequest struct {
	IDs []string `json:"ids"`
}

// handleBulkDownloadRecordings streams a ZIP of every requested recording,
// stored (uncompressed) entries in request order, each produced by the same
// on-demand converter the single-download path uses.
func (s *Server) handleBulkDownloadRecordings(w http.ResponseWriter, r *http.Request) {
	var req bulkDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.BadRequest, "malformed JSON body"))
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, apperr.New(apperr.BadRequest, "ids must not be empty").WithField("ids"))
		return
	}

	ctx := r.Context()
	recordings := make([]*model.Recording, 0, len(req.IDs))
	for _, id := range req.IDs {
		rec, err := s.store.GetRecording(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		recordings = append(recordings, rec)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="recordings.zip"`)

	zw := zip.NewWriter(w)
	defer zw.Close()

	for _, rec := range recordings {
		header := &zip.FileHeader{Name: convert.FileName(rec.ID, s.cfg.RemuxFormat), Method: zip.Store}
		entry, err := zw.CreateHeader(header)
		if err != nil {
			s.logger.Error().Err(err).Str("recording_id", rec.ID).Msg("failed to open zip entry")
			return
		}
		playlistPath := filepath.Join(s.store.RecordingsRoot(), rec.Dir, "recording.m3u8")
		if err := convert.ToContainer(ctx, playlistPath, s.cfg.RemuxFormat, entry); err != nil {
			s.logger.Error().Err(err).Str("recording_id", rec.ID).Msg("bulk download remux failed mid-stream")
			return
		}
	}
}

// handleRecordingPlaylist and handleRecordingSegment serve a committed
// recording's HLS tree read-only, confined to its own directory, so a
// browser's HLS player can consume playlist + segments directly.
func (s *Server) handleRecordingPlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	path := filepath.Join(s.store.RecordingsRoot(), rec.Dir, "recording.m3u8")
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	http.ServeFile(w, r, path)
}

func (s *Server) handleRecordingSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	segment := chi.URLParam(r, "segment")
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	path := filepath.Join(s.store.RecordingsRoot(), rec.Dir, "segments", filepath.Base(segment))
	w.Header().Set("Content-Type", "video/mp2t")
	http.ServeFile(w, r, path)
}
