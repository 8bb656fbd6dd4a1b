// Package store implements the durable catalogue of reservations and
// recordings: one JSON file, replaced atomically on every mutation, guarded
// by a single reader-writer mutex. Durability follows the same
// temp-file+fsync+rename discipline the rest of this codebase uses for
// other generated artefacts, via google/renameio.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"nhkrec/internal/apperr"
	"nhkrec/internal/log"
	"nhkrec/internal/metrics"
	"nhkrec/internal/model"
)

const catalogueFile = "catalogue.json"

// catalogue is the on-disk shape of catalogue.json.
type catalogue struct {
	Reservations map[string]*model.Reservation `json:"reservations"`
	Recordings   map[string]*model.Recording   `json:"recordings"`
}

// Store is the single catalogue of reservations and recordings, backed by
// dataRoot/catalogue.json. All mutating methods replace the whole file
// atomically; reads operate on an in-memory snapshot guarded by mu.
type Store struct {
	mu       sync.RWMutex
	dataRoot string
	cat      catalogue
	logger   zerolog.Logger
}

// RecordingsRoot returns the directory committed recordings live under.
func (s *Store) RecordingsRoot() string { return filepath.Join(s.dataRoot, "recordings") }

// StagingRoot returns the directory CaptureWorker stages output in.
func (s *Store) StagingRoot() string { return filepath.Join(s.dataRoot, "staging") }

// Open loads (or initialises) the catalogue at dataRoot, reconciling
// on-disk recording directories against catalogue rows: directories with no
// matching row are removed; rows whose directory is missing are dropped
// (recordings have no "failed" status of their own), since a Recording's
// visibility is conditioned on its on-disk tree existing.
func Open(dataRoot string) (*Store, error) {
	s := &Store{
		dataRoot: dataRoot,
		cat: catalogue{
			Reservations: make(map[string]*model.Reservation),
			Recordings:   make(map[string]*model.Recording),
		},
		logger: log.WithComponent("store"),
	}

	for _, dir := range []string{s.dataRoot, s.RecordingsRoot(), s.StagingRoot()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.StorageIO, err, "create data directory")
		}
	}

	path := filepath.Join(s.dataRoot, catalogueFile)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fresh appliance; nothing to load.
	case err != nil:
		return nil, apperr.Wrap(apperr.StorageIO, err, "read catalogue")
	default:
		if err := json.Unmarshal(data, &s.cat); err != nil {
			return nil, apperr.Wrap(apperr.StorageIO, err, "parse catalogue")
		}
		if s.cat.Reservations == nil {
			s.cat.Reservations = make(map[string]*model.Reservation)
		}
		if s.cat.Recordings == nil {
			s.cat.Recordings = make(map[string]*model.Recording)
		}
	}

	if err := s.reconcileDirectories(); err != nil {
		return nil, err
	}

	// Clear any staging leftovers from a crash; they were never committed.
	entries, _ := os.ReadDir(s.StagingRoot())
	for _, e := range entries {
		_ = os.RemoveAll(filepath.Join(s.StagingRoot(), e.Name()))
	}

	return s, nil
}

func (s *Store) reconcileDirectories() error {
	entries, err := os.ReadDir(s.RecordingsRoot())
	if err != nil {
		return apperr.Wrap(apperr.StorageIO, err, "list recordings root")
	}
	onDisk := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			onDisk[e.Name()] = true
		}
	}
	for id, rec := range s.cat.Recordings {
		if !onDisk[filepath.Base(rec.Dir)] {
			s.logger.Warn().Str("recording_id", id).Msg("catalogue row missing on-disk directory; dropping")
			delete(s.cat.Recordings, id)
		}
	}
	for name := range onDisk {
		found := false
		for _, rec := range s.cat.Recordings {
			if filepath.Base(rec.Dir) == name {
				found = true
				break
			}
		}
		if !found {
			s.logger.Warn().Str("dir", name).Msg("orphaned recording directory; removing")
			_ = os.RemoveAll(filepath.Join(s.RecordingsRoot(), name))
		}
	}
	return nil
}

// persist writes the in-memory catalogue to disk atomically. Callers must
// hold s.mu (write lock).
func (s *Store) persist() error {
	data, err := json.MarshalIndent(&s.cat, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "marshal catalogue")
	}
	path := filepath.Join(s.dataRoot, catalogueFile)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return apperr.Wrap(apperr.StorageIO, err, "write catalogue")
	}
	return nil
}

// ListReservations returns all reservations ordered by CreatedAt ascending.
func (s *Store) ListReservations(ctx context.Context) ([]*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Reservation, 0, len(s.cat.Reservations))
	for _, r := range s.cat.Reservations {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetReservation returns a reservation by id, or NotFound.
func (s *Store) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.cat.Reservations[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "reservation %s not found", id)
	}
	cp := *r
	return &cp, nil
}

// PutReservation inserts or replaces a reservation and persists.
func (s *Store) PutReservation(ctx context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, existed := s.cat.Reservations[r.ID]
	cp := *r
	s.cat.Reservations[r.ID] = &cp
	if err := s.persist(); err != nil {
		if existed {
			s.cat.Reservations[r.ID] = old
		} else {
			delete(s.cat.Reservations, r.ID)
		}
		return err
	}
	if !existed {
		metrics.ReservationsCreatedTotal.WithLabelValues(string(r.Kind)).Inc()
	}
	return nil
}

// PutReservations inserts or replaces several reservations in one
// transaction (one catalogue write), used by reconciliation when
// materialising series-watch children alongside extending the parent's seen
// set.
func (s *Store) PutReservations(ctx context.Context, rs []*model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := make(map[string]*model.Reservation, len(rs))
	for _, r := range rs {
		prev[r.ID] = s.cat.Reservations[r.ID]
		cp := *r
		s.cat.Reservations[r.ID] = &cp
	}
	if err := s.persist(); err != nil {
		for id, old := range prev {
			if old == nil {
				delete(s.cat.Reservations, id)
			} else {
				s.cat.Reservations[id] = old
			}
		}
		return err
	}
	for _, r := range rs {
		if prev[r.ID] == nil {
			metrics.ReservationsCreatedTotal.WithLabelValues(string(r.Kind)).Inc()
		}
	}
	return nil
}

// DeleteReservation removes a reservation and persists.
func (s *Store) DeleteReservation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.cat.Reservations[id]
	if !ok {
		return apperr.Newf(apperr.NotFound, "reservation %s not found", id)
	}
	delete(s.cat.Reservations, id)
	if err := s.persist(); err != nil {
		s.cat.Reservations[id] = old
		return err
	}
	metrics.ReservationsDeletedTotal.WithLabelValues(string(old.Kind)).Inc()
	return nil
}

// ListRecordings returns all recordings ordered by CreatedAt ascending.
func (s *Store) ListRecordings(ctx context.Context) ([]*model.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Recording, 0, len(s.cat.Recordings))
	for _, r := range s.cat.Recordings {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetRecording returns a recording by id, or NotFound.
func (s *Store) GetRecording(ctx context.Context, id string) (*model.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.cat.Recordings[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "recording %s not found", id)
	}
	cp := *r
	return &cp, nil
}

// UpdateRecordingMetadata merges patch into the recording's free-form
// metadata map and persists.
func (s *Store) UpdateRecordingMetadata(ctx context.Context, id string, patch map[string]string) (*model.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.cat.Recordings[id]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "recording %s not found", id)
	}
	old := *r
	if r.Metadata == nil {
		r.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		r.Metadata[k] = v
	}
	if err := s.persist(); err != nil {
		s.cat.Recordings[id] = &old
		return nil, err
	}
	cp := *r
	return &cp, nil
}

// DeleteRecording removes the catalogue row and the on-disk directory. The
// directory is removed only after the catalogue write succeeds, so a crash
// between the two leaves an orphan directory that Open's reconciliation
// will clean up on next start, never a dangling catalogue row.
func (s *Store) DeleteRecording(ctx context.Context, id string) error {
	s.mu.Lock()
	old, ok := s.cat.Recordings[id]
	if !ok {
		s.mu.Unlock()
		return apperr.Newf(apperr.NotFound, "recording %s not found", id)
	}
	delete(s.cat.Recordings, id)
	if err := s.persist(); err != nil {
		s.cat.Recordings[id] = old
		s.mu.Unlock()
		return err
	}
	dir := filepath.Join(s.RecordingsRoot(), filepath.Base(old.Dir))
	s.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Error().Err(err).Str("recording_id", id).Msg("failed to remove recording directory after catalogue delete")
	}
	return nil
}

// AtomicCommitRecording moves stagingDir into the recordings root under
// rec.ID and inserts the catalogue row in one logical transaction: the
// directory rename happens first (cheap, same filesystem), then the
// catalogue write; if the catalogue write fails the directory is rolled
// back so nothing observable changes.
func (s *Store) AtomicCommitRecording(ctx context.Context, rec *model.Recording, stagingDir string) error {
	finalDir := filepath.Join(s.RecordingsRoot(), rec.ID)
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return apperr.Wrap(apperr.StorageIO, err, "commit recording directory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Dir = rec.ID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.cat.Recordings[rec.ID] = &cp
	if err := s.persist(); err != nil {
		delete(s.cat.Recordings, rec.ID)
		_ = os.Rename(finalDir, stagingDir)
		return err
	}
	return nil
}
