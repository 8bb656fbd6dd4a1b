package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nhkrec/internal/model"
	"nhkrec/internal/store"
)

type fakeUpstreamSource struct {
	series     []model.Series
	events     []model.BroadcastEvent
	eventsErr  error
	resolveErr error
}

func (f *fakeUpstreamSource) ListSeries(ctx context.Context) ([]model.Series, error) {
	return f.series, nil
}

func (f *fakeUpstreamSource) ResolveSeriesCode(ctx context.Context, seriesURL string) (string, error) {
	for _, s := range f.series {
		if s.URL == seriesURL {
			return s.SeriesCode, nil
		}
	}
	return "", f.resolveErr
}

func (f *fakeUpstreamSource) ResolveSeriesID(ctx context.Context, seriesCode, seriesURL string) (string, error) {
	for _, s := range f.series {
		if seriesCode != "" && s.SeriesCode == seriesCode {
			return s.SeriesID, nil
		}
		if seriesURL != "" && s.URL == seriesURL {
			return s.SeriesID, nil
		}
	}
	return "", f.resolveErr
}

func (f *fakeUpstreamSource) FetchEvents(ctx context.Context, seriesID string, horizon time.Duration) ([]model.BroadcastEvent, error) {
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events, nil
}

type fakeSchedulerControl struct {
	triggered int
	canceled  []string
}

func (f *fakeSchedulerControl) TriggerReconcile() { f.triggered++ }
func (f *fakeSchedulerControl) CancelForReservation(id string) {
	f.canceled = append(f.canceled, id)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return st
}

func newTestServer(t *testing.T, up *fakeUpstreamSource, sched *fakeSchedulerControl) *Server {
	t.Helper()
	return New(Config{}, newTestStore(t), up, sched)
}
