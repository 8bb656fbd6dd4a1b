package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nhkrec/internal/apperr"
	clockpkg "nhkrec/internal/clock"
	"nhkrec/internal/model"
	"nhkrec/internal/store"
)

type fakeUpstream struct {
	events         map[string][]model.BroadcastEvent
	eventsErr      error
	hlsSource      string
	hlsErr         error
	fetchCalls     int
	seriesCodeToID map[string]string
	resolveErr     error
}

func (f *fakeUpstream) ResolveSeriesID(ctx context.Context, seriesCode, seriesURL string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if id, ok := f.seriesCodeToID[seriesCode]; ok {
		return id, nil
	}
	return seriesCode, nil
}

func (f *fakeUpstream) FetchEvents(ctx context.Context, seriesID string, horizon time.Duration) ([]model.BroadcastEvent, error) {
	f.fetchCalls++
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events[seriesID], nil
}

func (f *fakeUpstream) FetchHLSSource(ctx context.Context, serviceID model.ServiceID, areaID string) (string, error) {
	if f.hlsErr != nil {
		return "", f.hlsErr
	}
	return f.hlsSource, nil
}

type fakeWorker struct {
	leadIn, tailOut time.Duration
	result          *model.Recording
	err             error
	started         chan *model.CapturePlan
}

func (f *fakeWorker) LeadIn() time.Duration  { return f.leadIn }
func (f *fakeWorker) TailOut() time.Duration { return f.tailOut }

func (f *fakeWorker) Run(ctx context.Context, plan *model.CapturePlan, onState func(model.CapturePlanState)) (*model.Recording, error) {
	if f.started != nil {
		f.started <- plan
	}
	onState(model.PlanArming)
	onState(model.PlanRunning)
	onState(model.PlanFinalising)
	if f.err != nil {
		return nil, f.err
	}
	onState(model.PlanCommitted)
	return f.result, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestReconcileArmsPendingSingleEventAndCommits(t *testing.T) {
	st := newTestStore(t)
	clk := clockpkg.NewFake(time.Now())

	ctx := context.Background()
	require.NoError(t, st.PutReservation(ctx, &model.Reservation{
		ID:        "res-1",
		Kind:      model.KindSingleEvent,
		CreatedAt: clk.Now(),
		Status:    model.StatusPending,
		Event: model.BroadcastEvent{
			BroadcastEventID: "ev-1",
			ServiceID:        model.ServiceR1,
			AreaID:           "tokyo",
			Start:             clk.Now().Add(time.Hour),
			End:               clk.Now().Add(2 * time.Hour),
			Title:             "Test Programme",
		},
	}))

	started := make(chan *model.CapturePlan, 1)
	worker := &fakeWorker{result: &model.Recording{ID: "rec-1", ReservationID: "res-1"}, started: started}
	up := &fakeUpstream{hlsSource: "http://example.invalid/r1.m3u8"}

	sched := New(Config{}, st, up, worker, clk)

	require.NoError(t, sched.reconcile(ctx))

	select {
	case plan := <-started:
		require.Equal(t, "res-1", plan.ReservationID)
		require.Equal(t, "http://example.invalid/r1.m3u8", plan.SourceURL)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker to start")
	}

	require.Eventually(t, func() bool { return sched.PlanCount() == 0 }, time.Second, 5*time.Millisecond)

	r, err := st.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	require.Equal(t, model.StatusDone, r.Status)
	require.Equal(t, "rec-1", r.RecordingID)
}

func TestReconcileMaterializesSeriesWatchChildren(t *testing.T) {
	st := newTestStore(t)
	clk := clockpkg.NewFake(time.Now())
	ctx := context.Background()

	require.NoError(t, st.PutReservation(ctx, &model.Reservation{
		ID:         "watch-1",
		Kind:       model.KindSeriesWatch,
		CreatedAt:  clk.Now(),
		SeriesID:   "series-1",
		SeriesCode: "s1",
	}))

	ev := model.BroadcastEvent{
		BroadcastEventID: "ev-1",
		ServiceID:        model.ServiceR1,
		AreaID:           "tokyo",
		Start:             clk.Now().Add(48 * time.Hour),
		End:               clk.Now().Add(49 * time.Hour),
		Title:             "Series Episode 1",
	}
	up := &fakeUpstream{
		events:         map[string][]model.BroadcastEvent{"series-1": {ev}},
		seriesCodeToID: map[string]string{"s1": "series-1"},
	}
	worker := &fakeWorker{leadIn: 5 * time.Second, tailOut: 30 * time.Second}

	sched := New(Config{}, st, up, worker, clk)
	require.NoError(t, sched.reconcile(ctx))

	reservations, err := st.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 2)

	watch, err := st.GetReservation(ctx, "watch-1")
	require.NoError(t, err)
	require.True(t, watch.HasSeen("ev-1"))

	var child *model.Reservation
	for _, r := range reservations {
		if r.IsSingleEvent() {
			child = r
		}
	}
	require.NotNil(t, child)
	require.Equal(t, "watch-1", child.WatchID)
	require.Equal(t, "ev-1", child.Event.BroadcastEventID)
	require.Equal(t, "series-1", child.SeriesID)

	// A second tick must not duplicate the already-seen event.
	require.NoError(t, sched.reconcile(ctx))
	reservations, err = st.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 2)
}

// TestReconcileMaterializesSeriesCodeOnlyWatch covers spec.md §8 scenario 3's
// literal shape: a watch carrying only series_code (no series_id) must still
// resolve to a fetchable series id and materialize children within one tick.
func TestReconcileMaterializesSeriesCodeOnlyWatch(t *testing.T) {
	st := newTestStore(t)
	clk := clockpkg.NewFake(time.Now())
	ctx := context.Background()

	require.NoError(t, st.PutReservation(ctx, &model.Reservation{
		ID:         "watch-1",
		Kind:       model.KindSeriesWatch,
		CreatedAt:  clk.Now(),
		SeriesCode: "Z9L1V2M24L",
	}))

	ev1 := model.BroadcastEvent{
		BroadcastEventID: "ev-1",
		ServiceID:        model.ServiceR1,
		AreaID:           "tokyo",
		Start:            clk.Now().Add(60 * time.Second),
		End:              clk.Now().Add(90 * time.Second),
		Title:            "Episode 1",
	}
	ev2 := model.BroadcastEvent{
		BroadcastEventID: "ev-2",
		ServiceID:        model.ServiceR1,
		AreaID:           "tokyo",
		Start:            clk.Now().Add(120 * time.Second),
		End:              clk.Now().Add(150 * time.Second),
		Title:            "Episode 2",
	}
	up := &fakeUpstream{
		events:         map[string][]model.BroadcastEvent{"9991": {ev1, ev2}},
		seriesCodeToID: map[string]string{"Z9L1V2M24L": "9991"},
	}
	worker := &fakeWorker{leadIn: 5 * time.Second, tailOut: 30 * time.Second}

	sched := New(Config{}, st, up, worker, clk)
	require.NoError(t, sched.reconcile(ctx))

	watch, err := st.GetReservation(ctx, "watch-1")
	require.NoError(t, err)
	require.True(t, watch.HasSeen("ev-1"))
	require.True(t, watch.HasSeen("ev-2"))

	reservations, err := st.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 3)

	// A second tick against the same upstream response creates no new children.
	require.NoError(t, sched.reconcile(ctx))
	reservations, err = st.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 3)
}

// TestReconcileSkipsSeriesCodeResolveFailure covers spec.md §8 scenario 4: an
// upstream 404 on resolution/fetch for a watched series_code is tolerated,
// not surfaced as a failure, and produces zero children.
func TestReconcileSkipsSeriesCodeResolveFailure(t *testing.T) {
	st := newTestStore(t)
	clk := clockpkg.NewFake(time.Now())
	ctx := context.Background()

	require.NoError(t, st.PutReservation(ctx, &model.Reservation{
		ID:         "watch-1",
		Kind:       model.KindSeriesWatch,
		CreatedAt:  clk.Now(),
		SeriesCode: "unknown-code",
	}))

	up := &fakeUpstream{resolveErr: apperr.Newf(apperr.NotFound, "no series matches the given code or url")}
	worker := &fakeWorker{leadIn: 5 * time.Second, tailOut: 30 * time.Second}

	sched := New(Config{}, st, up, worker, clk)
	require.NoError(t, sched.reconcile(ctx))

	reservations, err := st.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 1)

	watch, err := st.GetReservation(ctx, "watch-1")
	require.NoError(t, err)
	require.Empty(t, watch.SeenEvents)
}

func TestReconcileSkipsUpstreamErrorsWithoutMutating(t *testing.T) {
	st := newTestStore(t)
	clk := clockpkg.NewFake(time.Now())
	ctx := context.Background()

	require.NoError(t, st.PutReservation(ctx, &model.Reservation{
		ID:        "watch-1",
		Kind:      model.KindSeriesWatch,
		CreatedAt: clk.Now(),
		SeriesID:  "series-1",
	}))

	up := &fakeUpstream{eventsErr: errors.New("upstream unavailable")}
	worker := &fakeWorker{}
	sched := New(Config{}, st, up, worker, clk)

	require.NoError(t, sched.reconcile(ctx))
	require.Equal(t, 1, up.fetchCalls)

	reservations, err := st.ListReservations(ctx)
	require.NoError(t, err)
	require.Len(t, reservations, 1, "a failed fetch must not mutate the watch or create children")
}

func TestReconcileReapsPlanForDeletedReservation(t *testing.T) {
	st := newTestStore(t)
	clk := clockpkg.NewFake(time.Now())
	ctx := context.Background()

	require.NoError(t, st.PutReservation(ctx, &model.Reservation{
		ID:        "res-1",
		Kind:      model.KindSingleEvent,
		CreatedAt: clk.Now(),
		Status:    model.StatusPending,
		Event: model.BroadcastEvent{
			BroadcastEventID: "ev-1",
			ServiceID:        model.ServiceR1,
			AreaID:           "tokyo",
			Start:             clk.Now().Add(time.Hour),
			End:               clk.Now().Add(2 * time.Hour),
		},
	}))

	block := make(chan struct{})
	worker := &fakeWorkerBlocking{block: block}
	up := &fakeUpstream{hlsSource: "http://example.invalid/r1.m3u8"}
	sched := New(Config{}, st, up, worker, clk)

	require.NoError(t, sched.reconcile(ctx))
	require.Equal(t, 1, sched.PlanCount())

	require.NoError(t, st.DeleteReservation(ctx, "res-1"))
	require.NoError(t, sched.reconcile(ctx))
	require.Equal(t, 0, sched.PlanCount())

	close(block)
}

// fakeWorkerBlocking does not return until its plan's context is canceled
// or block is closed at the end of the test, simulating a real in-progress capture so reap's cancellation path is
// exercised rather than a race against a worker that finishes instantly.
type fakeWorkerBlocking struct {
	block chan struct{}
}

func (f *fakeWorkerBlocking) LeadIn() time.Duration  { return 0 }
func (f *fakeWorkerBlocking) TailOut() time.Duration { return 0 }

func (f *fakeWorkerBlocking) Run(ctx context.Context, plan *model.CapturePlan, onState func(model.CapturePlanState)) (*model.Recording, error) {
	onState(model.PlanRunning)
	select {
	case <-ctx.Done():
		onState(model.PlanCanceled)
		return nil, ctx.Err()
	case <-f.block:
		return nil, nil
	}
}
