package reconciler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raywall/tes-dashboard/pkg/metrics"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type anyResolver struct{}

func (anyResolver) Resolve(url string) tes.Instance { return tes.Instance{URL: url} }

// fakeFetcher responde por (tes_url, id).
type fakeFetcher struct {
	mu    sync.Mutex
	views map[tasks.Key]*tes.TaskView
	errs  map[tasks.Key]error
	calls []tasks.Key
}

func (f *fakeFetcher) GetTask(_ context.Context, inst tes.Instance, id string) (*tes.TaskView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := tasks.Key{TaskID: id, TESURL: inst.URL}
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	if v, ok := f.views[key]; ok {
		c := *v
		return &c, nil
	}
	return nil, &tes.UpstreamError{Code: tes.CodeNotFound, StatusCode: http.StatusNotFound}
}

func (f *fakeFetcher) Calls() []tasks.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tasks.Key(nil), f.calls...)
}

func seed(t *testing.T, store tasks.Store, list ...*tasks.Task) {
	t.Helper()
	for _, task := range list {
		require.NoError(t, store.Append(context.Background(), task))
	}
}

func TestRunCycle_UpdatesOpenTasks(t *testing.T) {
	store := tasks.NewMemoryStore()
	now := time.Now()
	seed(t, store,
		&tasks.Task{ID: "1", TESURL: "https://a", State: tes.StateRunning, SubmittedAt: now},
		&tasks.Task{ID: "2", TESURL: "https://a", State: tes.StateComplete, SubmittedAt: now},
		&tasks.Task{ID: "3", TESURL: "https://a", State: tasks.StateSubmissionFailed, SubmittedAt: now},
	)
	fetcher := &fakeFetcher{views: map[tasks.Key]*tes.TaskView{
		{TaskID: "1", TESURL: "https://a"}: {ID: "1", State: tes.StateComplete, EndTime: "2026-01-01T10:00:00Z"},
	}}
	rec := &metrics.Recorder{}
	r := New(store, fetcher, anyResolver{}, Options{Metrics: rec})

	stats, err := r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 1, Updated: 1}, stats)

	got, _ := store.Get(context.Background(), tasks.Key{TaskID: "1", TESURL: "https://a"})
	assert.Equal(t, tes.StateComplete, got.State)
	assert.Equal(t, "2026-01-01T10:00:00Z", got.EndTime)

	// terminal não é consultado de novo
	stats, err = r.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Checked)
	assert.Len(t, fetcher.Calls(), 1)
	assert.Len(t, rec.Samples("reconciler.cycles"), 2)
}

func TestRunCycle_SameIDOnDifferentInstances(t *testing.T) {
	store := tasks.NewMemoryStore()
	now := time.Now()
	seed(t, store,
		&tasks.Task{ID: "42", TESURL: "https://a", State: tes.StateQueued, SubmittedAt: now},
		&tasks.Task{ID: "42", TESURL: "https://b", State: tes.StateQueued, SubmittedAt: now},
	)
	fetcher := &fakeFetcher{views: map[tasks.Key]*tes.TaskView{
		{TaskID: "42", TESURL: "https://a"}: {ID: "42", State: tes.StateExecutorError},
		{TaskID: "42", TESURL: "https://b"}: {ID: "42", State: tes.StateRunning, StartTime: "t0"},
	}}

	_, err := New(store, fetcher, anyResolver{}, Options{}).RunCycle(context.Background())
	require.NoError(t, err)

	a, _ := store.Get(context.Background(), tasks.Key{TaskID: "42", TESURL: "https://a"})
	b, _ := store.Get(context.Background(), tasks.Key{TaskID: "42", TESURL: "https://b"})
	assert.Equal(t, tes.StateExecutorError, a.State)
	assert.Equal(t, tes.StateRunning, b.State)
	assert.Equal(t, "t0", b.StartTime)
	assert.Empty(t, a.StartTime)
}

func TestRunCycle_ErrorsLeaveTasksUntouched(t *testing.T) {
	store := tasks.NewMemoryStore()
	now := time.Now()
	seed(t, store,
		&tasks.Task{ID: "missing", TESURL: "https://a", State: tes.StateQueued, SubmittedAt: now},
		&tasks.Task{ID: "down", TESURL: "https://b", State: tes.StateRunning, SubmittedAt: now},
	)
	fetcher := &fakeFetcher{errs: map[tasks.Key]error{
		{TaskID: "down", TESURL: "https://b"}: &tes.UpstreamError{Code: tes.CodeTimeout, Err: context.DeadlineExceeded},
	}}

	stats, err := New(store, fetcher, anyResolver{}, Options{}).RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleStats{Checked: 2, NotFound: 1, Failed: 1}, stats)
	// uma consulta por task, sem retentativa
	assert.Len(t, fetcher.Calls(), 2)

	down, _ := store.Get(context.Background(), tasks.Key{TaskID: "down", TESURL: "https://b"})
	assert.Equal(t, tes.StateRunning, down.State)
}

func TestReconcileOne_WithTESClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ga4gh/tes/v1/tasks/abc", r.URL.Path)
		assert.Equal(t, "FULL", r.URL.Query().Get("view"))
		_, _ = w.Write([]byte(`{"id": "abc", "state": "RUNNING", "start_time": "2026-02-02T00:00:00Z"}`))
	}))
	defer srv.Close()

	store := tasks.NewMemoryStore()
	seed(t, store, &tasks.Task{ID: "abc", TESURL: srv.URL, State: tes.StateQueued, SubmittedAt: time.Now()})

	r := New(store, tes.NewClient(srv.Client()), anyResolver{}, Options{})
	require.NoError(t, r.ReconcileOne(context.Background(), tasks.Key{TaskID: "abc", TESURL: srv.URL}))

	got, _ := store.Get(context.Background(), tasks.Key{TaskID: "abc", TESURL: srv.URL})
	assert.Equal(t, tes.StateRunning, got.State)
	assert.Equal(t, "2026-02-02T00:00:00Z", got.StartTime)
}

// failingStore faz NonTerminal falhar ou entrar em panic.
type failingStore struct {
	tasks.Store
	calls atomic.Int32
	panic bool
}

func (f *failingStore) NonTerminal(context.Context) ([]*tasks.Task, error) {
	f.calls.Add(1)
	if f.panic {
		panic("boom")
	}
	return nil, errors.New("store offline")
}

func TestLoop_BackoffAfterFailure(t *testing.T) {
	for _, panics := range []bool{false, true} {
		store := &failingStore{Store: tasks.NewMemoryStore(), panic: panics}
		r := New(store, &fakeFetcher{}, anyResolver{}, Options{Interval: time.Second, ErrorBackoff: 7 * time.Second})

		waits := make(chan time.Duration, 10)
		r.after = func(d time.Duration) <-chan time.Time {
			select {
			case waits <- d:
			default:
			}
			ch := make(chan time.Time, 1)
			ch <- time.Now()
			return ch
		}

		r.Start(context.Background())
		r.Start(context.Background())

		select {
		case d := <-waits:
			assert.Equal(t, 7*time.Second, d)
		case <-time.After(2 * time.Second):
			t.Fatal("loop não aguardou o backoff")
		}
		r.Stop()
		assert.GreaterOrEqual(t, store.calls.Load(), int32(1))
	}
}

func TestLoop_StopWithoutStart(t *testing.T) {
	r := New(tasks.NewMemoryStore(), &fakeFetcher{}, anyResolver{}, Options{})
	r.Stop()
	r.Stop()
}

func TestLoop_RunsOnInterval(t *testing.T) {
	store := tasks.NewMemoryStore()
	seed(t, store, &tasks.Task{ID: "1", TESURL: "https://a", State: tes.StateQueued, SubmittedAt: time.Now()})
	fetcher := &fakeFetcher{views: map[tasks.Key]*tes.TaskView{
		{TaskID: "1", TESURL: "https://a"}: {ID: "1", State: tes.StateRunning},
	}}
	r := New(store, fetcher, anyResolver{}, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Stop()

	assert.Eventually(t, func() bool { return len(fetcher.Calls()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	got, _ := store.Get(context.Background(), tasks.Key{TaskID: "1", TESURL: "https://a"})
	assert.Equal(t, tes.StateRunning, got.State)
}
