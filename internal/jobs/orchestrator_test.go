package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/gatekeeper/internal/backend"
	"github.com/kiranshivaraju/gatekeeper/internal/backend/mock"
	"github.com/kiranshivaraju/gatekeeper/internal/gate"
	"github.com/kiranshivaraju/gatekeeper/internal/jobs"
	"github.com/kiranshivaraju/gatekeeper/internal/registry"
	"github.com/kiranshivaraju/gatekeeper/internal/store"
	"github.com/kiranshivaraju/gatekeeper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type invokerFunc func(ctx context.Context, params models.JobParams) (string, error)

func (f invokerFunc) Invoke(ctx context.Context, params models.JobParams) (string, error) {
	return f(ctx, params)
}

// recordingNotifier keeps every delivered result per handle.
type recordingNotifier struct {
	mu      sync.Mutex
	results map[string][]models.JobResult
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{results: make(map[string][]models.JobResult)}
}

func (n *recordingNotifier) Deliver(_ context.Context, handle string, result models.JobResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results[handle] = append(n.results[handle], result)
}

func (n *recordingNotifier) get(handle string) []models.JobResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.JobResult(nil), n.results[handle]...)
}

// recordingStore remembers the statuses each run passed through.
type recordingStore struct {
	store.NopStore
	mu       sync.Mutex
	statuses map[string][]string
	fail     bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{statuses: make(map[string][]string)}
}

func (s *recordingStore) CreateRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[run.Handle] = append(s.statuses[run.Handle], run.Status)
	if s.fail {
		return errors.New("db down")
	}
	return nil
}

func (s *recordingStore) UpdateRunStatus(_ context.Context, handle, status string, _ ...store.RunUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[handle] = append(s.statuses[handle], status)
	if s.fail {
		return errors.New("db down")
	}
	return nil
}

func (s *recordingStore) get(handle string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses[handle]...)
}

func waitAll(t *testing.T, o *jobs.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx))
}

func validParams(out string) models.JobParams {
	return models.JobParams{
		models.ParamAudioPath:       "/in/voice.wav",
		models.ParamVideoPath:       "/in/face.mp4",
		models.ParamBBoxShift:       float64(0),
		models.ParamExtraMargin:     float64(10),
		models.ParamParsingMode:     "jaw",
		models.ParamLeftCheekWidth:  float64(90),
		models.ParamRightCheekWidth: float64(90),
		models.ParamOutputFilePath:  out,
	}
}

// --- Admission ---

func TestSubmit_ReturnsBeforeBackendAndIssuesDistinctHandles(t *testing.T) {
	release := make(chan struct{})
	inv := invokerFunc(func(ctx context.Context, _ models.JobParams) (string, error) {
		<-release
		return "/out/x.mp4", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, newRecordingNotifier(), jobs.WithLogger(quiet))

	const n = 100
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		job := o.Submit(models.JobParams{})
		assert.Less(t, time.Since(start), 10*time.Millisecond)

		_, err := uuid.Parse(job.Handle)
		assert.NoError(t, err)
		assert.Equal(t, models.JobStatusAdmitted, job.Status)
		assert.False(t, seen[job.Handle], "duplicate handle %s", job.Handle)
		seen[job.Handle] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, int64(n), o.Stats().Admitted)

	close(release)
	waitAll(t, o)
}

func TestSubmit_KeepsParamsVerbatim(t *testing.T) {
	got := make(chan models.JobParams, 1)
	inv := invokerFunc(func(_ context.Context, p models.JobParams) (string, error) {
		got <- p
		return "/out/x.mp4", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, newRecordingNotifier(), jobs.WithLogger(quiet))

	params := models.JobParams{"anything": "goes", "n": float64(3)}
	job := o.Submit(params)
	assert.Equal(t, params, job.Params)

	waitAll(t, o)
	assert.Equal(t, params, <-got)
}

// --- Mutual exclusion ---

func TestRun_NoOverlappingInvocations(t *testing.T) {
	var active, maxActive atomic.Int32
	inv := invokerFunc(func(_ context.Context, _ models.JobParams) (string, error) {
		cur := active.Add(1)
		for {
			prev := maxActive.Load()
			if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "/out/x.mp4", nil
	})
	notifier := newRecordingNotifier()
	o := jobs.NewOrchestrator(gate.New(), inv, notifier, jobs.WithLogger(quiet))

	var wg sync.WaitGroup
	handles := make([]string, 20)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = o.Submit(models.JobParams{}).Handle
		}(i)
	}
	wg.Wait()
	waitAll(t, o)

	assert.Equal(t, int32(1), maxActive.Load())
	for _, h := range handles {
		assert.Len(t, notifier.get(h), 1)
	}
	assert.Equal(t, int64(20), o.Stats().Succeeded)
}

// --- FIFO ---

func TestRun_GateOrderIsArrivalOrder(t *testing.T) {
	g := gate.New()
	started := make(chan struct{})
	release := make(chan struct{})

	var mu sync.Mutex
	var order []string
	inv := invokerFunc(func(_ context.Context, p models.JobParams) (string, error) {
		name := p["name"].(string)
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		if name == "a" {
			close(started)
			<-release
		}
		return "/out/" + name + ".mp4", nil
	})
	o := jobs.NewOrchestrator(g, inv, newRecordingNotifier(), jobs.WithLogger(quiet))

	o.Submit(models.JobParams{"name": "a"})
	<-started

	for i, name := range []string{"b", "c", "d"} {
		o.Submit(models.JobParams{"name": name})
		want := i + 1
		require.Eventually(t, func() bool { return g.Waiting() == want }, time.Second, time.Millisecond)
		time.Sleep(10 * time.Millisecond)
	}

	close(release)
	waitAll(t, o)

	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

// --- Failure handling ---

func TestRun_FailureReleasesGate(t *testing.T) {
	var calls atomic.Int32
	dir := t.TempDir()
	be := mock.NewMockBackend(dir)
	succeed := be.InferFunc
	be.InferFunc = func(ctx context.Context, req backend.Request) (backend.Response, error) {
		if calls.Add(1) == 1 {
			return backend.Response{}, errors.New("boom")
		}
		return succeed(ctx, req)
	}

	g := gate.New()
	notifier := newRecordingNotifier()
	o := jobs.NewOrchestrator(g, backend.NewInvoker(be, quiet), notifier, jobs.WithLogger(quiet))

	out := filepath.Join(t.TempDir(), "final.mp4")
	first := o.Submit(validParams(out))
	waitAll(t, o)
	assert.False(t, g.Held())

	second := o.Submit(validParams(out))
	waitAll(t, o)

	assert.Equal(t, []models.JobResult{{Format: models.ResultFormatError, Error: "boom"}}, notifier.get(first.Handle))
	assert.Equal(t, []models.JobResult{{Format: models.ResultFormatFilePath, Data: out, Filename: "final.mp4"}}, notifier.get(second.Handle))

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Succeeded)
}

func TestRun_MissingParamFailsAsynchronously(t *testing.T) {
	notifier := newRecordingNotifier()
	inv := backend.NewInvoker(mock.NewMockBackend(t.TempDir()), quiet)
	o := jobs.NewOrchestrator(gate.New(), inv, notifier, jobs.WithLogger(quiet))

	params := validParams(filepath.Join(t.TempDir(), "final.mp4"))
	delete(params, models.ParamAudioPath)

	job := o.Submit(params)
	assert.Equal(t, models.JobStatusAdmitted, job.Status)
	waitAll(t, o)

	results := notifier.get(job.Handle)
	require.Len(t, results, 1)
	assert.Equal(t, models.ResultFormatError, results[0].Format)
	assert.Contains(t, results[0].Error, models.ParamAudioPath)
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	g := gate.New()
	notifier := newRecordingNotifier()
	inv := invokerFunc(func(_ context.Context, _ models.JobParams) (string, error) {
		panic("invoker exploded")
	})
	o := jobs.NewOrchestrator(g, inv, notifier, jobs.WithLogger(quiet))

	job := o.Submit(models.JobParams{})
	waitAll(t, o)

	results := notifier.get(job.Handle)
	require.Len(t, results, 1)
	assert.Equal(t, "panic: invoker exploded", results[0].Error)
	assert.False(t, g.Held())
}

func TestRun_JobTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	notifier := newRecordingNotifier()
	inv := backend.NewInvoker(mock.NewBlockingBackend(release), quiet)
	o := jobs.NewOrchestrator(gate.New(), inv, notifier,
		jobs.WithLogger(quiet), jobs.WithJobTimeout(20*time.Millisecond))

	job := o.Submit(validParams(filepath.Join(t.TempDir(), "final.mp4")))
	waitAll(t, o)

	results := notifier.get(job.Handle)
	require.Len(t, results, 1)
	assert.Equal(t, context.DeadlineExceeded.Error(), results[0].Error)
}

// --- Timing ---

func TestRun_SecondJobStartsAfterFirstEnds(t *testing.T) {
	type span struct{ start, end time.Time }
	var mu sync.Mutex
	var spans []span

	inv := invokerFunc(func(_ context.Context, _ models.JobParams) (string, error) {
		s := span{start: time.Now()}
		time.Sleep(50 * time.Millisecond)
		s.end = time.Now()
		mu.Lock()
		spans = append(spans, s)
		mu.Unlock()
		return "/out/x.mp4", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, newRecordingNotifier(), jobs.WithLogger(quiet))

	o.Submit(models.JobParams{})
	o.Submit(models.JobParams{})
	waitAll(t, o)

	require.Len(t, spans, 2)
	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })
	assert.False(t, spans[1].start.Before(spans[0].end))
}

// --- Delivery ---

func TestRun_DeliversExactlyOnceToRegisteredChannel(t *testing.T) {
	reg := registry.New(quiet)
	release := make(chan struct{})
	inv := invokerFunc(func(_ context.Context, _ models.JobParams) (string, error) {
		<-release
		return "/out/final.mp4", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, reg, jobs.WithLogger(quiet))

	job := o.Submit(models.JobParams{})
	ch := &captureChannel{}
	reg.Register(job.Handle, ch)

	close(release)
	waitAll(t, o)

	assert.Equal(t, []models.JobResult{models.SuccessResult("/out/final.mp4")}, ch.got())
}

func TestRun_NoListenerDoesNotBlock(t *testing.T) {
	reg := registry.New(quiet)
	inv := invokerFunc(func(_ context.Context, _ models.JobParams) (string, error) {
		return "/out/final.mp4", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, reg, jobs.WithLogger(quiet))

	o.Submit(models.JobParams{})
	waitAll(t, o)

	job := o.Submit(models.JobParams{})
	waitAll(t, o)
	assert.NotEmpty(t, job.Handle)
	assert.Equal(t, int64(2), o.Stats().Succeeded)
}

type captureChannel struct {
	mu      sync.Mutex
	results []models.JobResult
}

func (c *captureChannel) Send(_ context.Context, r models.JobResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func (c *captureChannel) got() []models.JobResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.JobResult(nil), c.results...)
}

// --- Run ledger ---

func TestRun_RecordsLifecycle(t *testing.T) {
	st := newRecordingStore()
	inv := invokerFunc(func(_ context.Context, p models.JobParams) (string, error) {
		if p["fail"] == true {
			return "", errors.New("nope")
		}
		return "/out/x.mp4", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, newRecordingNotifier(),
		jobs.WithLogger(quiet), jobs.WithStore(st))

	ok := o.Submit(models.JobParams{})
	bad := o.Submit(models.JobParams{"fail": true})
	waitAll(t, o)

	assert.Equal(t, []string{models.JobStatusQueued, models.JobStatusRunning, models.JobStatusSucceeded}, st.get(ok.Handle))
	assert.Equal(t, []string{models.JobStatusQueued, models.JobStatusRunning, models.JobStatusFailed}, st.get(bad.Handle))
}

func TestRun_LedgerFailureDoesNotFailJob(t *testing.T) {
	st := newRecordingStore()
	st.fail = true
	notifier := newRecordingNotifier()
	inv := invokerFunc(func(_ context.Context, _ models.JobParams) (string, error) {
		return "/out/x.mp4", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, notifier, jobs.WithLogger(quiet), jobs.WithStore(st))

	job := o.Submit(models.JobParams{})
	waitAll(t, o)

	assert.Equal(t, []models.JobResult{models.SuccessResult("/out/x.mp4")}, notifier.get(job.Handle))
}

func TestWait_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	inv := invokerFunc(func(_ context.Context, _ models.JobParams) (string, error) {
		<-release
		return "", nil
	})
	o := jobs.NewOrchestrator(gate.New(), inv, newRecordingNotifier(), jobs.WithLogger(quiet))
	o.Submit(models.JobParams{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Wait(ctx), context.DeadlineExceeded)
}
