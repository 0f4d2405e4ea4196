package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/pkg/types"
)

var errFakeJobNotFound = errors.New("fake job store: not found")

// fakeJobStore and fakeQueue let the HTTP layer be tested without a live
// Postgres instance, grounded on the donor's httptest.NewServer style but
// swapping its in-memory backtest.Engine for these in-memory fakes.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]types.TrainingJob
	next int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]types.TrainingJob)}
}

func (f *fakeJobStore) Insert(ctx context.Context, req types.SubmitJobRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := "job-" + itoa(f.next)
	f.jobs[id] = types.TrainingJob{
		JobID:           id,
		Status:          types.JobPending,
		StrategyName:    req.StrategyName,
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		Timeframe:       req.Timeframe,
		Regime:          req.Regime,
		OptimizerKind:   req.OptimizerKind,
		LookbackCandles: req.LookbackCandles,
		NIterations:     req.NIterations,
		Seed:            req.Seed,
		FilterConfig:    req.FilterConfig,
		RunValidation:   req.RunValidation,
	}
	return id, nil
}

func (f *fakeJobStore) Get(ctx context.Context, jobID string) (types.TrainingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return types.TrainingJob{}, errFakeJobNotFound
	}
	return job, nil
}

func (f *fakeJobStore) Cancel(ctx context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = types.JobCancelled
	f.jobs[jobID] = job
	return true, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	cancels  []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

func (f *fakeQueue) CancelToken(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, jobID)
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newTestServer() (*Server, *fakeJobStore, *fakeQueue) {
	jobs := newFakeJobStore()
	q := &fakeQueue{}
	srv := NewServer(zap.NewNop(), DefaultConfig(), jobs, q)
	return srv, jobs, q
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestSubmitJobAccepted(t *testing.T) {
	srv, jobs, q := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(types.SubmitJobRequest{
		StrategyName:  types.StrategyLiquiditySweep,
		Symbol:        "BTC-USD",
		Exchange:      "coinbase",
		Timeframe:     types.Timeframe1h,
		OptimizerKind: types.OptimizerGrid,
		NIterations:   50,
	})

	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["job_id"] == "" {
		t.Fatal("expected non-empty job_id")
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != out["job_id"] {
		t.Fatalf("expected job enqueued exactly once, got %v", q.enqueued)
	}
	if _, ok := jobs.jobs[out["job_id"]]; !ok {
		t.Fatal("expected job persisted in store")
	}
}

func TestSubmitJobRejectsUnknownStrategy(t *testing.T) {
	srv, _, q := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body, _ := json.Marshal(types.SubmitJobRequest{
		StrategyName:  types.StrategyName("NOT_A_REAL_STRATEGY"),
		Symbol:        "BTC-USD",
		Exchange:      "coinbase",
		Timeframe:     types.Timeframe1h,
		OptimizerKind: types.OptimizerGrid,
		NIterations:   50,
	})

	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(q.enqueued) != 0 {
		t.Fatal("expected rejected job never enqueued")
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _ := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/jobs/does-not-exist")
	if err != nil {
		t.Fatalf("GET /api/v1/jobs/does-not-exist: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCancelJobTwiceIsIdempotentlyRejected(t *testing.T) {
	srv, jobs, q := newTestServer()
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	jobID, _ := jobs.Insert(context.Background(), types.SubmitJobRequest{
		StrategyName: types.StrategyLiquiditySweep, Symbol: "BTC-USD", Exchange: "coinbase",
		Timeframe: types.Timeframe1h, OptimizerKind: types.OptimizerGrid, NIterations: 10,
	})

	first, err := http.Post(ts.URL+"/api/v1/jobs/"+jobID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first cancel to succeed, got %d", first.StatusCode)
	}

	second, err := http.Post(ts.URL+"/api/v1/jobs/"+jobID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("expected second cancel to conflict, got %d", second.StatusCode)
	}
	if len(q.cancels) != 1 {
		t.Fatalf("expected exactly one queue cancel token, got %d", len(q.cancels))
	}
}

func TestHubStartsWithNoSubscriptions(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	got := hub.SubscribedJobIDs()
	if len(got) != 0 {
		t.Fatalf("expected no subscriptions yet, got %v", got)
	}
}
