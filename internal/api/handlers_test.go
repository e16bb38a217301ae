package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sentinelstack/fusion-engine/internal/config"
	"github.com/sentinelstack/fusion-engine/internal/emit"
	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/scheduler"
	"github.com/sentinelstack/fusion-engine/internal/services"
	"github.com/sentinelstack/fusion-engine/internal/storage"
	"github.com/sentinelstack/fusion-engine/internal/tuner"
)

type idleRunner struct{}

func (idleRunner) Process(_ context.Context, batch models.Batch) (models.BatchResult, error) {
	return models.BatchResult{BatchID: batch.BatchID}, nil
}

type testEnv struct {
	base    string
	history *storage.History
}

// startTestServer boots a real server on a loopback port. The scheduler is
// deliberately not started so submitted batches stay queued.
func startTestServer(t *testing.T, queueCapacity int) testEnv {
	t.Helper()

	store, err := storage.Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	history := storage.NewHistory(store)

	tun := tuner.New(nil, tuner.Config{WindowSize: 100})
	emitter := emit.NewEmitter(nil, history, 0.7, 3)
	sched := scheduler.New(nil, scheduler.Config{Workers: 1, QueueCapacity: queueCapacity},
		func() scheduler.Runner { return idleRunner{} }, nil)
	service := services.NewFusionService(nil, sched, tun, history, emitter)

	server, err := NewServer(config.ServerConfig{Address: "127.0.0.1:0"}, service, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go func() {
		if serveErr := server.Start(); serveErr != nil {
			t.Errorf("server exited: %v", serveErr)
		}
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})

	return testEnv{base: "http://" + server.Address(), history: history}
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	env := startTestServer(t, 4)
	resp, err := http.Get(env.base + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSubmitBatchAccepted(t *testing.T) {
	env := startTestServer(t, 4)
	resp := postJSON(t, env.base+"/v1/batches", batchRequest{
		Records: []models.RawRecord{
			{Source: "probabilistic", RecordID: "r1", TimestampNanos: 1, DeclaredConfidence: 0.8},
		},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var accepted batchAccepted
	decodeBody(t, resp, &accepted)
	if accepted.BatchID == "" {
		t.Fatalf("expected generated batch id")
	}
}

func TestSubmitBatchRejectsEmpty(t *testing.T) {
	env := startTestServer(t, 4)
	resp := postJSON(t, env.base+"/v1/batches", batchRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestSubmitBatchBackpressure(t *testing.T) {
	env := startTestServer(t, 1)
	req := batchRequest{
		Records: []models.RawRecord{
			{Source: "deterministic", RecordID: "r1", TimestampNanos: 1},
		},
	}

	first := postJSON(t, env.base+"/v1/batches", req)
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first submission should queue, got %d", first.StatusCode)
	}

	second := postJSON(t, env.base+"/v1/batches", req)
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on full queue, got %d", second.StatusCode)
	}
	var body errorResponse
	decodeBody(t, second, &body)
	if body.Code != "CAPACITY_EXCEEDED" {
		t.Fatalf("unexpected error code: %s", body.Code)
	}
}

func TestTunerSnapshotEndpoint(t *testing.T) {
	env := startTestServer(t, 4)
	resp, err := http.Get(env.base + "/v1/tuner")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var snap tuner.Snapshot
	decodeBody(t, resp, &snap)
	if snap.Version == 0 {
		t.Fatalf("expected live snapshot version, got %+v", snap)
	}
	if snap.Thresholds.CrossSignal != 0.5 {
		t.Fatalf("unexpected thresholds: %+v", snap.Thresholds)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := startTestServer(t, 4)
	resp, err := http.Get(env.base + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var status statusResponse
	decodeBody(t, resp, &status)
	if status.QueueCapacity != 4 {
		t.Fatalf("unexpected queue capacity: %d", status.QueueCapacity)
	}
}

func TestGetAssessment(t *testing.T) {
	env := startTestServer(t, 4)

	missing, err := http.Get(env.base + "/v1/assessments/absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}

	stored := models.FusedAssessment{AssessmentID: "assess-1", FusedConfidence: 0.9, Severity: 5}
	if err := env.history.PutAssessment(stored); err != nil {
		t.Fatalf("put assessment: %v", err)
	}
	resp, err := http.Get(env.base + "/v1/assessments/assess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var got models.FusedAssessment
	decodeBody(t, resp, &got)
	if got.AssessmentID != "assess-1" || got.Severity != 5 {
		t.Fatalf("unexpected assessment: %+v", got)
	}
}

func TestListIntelligence(t *testing.T) {
	env := startTestServer(t, 4)

	bad, err := http.Get(env.base + "/v1/intelligence?limit=zero")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", bad.StatusCode)
	}

	for i := 0; i < 3; i++ {
		rec := models.IntelligenceRecord{
			AssessmentID: fmt.Sprintf("assess-%d", i),
			EmittedAt:    time.Date(2026, 3, 1, 12, i, 0, 0, time.UTC),
		}
		if err := env.history.PutIntelligence(rec); err != nil {
			t.Fatalf("put intelligence: %v", err)
		}
	}

	resp, err := http.Get(env.base + "/v1/intelligence?limit=2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var records []models.IntelligenceRecord
	decodeBody(t, resp, &records)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].AssessmentID != "assess-0" {
		t.Fatalf("expected chronological order, got %s first", records[0].AssessmentID)
	}
}

func TestSubmitFeedback(t *testing.T) {
	env := startTestServer(t, 4)

	accepted := postJSON(t, env.base+"/v1/feedback", feedbackRequest{
		AssessmentID: "assess-1",
		Correct:      true,
	})
	accepted.Body.Close()
	if accepted.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected status: %d", accepted.StatusCode)
	}

	rejected := postJSON(t, env.base+"/v1/feedback", feedbackRequest{})
	rejected.Body.Close()
	if rejected.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing assessment id, got %d", rejected.StatusCode)
	}
}
