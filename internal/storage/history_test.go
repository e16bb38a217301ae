package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/sentinelstack/fusion-engine/internal/models"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	store, err := Open("")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewHistory(store)
}

func TestAssessmentRoundTrip(t *testing.T) {
	h := newTestHistory(t)
	a := models.FusedAssessment{
		AssessmentID:    "assess-1",
		BatchID:         "batch-1",
		MemberRecordIDs: []string{"r1", "r2"},
		FusedConfidence: 0.82,
		Severity:        5,
		DominantSource:  models.SourceDeterministic,
		GeneratedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	if err := h.PutAssessment(a); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := h.GetAssessment("assess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FusedConfidence != a.FusedConfidence || got.Severity != a.Severity {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.MemberRecordIDs) != 2 {
		t.Fatalf("members lost: %v", got.MemberRecordIDs)
	}
}

func TestGetAssessmentNotFound(t *testing.T) {
	h := newTestHistory(t)
	_, err := h.GetAssessment("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListIntelligenceChronological(t *testing.T) {
	h := newTestHistory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of order; listing must come back in emission order.
	for _, offset := range []int{2, 0, 1} {
		rec := models.IntelligenceRecord{
			AssessmentID: "assess-" + string(rune('0'+offset)),
			EmittedAt:    base.Add(time.Duration(offset) * time.Minute),
		}
		if err := h.PutIntelligence(rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	records, err := h.ListIntelligence(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].EmittedAt.Before(records[i-1].EmittedAt) {
			t.Fatalf("records out of order: %v then %v", records[i-1].EmittedAt, records[i].EmittedAt)
		}
	}

	limited, err := h.ListIntelligence(2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(limited))
	}
	if limited[0].AssessmentID != "assess-0" {
		t.Fatalf("expected earliest record first, got %s", limited[0].AssessmentID)
	}
}

func TestPutFeedback(t *testing.T) {
	h := newTestHistory(t)
	fb := models.Feedback{AssessmentID: "assess-1", Correct: true, SubmittedAt: time.Now().UTC()}
	if err := h.PutFeedback(fb); err != nil {
		t.Fatalf("put feedback: %v", err)
	}

	data, err := h.store.Get(bucketFeedback, "assess-1")
	if err != nil {
		t.Fatalf("get feedback: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("feedback stored empty")
	}
}

func TestStoreDelete(t *testing.T) {
	h := newTestHistory(t)
	if err := h.store.Put("bucket", "key", []byte("value")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := h.store.Delete("bucket", "key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := h.store.Get("bucket", "key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
