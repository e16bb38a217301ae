package storage

import (
	"encoding/json"
	"fmt"

	"github.com/sentinelstack/fusion-engine/internal/models"
)

const (
	bucketAssessments  = "assessments"
	bucketIntelligence = "intelligence"
	bucketFeedback     = "feedback"
)

// History persists assessments, emitted intelligence records, and feedback
// labels for the control surface and the tuner's accuracy sample.
type History struct {
	store *Store
}

// NewHistory constructs a History over the given store.
func NewHistory(store *Store) *History {
	return &History{store: store}
}

// PutAssessment stores one fused assessment keyed by its ID.
func (h *History) PutAssessment(a models.FusedAssessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}
	return h.store.Put(bucketAssessments, a.AssessmentID, data)
}

// GetAssessment fetches one assessment by ID, returning ErrNotFound when absent.
func (h *History) GetAssessment(id string) (models.FusedAssessment, error) {
	data, err := h.store.Get(bucketAssessments, id)
	if err != nil {
		return models.FusedAssessment{}, err
	}
	var a models.FusedAssessment
	if err := json.Unmarshal(data, &a); err != nil {
		return models.FusedAssessment{}, fmt.Errorf("unmarshal assessment: %w", err)
	}
	return a, nil
}

// PutIntelligence stores an emitted record. Keys are ordered by emission
// time so listing returns chronological output.
func (h *History) PutIntelligence(rec models.IntelligenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal intelligence record: %w", err)
	}
	key := fmt.Sprintf("%020d-%s", rec.EmittedAt.UnixNano(), rec.AssessmentID)
	return h.store.Put(bucketIntelligence, key, data)
}

// ListIntelligence returns up to limit emitted records in emission order.
// A non-positive limit returns everything.
func (h *History) ListIntelligence(limit int) ([]models.IntelligenceRecord, error) {
	records := make([]models.IntelligenceRecord, 0)
	err := h.store.ForEach(bucketIntelligence, func(key string, value []byte) error {
		if limit > 0 && len(records) >= limit {
			return errStopIteration
		}
		var rec models.IntelligenceRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("unmarshal intelligence record %s: %w", key, err)
		}
		records = append(records, rec)
		return nil
	})
	if err != nil && err != errStopIteration {
		return nil, err
	}
	return records, nil
}

// PutFeedback stores one ground-truth label keyed by assessment ID.
func (h *History) PutFeedback(fb models.Feedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}
	return h.store.Put(bucketFeedback, fb.AssessmentID, data)
}

var errStopIteration = fmt.Errorf("stop iteration")
