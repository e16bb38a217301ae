package normalize

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/utils"
)

// Normalizer converts heterogeneous analyzer outputs into AnalysisRecords
// with uncertainty metrics collapsed onto a common 0-1 scale.
type Normalizer struct {
	logger       *slog.Logger
	maxBatchSize int
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(logger *slog.Logger, maxBatchSize int) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 10000
	}
	return &Normalizer{logger: logger, maxBatchSize: maxBatchSize}
}

// Normalize maps raw records into AnalysisRecords. Records missing their
// timestamp or source tag are dropped, never fatal to the batch; the count
// of dropped records is returned alongside the surviving ones.
func (n *Normalizer) Normalize(raws []models.RawRecord) ([]models.AnalysisRecord, int, error) {
	if len(raws) == 0 {
		return nil, 0, fmt.Errorf("empty batch")
	}
	if len(raws) > n.maxBatchSize {
		return nil, 0, fmt.Errorf("batch size %d exceeds maximum %d", len(raws), n.maxBatchSize)
	}

	records := make([]models.AnalysisRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		record, err := n.normalizeOne(raw)
		if err != nil {
			dropped++
			n.logger.Debug("dropping malformed record",
				slog.String("record_id", raw.RecordID),
				slog.Any("error", err),
			)
			continue
		}
		records = append(records, record)
	}
	return records, dropped, nil
}

func (n *Normalizer) normalizeOne(raw models.RawRecord) (models.AnalysisRecord, error) {
	source := models.Source(strings.ToLower(raw.Source))
	if !source.Valid() {
		return models.AnalysisRecord{}, utils.NewAppError(
			"normalize", utils.CodeMalformedRecord, "missing or unknown source tag", nil)
	}

	ts, err := recordTimestamp(raw)
	if err != nil {
		return models.AnalysisRecord{}, utils.NewAppError(
			"normalize", utils.CodeMalformedRecord, "missing timestamp", err)
	}

	record := models.AnalysisRecord{
		Source:             source,
		RecordID:           raw.RecordID,
		Timestamp:          ts,
		Features:           append([]float64(nil), raw.Features...),
		DeclaredConfidence: clamp01(raw.DeclaredConfidence),
		Uncertainty:        NormalizedUncertainty(raw.UncertaintyMetrics),
		BehavioralTags:     append([]string(nil), raw.BehavioralTags...),
	}

	if raw.Latitude != nil && raw.Longitude != nil {
		point := orb.Point{*raw.Longitude, *raw.Latitude}
		record.Location = &point
	}

	return record, nil
}

// NormalizedUncertainty collapses the declared per-source metrics into one
// 0-1 value: min(1, sqrt(sum(metric_i^2))).
func NormalizedUncertainty(metrics map[string]float64) float64 {
	sum := 0.0
	for _, m := range metrics {
		sum += m * m
	}
	return math.Min(1.0, math.Sqrt(sum))
}

func recordTimestamp(raw models.RawRecord) (time.Time, error) {
	if raw.TimestampNanos != 0 {
		return utils.FromUnixNanos(raw.TimestampNanos), nil
	}
	return utils.ParseRFC3339(raw.Timestamp)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
