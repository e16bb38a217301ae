package engine

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/tuner"
)

const (
	// maxUncertaintyPenalty caps the confidence reduction from declared
	// uncertainty at 50%.
	maxUncertaintyPenalty = 0.5
	// corroborationStep is the per-finding confidence boost.
	corroborationStep = 0.05
	// maxCorroboration caps the boost at five extra findings (25%).
	maxCorroboration = 5
	// strongFindingCutoff is the strength above which a finding corroborates.
	strongFindingCutoff = 0.5
)

// FusionConfig carries fusion filtering parameters.
type FusionConfig struct {
	MinRecordConfidence float64
}

// Fuser combines per-source confidences and corroborating findings into
// calibrated assessments, one per correlated cluster.
type Fuser struct {
	logger *slog.Logger
	cfg    FusionConfig
}

// NewFuser constructs a Fuser.
func NewFuser(logger *slog.Logger, cfg FusionConfig) *Fuser {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinRecordConfidence <= 0 {
		cfg.MinRecordConfidence = 0.1
	}
	return &Fuser{logger: logger, cfg: cfg}
}

// Fuse clusters records referenced by findings and produces one assessment
// per cluster. Clusters whose records all fall below the minimum per-record
// confidence yield no assessment; that is absence of signal, not an error.
func (f *Fuser) Fuse(
	batchID string,
	records []models.AnalysisRecord,
	correlations []models.CorrelationFinding,
	anomalies []models.AnomalyFinding,
	snap *tuner.Snapshot,
) []models.FusedAssessment {
	if len(records) == 0 || (len(correlations) == 0 && len(anomalies) == 0) {
		return nil
	}

	index := make(map[string]int, len(records))
	for i, record := range records {
		index[record.RecordID] = i
	}

	uf := newUnionFind(len(records))
	for _, finding := range correlations {
		first := -1
		for _, id := range finding.MemberRecordIDs {
			idx, ok := index[id]
			if !ok {
				continue
			}
			if first < 0 {
				first = idx
				continue
			}
			uf.union(first, idx)
		}
	}

	// Cluster discovery order follows the order findings reference records,
	// which keeps fusion output deterministic for a given batch.
	order := make([]int, 0)
	seen := make(map[int]struct{})
	discover := func(recordID string) {
		idx, ok := index[recordID]
		if !ok {
			return
		}
		root := uf.find(idx)
		if _, dup := seen[root]; dup {
			return
		}
		seen[root] = struct{}{}
		order = append(order, root)
	}
	for _, finding := range correlations {
		for _, id := range finding.MemberRecordIDs {
			discover(id)
		}
	}
	for _, anomaly := range anomalies {
		discover(anomaly.TargetRecordID)
	}

	assessments := make([]models.FusedAssessment, 0, len(order))
	for _, root := range order {
		cluster := f.clusterFor(root, records, correlations, anomalies, index, uf)
		assessment, ok := f.fuseCluster(batchID, cluster, snap)
		if !ok {
			continue
		}
		assessments = append(assessments, assessment)
	}
	return assessments
}

type cluster struct {
	records      []models.AnalysisRecord
	correlations []models.CorrelationFinding
	anomalies    []models.AnomalyFinding
}

func (f *Fuser) clusterFor(
	root int,
	records []models.AnalysisRecord,
	correlations []models.CorrelationFinding,
	anomalies []models.AnomalyFinding,
	index map[string]int,
	uf *unionFind,
) cluster {
	var cl cluster
	for i, record := range records {
		if uf.find(i) == root {
			cl.records = append(cl.records, record)
		}
	}
	for _, finding := range correlations {
		if idx, ok := index[finding.MemberRecordIDs[0]]; ok && uf.find(idx) == root {
			cl.correlations = append(cl.correlations, finding)
		}
	}
	for _, anomaly := range anomalies {
		if idx, ok := index[anomaly.TargetRecordID]; ok && uf.find(idx) == root {
			cl.anomalies = append(cl.anomalies, anomaly)
		}
	}
	return cl
}

func (f *Fuser) fuseCluster(batchID string, cl cluster, snap *tuner.Snapshot) (models.FusedAssessment, bool) {
	kept := make([]models.AnalysisRecord, 0, len(cl.records))
	for _, record := range cl.records {
		if record.DeclaredConfidence >= f.cfg.MinRecordConfidence {
			kept = append(kept, record)
		}
	}
	if len(kept) == 0 {
		return models.FusedAssessment{}, false
	}

	base, dominant := f.fusedBase(kept, snap)
	boosted := base * corroborationBoost(f.countStrong(cl))
	fused := math.Min(1, boosted)

	memberIDs := make([]string, 0, len(kept))
	for _, record := range kept {
		memberIDs = append(memberIDs, record.RecordID)
	}
	sort.Strings(memberIDs)

	return models.FusedAssessment{
		AssessmentID:    uuid.NewString(),
		BatchID:         batchID,
		MemberRecordIDs: memberIDs,
		Correlations:    cl.correlations,
		Anomalies:       cl.anomalies,
		FusedConfidence: fused,
		Severity:        severityBand(fused),
		DominantSource:  dominant,
		GeneratedAt:     time.Now().UTC(),
	}, true
}

// fusedBase computes SourceConfidence per analyzer and fuses them with the
// snapshot weights. Sources absent from the cluster are excluded from the
// weighted average rather than dragging it toward zero.
func (f *Fuser) fusedBase(records []models.AnalysisRecord, snap *tuner.Snapshot) (float64, models.Source) {
	var probSum, detSum float64
	var probCount, detCount int
	for _, record := range records {
		conf := SourceConfidence(record)
		switch record.Source {
		case models.SourceProbabilistic:
			probSum += conf
			probCount++
		case models.SourceDeterministic:
			detSum += conf
			detCount++
		}
	}

	weightedSum, weightTotal := 0.0, 0.0
	probShare, detShare := 0.0, 0.0
	if probCount > 0 {
		probShare = snap.ProbabilisticWeight * (probSum / float64(probCount))
		weightedSum += probShare
		weightTotal += snap.ProbabilisticWeight
	}
	if detCount > 0 {
		detShare = snap.DeterministicWeight * (detSum / float64(detCount))
		weightedSum += detShare
		weightTotal += snap.DeterministicWeight
	}
	if weightTotal == 0 {
		return 0, models.SourceDeterministic
	}

	dominant := models.SourceDeterministic
	if probShare > detShare {
		dominant = models.SourceProbabilistic
	}
	return weightedSum / weightTotal, dominant
}

// SourceConfidence derives a record's confidence from its declared value,
// with uncertainty contributing at most a 50% reduction.
func SourceConfidence(record models.AnalysisRecord) float64 {
	penalty := math.Min(maxUncertaintyPenalty, record.Uncertainty)
	return record.DeclaredConfidence * (1 - penalty)
}

// countStrong counts independently-corroborating findings: correlation
// findings above the strength cutoff plus anomaly findings scoring above it.
func (f *Fuser) countStrong(cl cluster) int {
	strong := 0
	for _, finding := range cl.correlations {
		if finding.Strength > strongFindingCutoff {
			strong++
		}
	}
	for _, anomaly := range cl.anomalies {
		if anomaly.Score > strongFindingCutoff {
			strong++
		}
	}
	return strong
}

// corroborationBoost grows confidence with every strong finding beyond the
// first, capped at 25%. More corroboration never lowers confidence.
func corroborationBoost(strongFindings int) float64 {
	extra := strongFindings - 1
	if extra <= 0 {
		return 1
	}
	if extra > maxCorroboration {
		extra = maxCorroboration
	}
	return 1 + corroborationStep*float64(extra)
}

// severityBand buckets confidence into five ordinal bands.
func severityBand(confidence float64) int {
	band := int(confidence*5) + 1
	if band > 5 {
		band = 5
	}
	if band < 1 {
		band = 1
	}
	return band
}
