package engine

import (
	"log/slog"
	"math"
	"sort"

	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/tuner"
)

const (
	detectorOutlier = "statistical_outlier"
	detectorPattern = "domain_pattern"
	detectorTiming  = "timing"
)

// AnomalyPattern is one entry of the domain-pattern table. A record matches
// when its behavioral tags contain Tags as a contiguous subsequence and its
// feature magnitude clears the pattern's strength threshold.
type AnomalyPattern struct {
	Name        string
	Class       models.AnomalyClass
	Tags        []string
	MinStrength float64
}

// DefaultPatterns returns the built-in anomaly pattern table.
func DefaultPatterns() []AnomalyPattern {
	return []AnomalyPattern{
		{Name: "signal-burst", Class: "SIGNAL_BURST", Tags: []string{"burst", "burst"}, MinStrength: 0.4},
		{Name: "credential-sweep", Class: "CREDENTIAL_SWEEP", Tags: []string{"auth_fail", "auth_fail"}, MinStrength: 0.5},
		{Name: "silent-probe", Class: "SILENT_PROBE", Tags: []string{"probe", "silence"}, MinStrength: 0.3},
	}
}

// AnomalyDetectors bundles the three per-batch anomaly detectors. Each is
// independent; a failing detector contributes empty findings only.
type AnomalyDetectors struct {
	logger   *slog.Logger
	patterns []AnomalyPattern
}

// NewAnomalyDetectors constructs the detector bank. A nil pattern table
// selects the built-in defaults.
func NewAnomalyDetectors(logger *slog.Logger, patterns []AnomalyPattern) *AnomalyDetectors {
	if logger == nil {
		logger = slog.Default()
	}
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	return &AnomalyDetectors{logger: logger, patterns: patterns}
}

// StatisticalOutliers flags records whose feature vectors sit beyond the
// configured percentile of centroid distances.
func (d *AnomalyDetectors) StatisticalOutliers(records []models.AnalysisRecord, sens tuner.Sensitivity) []models.AnomalyFinding {
	featured := make([]models.AnalysisRecord, 0, len(records))
	dims := math.MaxInt
	for _, record := range records {
		if len(record.Features) == 0 {
			continue
		}
		featured = append(featured, record)
		if len(record.Features) < dims {
			dims = len(record.Features)
		}
	}
	if len(featured) < 3 || dims == 0 || dims == math.MaxInt {
		return nil
	}

	centroid := make([]float64, dims)
	for _, record := range featured {
		for i := 0; i < dims; i++ {
			centroid[i] += record.Features[i]
		}
	}
	for i := range centroid {
		centroid[i] /= float64(len(featured))
	}

	distances := make([]float64, len(featured))
	maxDistance := 0.0
	for i, record := range featured {
		sum := 0.0
		for j := 0; j < dims; j++ {
			diff := record.Features[j] - centroid[j]
			sum += diff * diff
		}
		distances[i] = math.Sqrt(sum)
		if distances[i] > maxDistance {
			maxDistance = distances[i]
		}
	}
	if maxDistance == 0 {
		return nil
	}

	cutoff := percentileValue(distances, sens.OutlierPercentile)

	findings := make([]models.AnomalyFinding, 0)
	for i, record := range featured {
		if distances[i] <= cutoff {
			continue
		}
		findings = append(findings, models.AnomalyFinding{
			DetectorName:   detectorOutlier,
			TargetRecordID: record.RecordID,
			Score:          math.Min(1, distances[i]/maxDistance),
			Class:          models.AnomalyStatisticalOutlier,
		})
	}
	return findings
}

// DomainPatterns matches records against the named anomaly pattern table.
func (d *AnomalyDetectors) DomainPatterns(records []models.AnalysisRecord, sens tuner.Sensitivity) []models.AnomalyFinding {
	findings := make([]models.AnomalyFinding, 0)
	for _, record := range records {
		for _, pattern := range d.patterns {
			if !containsSubsequence(record.BehavioralTags, pattern.Tags) {
				continue
			}
			strength := featureMagnitude(record.Features)
			minStrength := pattern.MinStrength
			if minStrength <= 0 {
				minStrength = sens.PatternMinStrength
			}
			if strength < minStrength {
				continue
			}
			findings = append(findings, models.AnomalyFinding{
				DetectorName:   detectorPattern,
				TargetRecordID: record.RecordID,
				Score:          strength,
				Class:          pattern.Class,
			})
		}
	}
	return findings
}

// Timing applies the 3-sigma rule to inter-record intervals per source.
// Each interval is judged against the statistics of the remaining intervals
// so a single extreme gap cannot mask itself.
func (d *AnomalyDetectors) Timing(records []models.AnalysisRecord, sens tuner.Sensitivity) []models.AnomalyFinding {
	sigma := sens.TimingSigma
	if sigma <= 0 {
		sigma = 3
	}

	groups := make(map[models.Source][]models.AnalysisRecord)
	for _, record := range records {
		groups[record.Source] = append(groups[record.Source], record)
	}

	sources := make([]models.Source, 0, len(groups))
	for source := range groups {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	findings := make([]models.AnomalyFinding, 0)
	for _, source := range sources {
		group := groups[source]
		if len(group) < 3 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].Timestamp.Before(group[j].Timestamp) })

		intervals := make([]float64, len(group)-1)
		for i := 1; i < len(group); i++ {
			intervals[i-1] = group[i].Timestamp.Sub(group[i-1].Timestamp).Seconds()
		}

		for i, interval := range intervals {
			mean, stddev := meanStddevExcluding(intervals, i)
			deviation := math.Abs(interval - mean)
			if stddev == 0 {
				if deviation == 0 {
					continue
				}
				// Perfectly regular cadence elsewhere; any gap change is anomalous.
				findings = append(findings, timingFinding(group[i+1].RecordID, 1))
				continue
			}
			if deviation <= sigma*stddev {
				continue
			}
			findings = append(findings, timingFinding(
				group[i+1].RecordID,
				math.Min(1, deviation/(sigma*stddev)),
			))
		}
	}
	return findings
}

func timingFinding(recordID string, score float64) models.AnomalyFinding {
	return models.AnomalyFinding{
		DetectorName:   detectorTiming,
		TargetRecordID: recordID,
		Score:          score,
		Class:          models.AnomalyTiming,
	}
}

func meanStddevExcluding(values []float64, skip int) (float64, float64) {
	n := len(values) - 1
	if n <= 0 {
		return 0, 0
	}
	mean := 0.0
	for i, v := range values {
		if i == skip {
			continue
		}
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for i, v := range values {
		if i == skip {
			continue
		}
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance)
}

func percentileValue(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		p = 95
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	index := int((p / 100.0) * float64(len(sorted)-1))
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

func featureMagnitude(features []float64) float64 {
	if len(features) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range features {
		sum += math.Abs(f)
	}
	return math.Min(1, sum/float64(len(features)))
}

func containsSubsequence(tags, want []string) bool {
	if len(want) == 0 || len(tags) < len(want) {
		return false
	}
	for start := 0; start+len(want) <= len(tags); start++ {
		matched := true
		for i, w := range want {
			if tags[start+i] != w {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
