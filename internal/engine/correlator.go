package engine

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/paulmach/orb/geo"

	"github.com/sentinelstack/fusion-engine/internal/models"
)

const (
	// clusterSizeScale saturates cluster strength at ten members.
	clusterSizeScale = 10
	// maxSubsequenceLen bounds the behavioral n-gram search.
	maxSubsequenceLen = 4
)

// CorrelatorConfig carries the static correlation window sizes.
type CorrelatorConfig struct {
	TemporalWindow     time.Duration
	SpatialThresholdKm float64
}

// Correlator runs the four independent correlation passes over one batch.
// Passes only read AnalysisRecords and are safe to run concurrently.
type Correlator struct {
	logger *slog.Logger
	cfg    CorrelatorConfig
}

// NewCorrelator constructs a Correlator.
func NewCorrelator(logger *slog.Logger, cfg CorrelatorConfig) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TemporalWindow <= 0 {
		cfg.TemporalWindow = 300 * time.Second
	}
	if cfg.SpatialThresholdKm <= 0 {
		cfg.SpatialThresholdKm = 50
	}
	return &Correlator{logger: logger, cfg: cfg}
}

// Temporal clusters records whose successive timestamps differ by at most
// the temporal window. Singleton clusters are discarded.
func (c *Correlator) Temporal(records []models.AnalysisRecord, threshold float64) []models.CorrelationFinding {
	if len(records) < 2 {
		return nil
	}

	sorted := append([]models.AnalysisRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	findings := make([]models.CorrelationFinding, 0)
	cluster := []models.AnalysisRecord{sorted[0]}
	flush := func() {
		if len(cluster) < 2 {
			return
		}
		strength := clusterStrength(len(cluster))
		if strength < threshold {
			return
		}
		findings = append(findings, newFinding(models.DimensionTemporal, memberIDs(cluster), strength))
	}

	for _, record := range sorted[1:] {
		gap := record.Timestamp.Sub(cluster[len(cluster)-1].Timestamp)
		if gap <= c.cfg.TemporalWindow {
			cluster = append(cluster, record)
			continue
		}
		flush()
		cluster = []models.AnalysisRecord{record}
	}
	flush()

	return findings
}

// Spatial clusters records with locations using the configured distance
// threshold. Strength scales with cluster size and member density.
func (c *Correlator) Spatial(records []models.AnalysisRecord, threshold float64) []models.CorrelationFinding {
	located := make([]models.AnalysisRecord, 0, len(records))
	for _, record := range records {
		if record.Location != nil {
			located = append(located, record)
		}
	}
	if len(located) < 2 {
		return nil
	}

	thresholdMeters := c.cfg.SpatialThresholdKm * 1000
	uf := newUnionFind(len(located))
	for i := 0; i < len(located); i++ {
		for j := i + 1; j < len(located); j++ {
			if geo.DistanceHaversine(*located[i].Location, *located[j].Location) <= thresholdMeters {
				uf.union(i, j)
			}
		}
	}

	clusters := make(map[int][]int)
	for i := range located {
		root := uf.find(i)
		clusters[root] = append(clusters[root], i)
	}

	roots := make([]int, 0, len(clusters))
	for root := range clusters {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	findings := make([]models.CorrelationFinding, 0)
	for _, root := range roots {
		indices := clusters[root]
		if len(indices) < 2 {
			continue
		}
		members := make([]models.AnalysisRecord, 0, len(indices))
		for _, idx := range indices {
			members = append(members, located[idx])
		}
		strength := clusterStrength(len(members)) * c.spatialDensity(members, thresholdMeters)
		if strength < threshold {
			continue
		}
		findings = append(findings, newFinding(models.DimensionSpatial, memberIDs(members), strength))
	}
	return findings
}

// spatialDensity maps the mean pairwise distance onto (0.5, 1]: tight
// clusters keep full strength, spread ones are halved at the threshold.
func (c *Correlator) spatialDensity(members []models.AnalysisRecord, thresholdMeters float64) float64 {
	total, pairs := 0.0, 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			total += geo.DistanceHaversine(*members[i].Location, *members[j].Location)
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	spread := math.Min(1, (total/float64(pairs))/thresholdMeters)
	return 1 - 0.5*spread
}

// CrossSignal pairs probabilistic and deterministic records, scoring each
// pair by cosine similarity over shared feature dimensions penalized by the
// pair's average declared uncertainty.
func (c *Correlator) CrossSignal(records []models.AnalysisRecord, threshold float64) []models.CorrelationFinding {
	var probabilistic, deterministic []models.AnalysisRecord
	for _, record := range records {
		switch record.Source {
		case models.SourceProbabilistic:
			probabilistic = append(probabilistic, record)
		case models.SourceDeterministic:
			deterministic = append(deterministic, record)
		}
	}

	findings := make([]models.CorrelationFinding, 0)
	for _, p := range probabilistic {
		for _, d := range deterministic {
			similarity, ok := cosineSimilarity(p.Features, d.Features)
			if !ok {
				continue
			}
			avgUncertainty := (p.Uncertainty + d.Uncertainty) / 2
			strength := similarity * (1 - avgUncertainty)
			if strength <= threshold {
				continue
			}
			findings = append(findings, newFinding(
				models.DimensionCrossSignal,
				memberIDs([]models.AnalysisRecord{p, d}),
				strength,
			))
		}
	}
	return findings
}

// Behavioral finds tag subsequences of length >= 2 repeated across at least
// two records of the same source group. Strength is the fraction of the
// group's records exhibiting the subsequence.
func (c *Correlator) Behavioral(records []models.AnalysisRecord, threshold float64) []models.CorrelationFinding {
	groups := make(map[models.Source][]models.AnalysisRecord)
	for _, record := range records {
		groups[record.Source] = append(groups[record.Source], record)
	}

	sources := make([]models.Source, 0, len(groups))
	for source := range groups {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	findings := make([]models.CorrelationFinding, 0)
	for _, source := range sources {
		group := groups[source]
		if len(group) < 2 {
			continue
		}
		findings = append(findings, c.behavioralForGroup(group, threshold)...)
	}
	return findings
}

func (c *Correlator) behavioralForGroup(group []models.AnalysisRecord, threshold float64) []models.CorrelationFinding {
	// subsequence key -> distinct record IDs containing it
	occurrences := make(map[string]map[string]struct{})
	for _, record := range group {
		tags := record.BehavioralTags
		maxLen := maxSubsequenceLen
		if len(tags) < maxLen {
			maxLen = len(tags)
		}
		for length := 2; length <= maxLen; length++ {
			for start := 0; start+length <= len(tags); start++ {
				key := strings.Join(tags[start:start+length], "\x1f")
				if occurrences[key] == nil {
					occurrences[key] = make(map[string]struct{})
				}
				occurrences[key][record.RecordID] = struct{}{}
			}
		}
	}

	keys := make([]string, 0, len(occurrences))
	for key := range occurrences {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	// Overlapping subsequences with identical member sets collapse into the
	// strongest finding, so a repeated 3-gram does not also count twice
	// through its embedded 2-grams.
	best := make(map[string]models.CorrelationFinding)
	order := make([]string, 0)
	for _, key := range keys {
		ids := occurrences[key]
		if len(ids) < 2 {
			continue
		}
		strength := math.Min(1, float64(len(ids))/float64(len(group)))
		if strength < threshold {
			continue
		}
		members := make([]string, 0, len(ids))
		for id := range ids {
			members = append(members, id)
		}
		sort.Strings(members)
		memberKey := strings.Join(members, ",")
		existing, ok := best[memberKey]
		if !ok {
			order = append(order, memberKey)
		}
		if !ok || strength > existing.Strength {
			best[memberKey] = newFinding(models.DimensionBehavioral, members, strength)
		}
	}

	findings := make([]models.CorrelationFinding, 0, len(best))
	for _, memberKey := range order {
		findings = append(findings, best[memberKey])
	}
	return findings
}

func newFinding(dim models.Dimension, members []string, strength float64) models.CorrelationFinding {
	return models.CorrelationFinding{
		Dimension:       dim,
		MemberRecordIDs: members,
		Strength:        strength,
		Tier:            models.TierForStrength(strength),
	}
}

func memberIDs(records []models.AnalysisRecord) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.RecordID)
	}
	sort.Strings(ids)
	return ids
}

func clusterStrength(size int) float64 {
	return math.Min(1, float64(size)/clusterSizeScale)
}

// cosineSimilarity computes similarity over the shared feature prefix.
// The second return is false when the records share no dimensions or a
// vector has zero magnitude over the shared prefix.
func cosineSimilarity(a, b []float64) (float64, bool) {
	shared := len(a)
	if len(b) < shared {
		shared = len(b)
	}
	if shared == 0 {
		return 0, false
	}

	dot, normA, normB := 0.0, 0.0, 0.0
	for i := 0; i < shared; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		if rj < ri {
			ri, rj = rj, ri
		}
		u.parent[rj] = ri
	}
}
