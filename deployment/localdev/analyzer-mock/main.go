// analyzer-mock generates synthetic probabilistic and deterministic analyzer
// batches and posts them to a locally running fusion-engine.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type rawRecord struct {
	Source             string             `json:"source"`
	RecordID           string             `json:"record_id"`
	TimestampNanos     int64              `json:"timestamp_ns"`
	Latitude           *float64           `json:"latitude,omitempty"`
	Longitude          *float64           `json:"longitude,omitempty"`
	Features           []float64          `json:"feature_vector"`
	DeclaredConfidence float64            `json:"declared_confidence"`
	UncertaintyMetrics map[string]float64 `json:"uncertainty_metrics,omitempty"`
	BehavioralTags     []string           `json:"behavioral_tags,omitempty"`
}

type batchRequest struct {
	Records []rawRecord `json:"records"`
}

func main() {
	var (
		target   string
		interval time.Duration
		size     int
	)
	flag.StringVar(&target, "target", "http://localhost:8087", "fusion-engine base URL")
	flag.DurationVar(&interval, "interval", 2*time.Second, "delay between batches")
	flag.IntVar(&size, "size", 20, "records per batch")
	flag.Parse()

	logger := log.New(log.Writer(), "analyzer-mock ", log.LstdFlags|log.Lmicroseconds)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		batch := makeBatch(rng, size)
		if err := postBatch(target+"/v1/batches", batch); err != nil {
			logger.Printf("submit failed: %v", err)
		} else {
			logger.Printf("submitted %d records", len(batch.Records))
		}
		time.Sleep(interval)
	}
}

func makeBatch(rng *rand.Rand, size int) batchRequest {
	base := time.Now().Add(-10 * time.Minute)
	tagPool := [][]string{
		{"login", "scan", "exfil"},
		{"burst", "burst", "idle"},
		{"auth_fail", "auth_fail", "lockout"},
		{"probe", "silence"},
		{"idle"},
	}

	records := make([]rawRecord, 0, size)
	for i := 0; i < size; i++ {
		source := "probabilistic"
		uncertainty := map[string]float64{"entropy": rng.Float64() * 0.4}
		if i%2 == 0 {
			source = "deterministic"
			uncertainty = map[string]float64{"rule_ambiguity": rng.Float64() * 0.2}
		}

		rec := rawRecord{
			Source:             source,
			RecordID:           source[:1] + "-" + time.Now().Format("150405") + "-" + string(rune('a'+i%26)),
			TimestampNanos:     base.Add(time.Duration(rng.Intn(600)) * time.Second).UnixNano(),
			Features:           []float64{rng.Float64(), rng.Float64(), rng.Float64()},
			DeclaredConfidence: 0.4 + rng.Float64()*0.6,
			UncertaintyMetrics: uncertainty,
			BehavioralTags:     tagPool[rng.Intn(len(tagPool))],
		}
		if rng.Float64() < 0.6 {
			lat := 51.5 + rng.Float64()*0.5
			lon := -0.2 + rng.Float64()*0.5
			rec.Latitude = &lat
			rec.Longitude = &lon
		}
		records = append(records, rec)
	}
	return batchRequest{Records: records}
}

func postBatch(url string, batch batchRequest) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}
