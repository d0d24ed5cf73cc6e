// Benchmark tool for testing Kestrel's behavioral anomaly detection.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -token $SESSION_TOKEN
//
// This tool:
//   1. Generates labeled synthetic telemetry: a genuine-user behavioral
//      cluster plus impostor outliers
//   2. Trains a baseline via POST /api/ai/train
//   3. Scores each labeled record via POST /api/ai/predict
//   4. Compares the verdict with the label and reports precision,
//      recall, F1-score and the confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledSample is one telemetry record with its ground-truth label.
type LabeledSample struct {
	Sample     map[string]float64
	IsImpostor bool
}

// TrainRequest is the Kestrel API request format for baseline training.
type TrainRequest struct {
	Samples []map[string]float64 `json:"samples"`
}

// PredictResponse is the Kestrel API response format for scoring.
type PredictResponse struct {
	TrustScore  float64 `json:"trust_score"`
	RawScore    float64 `json:"raw_score"`
	IsAnomalous bool    `json:"is_anomalous"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Impostor flagged anomalous
	FalsePositives int64 // Genuine flagged anomalous
	TrueNegatives  int64 // Genuine passed
	FalseNegatives int64 // Impostor passed (missed takeover!)

	TotalProcessed int64
	TotalImpostor  int64
	TotalGenuine   int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	token := flag.String("token", "", "Session token (from /api/auth/verify-login-otp)")
	trainSize := flag.Int("train", 200, "Training samples for the baseline")
	genuine := flag.Int("genuine", 500, "Genuine test samples")
	impostors := flag.Int("impostors", 100, "Impostor test samples")
	seed := flag.Int64("seed", 1, "RNG seed for sample generation")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each sample result")
	flag.Parse()

	if *token == "" {
		fmt.Println("Usage: benchmark -token $SESSION_TOKEN [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Behavioral Anomaly Detection       ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Train Size:  %d\n", *trainSize)
	fmt.Printf("Genuine:     %d\n", *genuine)
	fmt.Printf("Impostors:   %d\n", *impostors)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	rng := rand.New(rand.NewSource(*seed))

	// Train the baseline from the genuine cluster
	fmt.Printf("\nTraining baseline from %d samples...\n", *trainSize)
	trainSet := make([]map[string]float64, *trainSize)
	for i := range trainSet {
		trainSet[i] = genuineSample(rng)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	if err := trainBaseline(client, *baseURL, *token, trainSet); err != nil {
		fmt.Printf("ERROR: Training failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Baseline trained")

	// Build the labeled test set
	samples := make([]LabeledSample, 0, *genuine+*impostors)
	for i := 0; i < *genuine; i++ {
		samples = append(samples, LabeledSample{Sample: genuineSample(rng)})
	}
	for i := 0; i < *impostors; i++ {
		samples = append(samples, LabeledSample{Sample: impostorSample(rng), IsImpostor: true})
	}
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})

	// Run benchmark
	fmt.Printf("\nScoring %d labeled samples with %d workers...\n", len(samples), *workers)
	startTime := time.Now()
	metrics := runBenchmark(samples, *baseURL, *token, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

// genuineSample draws from the genuine-user behavioral cluster.
func genuineSample(rng *rand.Rand) map[string]float64 {
	return map[string]float64{
		"keystroke_speed":    5 + rng.NormFloat64()*0.5,
		"mouse_speed":        120 + rng.NormFloat64()*10,
		"idle_time":          3 + rng.NormFloat64()*0.3,
		"cursor_path_length": 840 + rng.NormFloat64()*60,
	}
}

// impostorSample draws far outside the genuine cluster: scripted-speed
// input with long idle gaps.
func impostorSample(rng *rand.Rand) map[string]float64 {
	return map[string]float64{
		"keystroke_speed":    40 + rng.NormFloat64()*5,
		"mouse_speed":        900 + rng.NormFloat64()*80,
		"idle_time":          25 + rng.NormFloat64()*3,
		"cursor_path_length": 6500 + rng.NormFloat64()*500,
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func trainBaseline(client *http.Client, baseURL, token string, samples []map[string]float64) error {
	body, err := json.Marshal(TrainRequest{Samples: samples})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/ai/train", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(samples []LabeledSample, baseURL, token string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledSample, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for ls := range work {
				start := time.Now()
				result, err := predictSample(client, baseURL, token, ls.Sample)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				// Track actual labels
				if ls.IsImpostor {
					atomic.AddInt64(&metrics.TotalImpostor, 1)
				} else {
					atomic.AddInt64(&metrics.TotalGenuine, 1)
				}

				// Calculate confusion matrix
				predicted := result.IsAnomalous
				actual := ls.IsImpostor

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					fmt.Printf("%s impostor=%-5v | trust %6.2f | raw %.4f | anomalous %v\n",
						status,
						ls.IsImpostor,
						result.TrustScore,
						result.RawScore,
						result.IsAnomalous,
					)
				}
			}
		}()
	}

	// Send work
	for _, ls := range samples {
		work <- ls
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func predictSample(client *http.Client, baseURL, token string, sample map[string]float64) (*PredictResponse, error) {
	body, err := json.Marshal(sample)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/ai/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Impostor:   %d\n", m.TotalImpostor)
	fmt.Printf("   Total Genuine:    %d\n", m.TotalGenuine)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Printf("   True Positives:   %d (impostor flagged)\n", m.TruePositives)
	fmt.Printf("   False Positives:  %d (genuine flagged)\n", m.FalsePositives)
	fmt.Printf("   True Negatives:   %d (genuine passed)\n", m.TrueNegatives)
	fmt.Printf("   False Negatives:  %d (impostor missed!)\n", m.FalseNegatives)

	precision := 0.0
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	recall := 0.0
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	f1 := 0.0
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Printf("\n🎯 DETECTION QUALITY\n")
	fmt.Printf("   Precision:        %.4f\n", precision)
	fmt.Printf("   Recall:           %.4f\n", recall)
	fmt.Printf("   F1-Score:         %.4f\n", f1)

	fmt.Printf("\n⚡ THROUGHPUT\n")
	fmt.Printf("   Wall Time:        %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.1f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Samples/sec:      %.1f\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
