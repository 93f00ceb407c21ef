// Benchmark tool for testing Kestrel against labeled phishing/scam text data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/messages.csv -url http://localhost:8080
//
// The CSV needs a "text" column and a "label" column (1 = phishing/scam,
// 0 = legitimate). This tool:
//   1. Reads the labeled messages
//   2. Sends each one to Kestrel for scoring
//   3. Compares Kestrel's flag with the actual label
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledMessage represents a row from the labeled dataset
type LabeledMessage struct {
	Text       string
	Channel    string
	IsPhishing bool
}

// AnalyzeRequest is the Kestrel API request format
type AnalyzeRequest struct {
	Channel string `json:"channel"`
	ActorID string `json:"actorId,omitempty"`
	Text    string `json:"text"`
}

// AnalyzeResponse is the Kestrel API response format
type AnalyzeResponse struct {
	ID          string  `json:"id"`
	RiskScore   float64 `json:"riskScore"`
	IsFlagged   bool    `json:"isFlagged"`
	ThreatLevel string  `json:"threatLevel"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Phishing flagged
	FalsePositives int64 // Legitimate flagged
	TrueNegatives  int64 // Legitimate passed
	FalseNegatives int64 // Phishing passed (missed!)

	TotalProcessed int64
	TotalPhishing  int64
	TotalLegit     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled message CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	channel := flag.String("channel", "email", "Channel to score messages on")
	limit := flag.Int("limit", 10000, "Maximum messages to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	phishingOnly := flag.Bool("phishing-only", false, "Only test phishing messages")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for legitimate messages (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each message result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/messages.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Phishing Text Detection           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Channel:     %s\n", *channel)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled messages from %s...\n", *csvPath)
	messages, err := readLabeledCSV(*csvPath, *channel, *limit, *phishingOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d messages\n", len(messages))

	// Count phishing vs legitimate
	phishingCount := 0
	for _, m := range messages {
		if m.IsPhishing {
			phishingCount++
		}
	}
	fmt.Printf("  - Phishing:   %d (%.2f%%)\n", phishingCount, 100*float64(phishingCount)/float64(len(messages)))
	fmt.Printf("  - Legitimate: %d (%.2f%%)\n", len(messages)-phishingCount, 100*float64(len(messages)-phishingCount)/float64(len(messages)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(messages, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
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

func readLabeledCSV(path, channel string, limit int, phishingOnly bool, sampleRate float64) ([]LabeledMessage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	textCol, ok := colIndex["text"]
	if !ok {
		return nil, fmt.Errorf("CSV has no 'text' column")
	}
	labelCol, ok := colIndex["label"]
	if !ok {
		return nil, fmt.Errorf("CSV has no 'label' column")
	}

	var messages []LabeledMessage
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		if len(record) <= textCol || len(record) <= labelCol {
			continue
		}

		label := strings.TrimSpace(record[labelCol])
		isPhishing := label == "1" || strings.EqualFold(label, "phishing") || strings.EqualFold(label, "spam")

		// Apply filters
		if phishingOnly && !isPhishing {
			continue
		}

		// Sample legitimate messages
		if !isPhishing && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		messages = append(messages, LabeledMessage{
			Text:       record[textCol],
			Channel:    channel,
			IsPhishing: isPhishing,
		})

		if limit > 0 && len(messages) >= limit {
			break
		}
	}

	return messages, nil
}

func runBenchmark(messages []LabeledMessage, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledMessage, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for msg := range work {
				start := time.Now()
				result, err := analyzeText(client, baseURL, tenantID, msg)
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
				if msg.IsPhishing {
					atomic.AddInt64(&metrics.TotalPhishing, 1)
				} else {
					atomic.AddInt64(&metrics.TotalLegit, 1)
				}

				// Calculate confusion matrix
				predicted := result.IsFlagged
				actual := msg.IsPhishing

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
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					preview := msg.Text
					if len(preview) > 40 {
						preview = preview[:40]
					}
					fmt.Printf("%s %-40s | Phishing: %-5v | Kestrel: %-5v (%.2f) | %s\n",
						status,
						preview,
						msg.IsPhishing,
						result.IsFlagged,
						result.RiskScore,
						result.ThreatLevel,
					)
				}
			}
		}()
	}

	// Send work
	for _, msg := range messages {
		work <- msg
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func analyzeText(client *http.Client, baseURL, tenantID string, msg LabeledMessage) (*AnalyzeResponse, error) {
	req := AnalyzeRequest{
		Channel: msg.Channel,
		Text:    msg.Text,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze/text", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
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
	fmt.Printf("   Total Phishing:   %d\n", m.TotalPhishing)
	fmt.Printf("   Total Legit:      %d\n", m.TotalLegit)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged     Passed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  P  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual phishing)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of phishing, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalPhishing > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalPhishing) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalPhishing) * 100
		fmt.Printf("   Phishing Detected: %d / %d (%.2f%%)\n", m.TruePositives, m.TotalPhishing, detectionRate)
		fmt.Printf("   Phishing Missed:   %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalPhishing, missRate)
	}
	if m.TotalLegit > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalLegit) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLegit, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f msg/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most phishing")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some phishing")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant phishing being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most phishing is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
