// Benchmark tool for testing Kestrel against labeled card-fraud data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/transactions.csv -url http://localhost:8080
//
// The CSV needs the columns: user_id, amount, category, hour, day_of_week,
// is_fraud. This tool:
//  1. Trains a model per user from that user's legitimate history
//  2. Sends every labeled transaction to Kestrel for scoring
//  3. Compares Kestrel's verdict (suspicious or not) with the fraud labels
//  4. Calculates precision, recall, F1-score, and confusion matrix
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
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction represents one row of the benchmark dataset.
type LabeledTransaction struct {
	UserID    string
	Amount    float64
	Category  string
	Hour      int
	DayOfWeek int
	IsFraud   bool
}

// Transaction is the Kestrel API transaction format.
type Transaction struct {
	UserID           string  `json:"userId"`
	Amount           float64 `json:"amount"`
	MerchantCategory string  `json:"merchantCategory"`
	Hour             int     `json:"hour"`
	DayOfWeek        int     `json:"dayOfWeek"`
}

// TrainRequest is the Kestrel API request format for POST /train.
type TrainRequest struct {
	UserID       string         `json:"userId"`
	Transactions []*Transaction `json:"transactions"`
}

// DetectResponse is the Kestrel API response format for POST /detect.
type DetectResponse struct {
	ID           string  `json:"id"`
	FinalScore   float64 `json:"finalScore"`
	RiskTier     string  `json:"riskTier"`
	IsSuspicious bool    `json:"isSuspicious"`
	Confidence   float64 `json:"confidence"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged as suspicious
	FalsePositives int64 // Legit flagged as suspicious
	TrueNegatives  int64 // Legit passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalLegit     int64
	TotalUnknown   int64 // Users without enough history to train
	TotalErrors    int64

	ProcessingTimeMs int64
}

const minTrainable = 15

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled transaction CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("=================================================================")
	fmt.Println("          KESTREL BENCHMARK - Card Fraud Detection")
	fmt.Println("=================================================================")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	// Read labeled data
	fmt.Printf("\nReading labeled data from %s...\n", *csvPath)
	transactions, err := readLabeledCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	// Count fraud vs legit
	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud: %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Legit: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	// Train per-user models from legitimate history
	fmt.Println("\nTraining per-user models from legitimate history...")
	trained := trainUsers(transactions, *baseURL)
	fmt.Printf("Trained %d user models\n", len(trained))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, trained, *baseURL, *workers, *verbose)
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

func readLabeledCSV(path string, limit int) ([]LabeledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

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
	for _, required := range []string{"user_id", "amount", "category", "hour", "day_of_week", "is_fraud"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var transactions []LabeledTransaction

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)
		hour, _ := strconv.Atoi(record[colIndex["hour"]])
		day, _ := strconv.Atoi(record[colIndex["day_of_week"]])

		transactions = append(transactions, LabeledTransaction{
			UserID:    record[colIndex["user_id"]],
			Amount:    amount,
			Category:  record[colIndex["category"]],
			Hour:      hour,
			DayOfWeek: day,
			IsFraud:   record[colIndex["is_fraud"]] == "1",
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// trainUsers trains a model per user from that user's legitimate rows.
// Returns the set of users with a trained model.
func trainUsers(transactions []LabeledTransaction, baseURL string) map[string]bool {
	histories := make(map[string][]*Transaction)
	for _, tx := range transactions {
		if tx.IsFraud {
			continue
		}
		histories[tx.UserID] = append(histories[tx.UserID], &Transaction{
			UserID:           tx.UserID,
			Amount:           tx.Amount,
			MerchantCategory: tx.Category,
			Hour:             tx.Hour,
			DayOfWeek:        tx.DayOfWeek,
		})
	}

	client := &http.Client{Timeout: 60 * time.Second}
	trained := make(map[string]bool)

	for userID, history := range histories {
		if len(history) < minTrainable {
			continue
		}

		body, _ := json.Marshal(TrainRequest{UserID: userID, Transactions: history})
		resp, err := client.Post(baseURL+"/train", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("WARN: training failed for %s: %v\n", userID, err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			trained[userID] = true
		}
	}

	return trained
}

func runBenchmark(transactions []LabeledTransaction, trained map[string]bool, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				if !trained[tx.UserID] {
					atomic.AddInt64(&metrics.TotalUnknown, 1)
					continue
				}

				start := time.Now()
				result, err := detectTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.UserID, err)
					}
					continue
				}

				// Track actual labels
				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalLegit, 1)
				}

				// Calculate confusion matrix
				predicted := result.IsSuspicious
				actual := tx.IsFraud

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
					status := "ok  "
					if (predicted && !actual) || (!predicted && actual) {
						status = "MISS"
					}
					fmt.Printf("%s %-12s | Amount: $%10.2f | Cat: %-12s | Fraud: %-5v | Kestrel: %-8s (%.2f)\n",
						status,
						tx.UserID,
						tx.Amount,
						tx.Category,
						tx.IsFraud,
						result.RiskTier,
						result.FinalScore,
					)
				}
			}
		}()
	}

	// Send work
	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func detectTransaction(client *http.Client, baseURL string, tx LabeledTransaction) (*DetectResponse, error) {
	body, err := json.Marshal(&Transaction{
		UserID:           tx.UserID,
		Amount:           tx.Amount,
		MerchantCategory: tx.Category,
		Hour:             tx.Hour,
		DayOfWeek:        tx.DayOfWeek,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n=================================================================")
	fmt.Println("                      BENCHMARK RESULTS")
	fmt.Println("=================================================================")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Legit:      %d\n", m.TotalLegit)
	fmt.Printf("   Untrainable:      %d\n", m.TotalUnknown)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                          Predicted")
	fmt.Println("                    Suspicious      Pass")
	fmt.Println("              +------------+------------+")
	fmt.Printf("   Actual  F  | %10d | %10d |  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              +------------+------------+")
	fmt.Printf("           L  | %10d | %10d |  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              +------------+------------+")

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

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\nDETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalLegit > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalLegit) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLegit, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
