package stats

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// PerformanceData holds timing and metadata for one execution strategy.
type PerformanceData struct {
	AlgorithmName   string
	ImagesProcessed int
	Rows            int
	Cols            int
	Mode            string
	TotalTime       float64
	AverageTime     float64
	InputPaths      []string
	OutputPaths     []string
	Timestamp       time.Time

	// Strategy-specific data
	Workers      *int     // Parallel and Distributed
	TileSize     *int     // Parallel and Distributed
	Speedup      *float64 // relative to Reference
	MaxDeviation *float64 // against Reference
	Pass         *bool
}

// IntPtr, FloatPtr and BoolPtr return pointers to copies of their argument.
func IntPtr(v int) *int           { return &v }
func FloatPtr(v float64) *float64 { return &v }
func BoolPtr(v bool) *bool        { return &v }

var prefixes = map[string]string{
	"Reference":   "a_",
	"Parallel":    "b_",
	"Distributed": "c_",
}

// WritePerformanceResults writes a single combined results file into dir and
// returns its path.
func WritePerformanceResults(dir string, results []PerformanceData) (string, error) {
	return WritePerformanceResultsWithPrefix(dir, results, "sobel_")
}

// WritePerformanceResultsWithPrefix writes results file with custom prefix.
func WritePerformanceResultsWithPrefix(dir string, results []PerformanceData, prefix string) (string, error) {
	if len(results) == 0 {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}

	// Use timestamp from first result
	timestamp := results[0].Timestamp.Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(dir, fmt.Sprintf("%s%s.txt", prefix, timestamp))

	file, err := os.Create(resultsFile)
	if err != nil {
		return "", fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	if err := Format(file, results); err != nil {
		return "", fmt.Errorf("failed to write results file: %w", err)
	}
	return resultsFile, nil
}

// Format renders results in the combined report layout.
func Format(w io.Writer, results []PerformanceData) error {
	if len(results) == 0 {
		return nil
	}
	ew := &errWriter{w: w}

	ew.printf("=== Combined Sobel Edge Detection Results ===\n")
	ew.printf("Timestamp: %s\n\n", results[0].Timestamp.Format("2006-01-02 15:04:05"))

	for _, result := range results {
		ew.printf("=== %s%s Results ===\n", prefixes[result.AlgorithmName], result.AlgorithmName)
		ew.printf("Images processed: %d\n", result.ImagesProcessed)
		if result.Rows > 0 || result.Cols > 0 {
			ew.printf("Dimensions: %dx%d\n", result.Cols, result.Rows)
		}
		if result.Mode != "" {
			ew.printf("Representation: %s\n", result.Mode)
		}
		ew.printf("Total execution time: %.4fs\n", result.TotalTime)
		ew.printf("Average time per image: %.4fs\n", result.AverageTime)

		if result.Workers != nil {
			ew.printf("Workers: %d\n", *result.Workers)
		}
		if result.TileSize != nil {
			ew.printf("Tile size: %d\n", *result.TileSize)
		}
		if result.Speedup != nil {
			ew.printf("Speedup: %.2fx\n", *result.Speedup)
		}
		if result.MaxDeviation != nil {
			ew.printf("Max deviation: %g\n", *result.MaxDeviation)
		}
		if result.Pass != nil {
			verdict := "FAIL"
			if *result.Pass {
				verdict = "PASS"
			}
			ew.printf("Verdict: %s\n", verdict)
		}

		ew.printf("\nInput files:\n")
		for i, path := range result.InputPaths {
			ew.printf("  %d. %s\n", i+1, path)
		}

		ew.printf("\nOutput files:\n")
		for i, path := range result.OutputPaths {
			ew.printf("  %d. %s\n", i+1, path)
		}

		ew.printf("\n")
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
