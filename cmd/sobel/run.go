package main

import (
	"fmt"
	"image"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"go-sobel/pkg/imageio"
	"go-sobel/pkg/sobel"
	"go-sobel/pkg/stats"
)

func newRunCmd() *cobra.Command {
	cfg := defaultRunConfig()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reference and parallel filters on an image or directory and compare them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runCompare(cmd.OutOrStdout(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfg.Input, "input", "i", cfg.Input, "input image file or directory")
	f.StringVarP(&cfg.Output, "output", "o", cfg.Output, "output directory for edge maps")
	f.StringVarP(&cfg.Mode, "mode", "m", cfg.Mode, "output representation: clamped or float")
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "parallel filter goroutines")
	f.IntVar(&cfg.TileSize, "tile", cfg.TileSize, "parallel filter tile edge length")
	f.IntVar(&cfg.MaxDim, "max-dim", cfg.MaxDim, "downscale inputs whose longer side exceeds this (0 keeps size)")
	f.StringVar(&cfg.LogsDir, "logs", cfg.LogsDir, "directory for the performance report")
	f.BoolVar(&cfg.NoSave, "no-save", cfg.NoSave, "skip writing edge maps")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log filter diagnostics to stderr")
	return cmd
}

type checkOutcome struct {
	reference     *image.Gray
	parallel      *image.Gray
	referenceTime time.Duration
	parallelTime  time.Duration
	verdict       sobel.Verdict
}

func outcome[T sobel.Sample](res *sobel.Result[T], err error) (*checkOutcome, error) {
	if err != nil {
		return nil, err
	}
	return &checkOutcome{
		reference:     res.Reference.Gray(),
		parallel:      res.Parallel.Gray(),
		referenceTime: res.ReferenceTime,
		parallelTime:  res.ParallelTime,
		verdict:       res.Verdict,
	}, nil
}

func check(src *sobel.Intensity, mode sobel.Mode, s sobel.Strategy) (*checkOutcome, error) {
	if mode == sobel.ModeFloat {
		return outcome(sobel.Check(src, sobel.Unclamped, sobel.FloatTolerance, s))
	}
	return outcome(sobel.Check(src, sobel.Clamped, sobel.ExactTolerance, s))
}

func inputPaths(input string) ([]string, error) {
	info, err := os.Stat(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", imageio.ErrNotFound, input)
	}
	if !info.IsDir() {
		return []string{input}, nil
	}
	paths, err := imageio.FindImages(input)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", input)
	}
	return paths, nil
}

func runCompare(out io.Writer, cfg runConfig) error {
	if cfg.Verbose {
		sobel.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		defer sobel.SetLogger(nil)
	}
	mode, _ := sobel.ParseMode(cfg.Mode)
	strategy := sobel.Parallel{Workers: cfg.Workers, TileSize: cfg.TileSize}

	paths, err := inputPaths(cfg.Input)
	if err != nil {
		return err
	}

	startTime := time.Now()
	log.Printf("=== Starting Sobel Edge Detection ===")
	log.Printf("Mode: %s, Workers: %d, Tile size: %d", mode, cfg.Workers, cfg.TileSize)

	ref := stats.PerformanceData{AlgorithmName: "Reference", Mode: string(mode), Timestamp: startTime}
	par := stats.PerformanceData{
		AlgorithmName: "Parallel",
		Mode:          string(mode),
		Timestamp:     startTime,
		Workers:       stats.IntPtr(cfg.Workers),
		TileSize:      stats.IntPtr(cfg.TileSize),
	}
	var refTotal, parTotal time.Duration
	worst := sobel.Verdict{Tolerance: mode.Tolerance(), Pass: true}

	for _, path := range paths {
		src, err := imageio.LoadIntensity(path, cfg.MaxDim)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Image: %s (%dx%d)\n", path, src.Cols, src.Rows)

		res, err := check(src, mode, strategy)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  Serial Sobel filter applied in %.4f seconds.\n", res.referenceTime.Seconds())
		fmt.Fprintf(out, "  Parallel Sobel filter applied in %.4f seconds.\n", res.parallelTime.Seconds())
		fmt.Fprintf(out, "  %s\n", res.verdict)

		if len(paths) == 1 {
			ref.Rows, ref.Cols = src.Rows, src.Cols
		}
		ref.InputPaths = append(ref.InputPaths, path)
		par.InputPaths = append(par.InputPaths, path)
		refTotal += res.referenceTime
		parTotal += res.parallelTime
		worst.MaxDeviation = max(worst.MaxDeviation, res.verdict.MaxDeviation)
		worst.Pass = worst.Pass && res.verdict.Pass

		if cfg.NoSave {
			continue
		}
		refPath := imageio.OutputPath(cfg.Output, path, "sobel_reference")
		parPath := imageio.OutputPath(cfg.Output, path, "sobel_parallel")
		if err := imageio.SavePNG(refPath, res.reference); err != nil {
			return err
		}
		if err := imageio.SavePNG(parPath, res.parallel); err != nil {
			return err
		}
		ref.OutputPaths = append(ref.OutputPaths, refPath)
		par.OutputPaths = append(par.OutputPaths, parPath)
	}

	n := float64(len(paths))
	ref.ImagesProcessed, par.ImagesProcessed = len(paths), len(paths)
	ref.TotalTime, par.TotalTime = refTotal.Seconds(), parTotal.Seconds()
	ref.AverageTime, par.AverageTime = ref.TotalTime/n, par.TotalTime/n
	par.Rows, par.Cols = ref.Rows, ref.Cols
	if parTotal > 0 {
		par.Speedup = stats.FloatPtr(refTotal.Seconds() / parTotal.Seconds())
	}
	par.MaxDeviation = stats.FloatPtr(worst.MaxDeviation)
	par.Pass = stats.BoolPtr(worst.Pass)

	fmt.Fprintf(out, "\n%s\n", worst)
	if par.Speedup != nil {
		fmt.Fprintf(out, "Speedup: %.2fx over %d image(s)\n", *par.Speedup, len(paths))
	}

	if cfg.LogsDir != "" {
		reportPath, err := stats.WritePerformanceResults(cfg.LogsDir, []stats.PerformanceData{ref, par})
		if err != nil {
			log.Printf("Failed to write performance report: %v", err)
		} else {
			log.Printf("Performance results written to %s", reportPath)
		}
	}

	log.Printf("=== Processing Complete in %.2fs ===", time.Since(startTime).Seconds())
	if !worst.Pass {
		return errVerdictFailed
	}
	return nil
}
