package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"go-sobel/pkg/assembler"
	"go-sobel/pkg/common"
	"go-sobel/pkg/coordinator"
	"go-sobel/pkg/imageio"
	"go-sobel/pkg/processor"
	"go-sobel/pkg/queue"
	"go-sobel/pkg/sobel"
)

func newServeCmd() *cobra.Command {
	cfg := defaultServeConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the distributed coordinator, worker pool and/or assembler over Redis Streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runService(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address")
	f.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "Redis key prefix")
	f.StringVar(&cfg.Mode, "mode", cfg.Mode, "Mode: coordinator, worker, assembler, or all")
	f.StringVarP(&cfg.InputDir, "input", "i", cfg.InputDir, "Input directory")
	f.StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Output directory")
	f.StringVar(&cfg.Repr, "repr", cfg.Repr, "output representation: clamped or float")
	f.IntVarP(&cfg.Workers, "workers", "w", cfg.Workers, "Number of worker goroutines")
	f.IntVar(&cfg.TileSize, "tile", cfg.TileSize, "tile edge length")
	f.IntVar(&cfg.MaxDim, "max-dim", cfg.MaxDim, "downscale inputs whose longer side exceeds this (0 keeps size)")
	f.BoolVar(&cfg.Verify, "verify", cfg.Verify, "compare assembled images with the sequential reference")
	return cmd
}

func runService(ctx context.Context, cfg serveConfig) error {
	hostname, _ := os.Hostname()
	serviceID := fmt.Sprintf("%s-%d", hostname, time.Now().Unix())

	log.Printf("Starting distributed Sobel service")
	log.Printf("Mode: %s, Service ID: %s", cfg.Mode, serviceID)
	log.Printf("Redis: %s, Workers: %d, Tile: %d, Repr: %s", cfg.RedisAddr, cfg.Workers, cfg.TileSize, cfg.Repr)

	redisClient, err := queue.NewRedisClient(ctx, cfg.RedisAddr, cfg.Namespace)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer redisClient.Close()

	if err := redisClient.EnsureGroups(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	switch cfg.Mode {
	case "coordinator":
		_, err := runCoordinator(ctx, redisClient, cfg)
		return err

	case "worker":
		workerPool := processor.NewWorkerPool(ctx, redisClient, cfg.Workers, serviceID)
		workerPool.Start()

	case "assembler":
		imageAssembler := assembler.NewAssembler(ctx, redisClient, serviceID, cfg.Verify)
		imageAssembler.Start()

	case "all":
		workerPool := processor.NewWorkerPool(ctx, redisClient, cfg.Workers, serviceID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			workerPool.Start()
		}()
		defer workerPool.Stop()

		imageAssembler := assembler.NewAssembler(ctx, redisClient, serviceID, cfg.Verify)
		wg.Add(1)
		go func() {
			defer wg.Done()
			imageAssembler.Start()
		}()
		defer imageAssembler.Stop()

		expected, err := runCoordinator(ctx, redisClient, cfg)
		if err != nil {
			return err
		}
		return awaitImages(ctx, redisClient, imageAssembler, expected)
	}

	log.Println("Service shutdown complete")
	return nil
}

// runCoordinator queues every image in the input directory and returns those
// still waiting for workers.
func runCoordinator(ctx context.Context, redisClient *queue.RedisClient, cfg serveConfig) ([]*common.ImageInfo, error) {
	imagePaths, err := imageio.FindImages(cfg.InputDir)
	if err != nil {
		return nil, err
	}
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", cfg.InputDir)
	}

	log.Printf("Coordinator: Processing %d images", len(imagePaths))

	mode, _ := sobel.ParseMode(cfg.Repr)
	coord := coordinator.NewCoordinator(redisClient, mode, cfg.TileSize, cfg.MaxDim)

	startTime := time.Now()
	infos, err := coord.ProcessImages(ctx, imagePaths, cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("coordinator failed: %w", err)
	}
	log.Printf("Coordinator: All images queued in %.2fs", time.Since(startTime).Seconds())

	var pending []*common.ImageInfo
	for _, info := range infos {
		if info.ExpectedTiles > 0 {
			pending = append(pending, info)
		}
	}
	return pending, nil
}

// completionPoll is how often awaitImages checks Redis for images finished by
// another assembler process.
var completionPoll = 5 * time.Second

// awaitImages waits until every pending image has a verdict from its own run
// and fails if any of them disagreed with the reference or could not be
// verified.
func awaitImages(ctx context.Context, redisClient *queue.RedisClient, a *assembler.Assembler, pending []*common.ImageInfo) error {
	remaining := make(map[int]string, len(pending))
	for _, info := range pending {
		remaining[info.ID] = info.RunID
	}

	failed := 0
	for len(remaining) > 0 {
		select {
		case <-ctx.Done():
			log.Println("Shutting down all components...")
			return nil
		case v := <-a.Completed():
			if runID, ok := remaining[v.ImageID]; !ok || v.RunID != runID {
				continue
			}
			delete(remaining, v.ImageID)
			if !v.Pass {
				failed++
			}
		case <-time.After(completionPoll):
			// Another assembler process may have finished some images.
			for id, runID := range remaining {
				done, err := redisClient.IsImageCompleted(ctx, id)
				if err != nil || !done {
					continue
				}
				v, err := redisClient.GetVerdict(ctx, id)
				if err != nil || v == nil || v.RunID != runID {
					continue
				}
				if !v.Pass {
					failed++
				}
				delete(remaining, id)
			}
		}
	}

	log.Printf("All %d images assembled", len(pending))
	if failed > 0 {
		return fmt.Errorf("%d image(s): %w", failed, errVerdictFailed)
	}
	return nil
}
