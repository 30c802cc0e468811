package processor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go-sobel/pkg/common"
	"go-sobel/pkg/sobel"
)

// JobQueue is the part of the Redis client the worker pool consumes.
type JobQueue interface {
	ReadJob(ctx context.Context, consumer string, block time.Duration) (string, *common.JobMessage, error)
	ReadClaimedJobs(ctx context.Context, consumer string, count int) ([]string, []*common.JobMessage, error)
	AckJob(ctx context.Context, id string) error
	AddResult(ctx context.Context, res *common.ResultMessage) (string, error)
	ClaimStaleJobs(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]string, error)
}

type WorkerPool struct {
	queue          JobQueue
	numWorkers     int
	workerID       string
	block          time.Duration
	retryInterval  time.Duration
	tilesProcessed atomic.Int64
	ctx            context.Context
	cancel         context.CancelFunc
}

func NewWorkerPool(ctx context.Context, queue JobQueue, numWorkers int, workerID string) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		queue:         queue,
		numWorkers:    max(numWorkers, 1),
		workerID:      workerID,
		block:         time.Second,
		retryInterval: 30 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start runs the workers and the retry monitor until Stop is called or the
// parent context ends.
func (wp *WorkerPool) Start() {
	var wg sync.WaitGroup

	for i := 0; i < wp.numWorkers; i++ {
		wg.Add(1)
		go wp.worker(i, &wg)
	}

	wg.Add(1)
	go wp.retryMonitor(&wg)

	log.Printf("WorkerPool: Started %d workers", wp.numWorkers)
	wg.Wait()
}

func (wp *WorkerPool) Stop() {
	log.Println("WorkerPool: Shutting down...")
	wp.cancel()
}

// TilesProcessed is the number of tiles acknowledged so far.
func (wp *WorkerPool) TilesProcessed() int64 {
	return wp.tilesProcessed.Load()
}

func (wp *WorkerPool) worker(id int, wg *sync.WaitGroup) {
	defer wg.Done()

	consumer := fmt.Sprintf("%s-worker-%d", wp.workerID, id)
	log.Printf("Worker %d started as consumer %s", id, consumer)

	for {
		select {
		case <-wp.ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		default:
		}

		msgID, job, err := wp.queue.ReadJob(wp.ctx, consumer, wp.block)
		if err != nil {
			if wp.ctx.Err() == nil {
				log.Printf("Worker %d read error: %v", id, err)
			}
			continue
		}
		if job == nil {
			continue
		}
		wp.handle(id, msgID, job)
	}
}

func (wp *WorkerPool) handle(id int, msgID string, job *common.JobMessage) {
	if job.Type != "tile" || job.ImageTile == nil {
		log.Printf("Worker %d: invalid job type %q", id, job.Type)
		_ = wp.queue.AckJob(wp.ctx, msgID)
		return
	}

	if err := wp.processTile(job.ImageTile); err != nil {
		// Left unacknowledged so the retry monitor can hand it out again.
		log.Printf("Worker %d failed to process tile: %v", id, err)
		return
	}

	_ = wp.queue.AckJob(wp.ctx, msgID)
	if count := wp.tilesProcessed.Add(1); count%100 == 0 {
		log.Printf("WorkerPool: Processed %d tiles total", count)
	}
}

func (wp *WorkerPool) processTile(tile *common.ImageTile) error {
	startTime := time.Now()

	processed, err := ProcessTile(tile)
	if err != nil {
		return err
	}

	result := &common.ResultMessage{
		ProcessedTile: processed,
		WorkerID:      wp.workerID,
		ProcessTime:   time.Since(startTime).Seconds(),
	}

	if _, err := wp.queue.AddResult(wp.ctx, result); err != nil {
		return fmt.Errorf("failed to add result: %w", err)
	}
	return nil
}

// ProcessTile runs the Sobel filter over a tile's padded input window and
// returns the gradient of its output region.
func ProcessTile(tile *common.ImageTile) (*common.ProcessedImageTile, error) {
	mode, err := sobel.ParseMode(tile.Mode)
	if err != nil {
		return nil, err
	}
	window, err := sobel.FromSamples(tile.WindowRows(), tile.WindowCols(), 1, tile.Data)
	if err != nil {
		return nil, fmt.Errorf("tile %d of image %d: %w", tile.TileID, tile.ImageID, err)
	}

	// Every output cell of the tile is interior to its window.
	center := sobel.Interior(window)
	processed := &common.ProcessedImageTile{
		ImageID: tile.ImageID,
		RunID:   tile.RunID,
		TileID:  tile.TileID,
		X:       tile.X,
		Y:       tile.Y,
		Width:   tile.Width,
		Height:  tile.Height,
		Mode:    string(mode),
	}
	switch mode {
	case sobel.ModeFloat:
		processed.Magnitudes = sobel.Filter(window, sobel.Unclamped, sobel.Sequential{}).Crop(center).Pix
	default:
		processed.Clamped = sobel.Filter(window, sobel.Clamped, sobel.Sequential{}).Crop(center).Pix
	}
	return processed, nil
}

// retryMonitor periodically claims jobs another consumer read but never
// acknowledged, then processes them.
func (wp *WorkerPool) retryMonitor(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(wp.retryInterval)
	defer ticker.Stop()

	consumer := fmt.Sprintf("%s-retry-monitor", wp.workerID)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			claimedIDs, err := wp.queue.ClaimStaleJobs(wp.ctx, consumer, wp.retryInterval, 50)
			if err != nil {
				log.Printf("Failed to claim stale jobs: %v", err)
				continue
			}
			if len(claimedIDs) == 0 {
				continue
			}
			log.Printf("Claimed %d stale jobs for retry", len(claimedIDs))

			ids, jobs, err := wp.queue.ReadClaimedJobs(wp.ctx, consumer, len(claimedIDs))
			if err != nil {
				log.Printf("Failed to read claimed jobs: %v", err)
				continue
			}
			for i, job := range jobs {
				wp.handle(-1, ids[i], job)
			}
		}
	}
}
