package assembler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"go-sobel/pkg/common"
	"go-sobel/pkg/imageio"
	"go-sobel/pkg/sobel"
)

// ResultQueue is the part of the Redis client the assembler consumes.
type ResultQueue interface {
	ReadResult(ctx context.Context, consumer string, block time.Duration) (string, *common.ResultMessage, error)
	AckResult(ctx context.Context, id string) error
	GetImageInfo(ctx context.Context, imageID int) (*common.ImageInfo, error)
	MarkImageCompleted(ctx context.Context, imageID int) error
	StoreVerdict(ctx context.Context, v *common.Verdict) error
	ClaimStaleResults(ctx context.Context, consumer string, minIdle time.Duration, count int) ([]string, error)
	ReadClaimedResults(ctx context.Context, consumer string, count int) ([]string, []*common.ResultMessage, error)
}

// errStaleRun marks a tile cut for an earlier run of the same image id.
var errStaleRun = errors.New("tile belongs to a previous run")

type Assembler struct {
	queue         ResultQueue
	assemblerID   string
	verify        bool
	retryInterval time.Duration
	imageMap      map[int]*ImageAssembly
	mutex         sync.RWMutex
	completed     chan common.Verdict
	ctx           context.Context
	cancel        context.CancelFunc
}

// ImageAssembly collects the tiles of one image. Only the buffer matching the
// image's mode is allocated.
type ImageAssembly struct {
	info           *common.ImageInfo
	clamped        *sobel.Gradient[uint8]
	magnitudes     *sobel.Gradient[float64]
	tilesReceived  int
	processedTiles map[int]bool
	completed      bool
	mutex          sync.Mutex
}

// NewAssembler builds an assembler. With verify set, every finished image is
// recomputed with the sequential reference filter and compared.
func NewAssembler(ctx context.Context, queue ResultQueue, assemblerID string, verify bool) *Assembler {
	ctx, cancel := context.WithCancel(ctx)

	return &Assembler{
		queue:         queue,
		assemblerID:   assemblerID,
		verify:        verify,
		retryInterval: 30 * time.Second,
		imageMap:      make(map[int]*ImageAssembly),
		completed:     make(chan common.Verdict, 64),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Completed delivers a verdict for every image the assembler finishes. When
// verification is off, Pass is always true and MaxDeviation zero. When the
// reference cannot be recomputed, Pass is false and Error says why. Verdicts
// are dropped if nobody reads them.
func (a *Assembler) Completed() <-chan common.Verdict {
	return a.completed
}

// Start reads results and reclaims stale ones until Stop is called or the
// parent context ends.
func (a *Assembler) Start() {
	log.Printf("Assembler %s started", a.assemblerID)

	var wg sync.WaitGroup
	wg.Add(1)
	go a.retryMonitor(&wg)

	a.resultProcessor()
	wg.Wait()
}

func (a *Assembler) Stop() {
	log.Println("Assembler: Shutting down...")
	a.cancel()
}

func (a *Assembler) resultProcessor() {
	consumer := fmt.Sprintf("assembler-%s", a.assemblerID)

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		msgID, result, err := a.queue.ReadResult(a.ctx, consumer, time.Second)
		if err != nil {
			if a.ctx.Err() == nil {
				log.Printf("Assembler read error: %v", err)
			}
			continue
		}
		if result == nil {
			continue
		}
		a.handle(msgID, result)
	}
}

// handle acknowledges a result once its tile is placed. Failed results stay
// pending for the retry monitor.
func (a *Assembler) handle(msgID string, result *common.ResultMessage) {
	if result.ProcessedTile == nil {
		_ = a.queue.AckResult(a.ctx, msgID)
		return
	}
	if err := a.processTile(result.ProcessedTile); err != nil {
		log.Printf("Failed to process tile: %v", err)
		return
	}
	_ = a.queue.AckResult(a.ctx, msgID)
}

// retryMonitor periodically claims results that were read but never
// acknowledged, such as the last tile of an image whose output could not be
// written, and processes them again.
func (a *Assembler) retryMonitor(wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(a.retryInterval)
	defer ticker.Stop()

	consumer := fmt.Sprintf("assembler-%s-retry", a.assemblerID)

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			claimedIDs, err := a.queue.ClaimStaleResults(a.ctx, consumer, a.retryInterval, 50)
			if err != nil {
				log.Printf("Failed to claim stale results: %v", err)
				continue
			}
			if len(claimedIDs) == 0 {
				continue
			}
			log.Printf("Claimed %d stale results for retry", len(claimedIDs))

			ids, results, err := a.queue.ReadClaimedResults(a.ctx, consumer, len(claimedIDs))
			if err != nil {
				log.Printf("Failed to read claimed results: %v", err)
				continue
			}
			for i, result := range results {
				a.handle(ids[i], result)
			}
		}
	}
}

func (a *Assembler) processTile(tile *common.ProcessedImageTile) error {
	assembly, err := a.getOrCreateAssembly(tile.ImageID, tile.RunID)
	if errors.Is(err, errStaleRun) {
		log.Printf("Tile %d for image %d is from run %q, ignoring", tile.TileID, tile.ImageID, tile.RunID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get assembly: %w", err)
	}

	assembly.mutex.Lock()
	defer assembly.mutex.Unlock()

	if assembly.completed {
		return nil
	}

	if !assembly.processedTiles[tile.TileID] {
		if err := assembly.place(tile); err != nil {
			return err
		}
		assembly.processedTiles[tile.TileID] = true
		assembly.tilesReceived++
	} else if assembly.tilesReceived < assembly.info.ExpectedTiles {
		log.Printf("Tile %d for image %d already processed (idempotent)", tile.TileID, tile.ImageID)
		return nil
	}

	// Duplicates get here only when every tile is in but the output was not
	// written, so finishing is retried.
	if assembly.tilesReceived >= assembly.info.ExpectedTiles {
		if err := a.finish(assembly); err != nil {
			return fmt.Errorf("failed to finish image %d: %w", tile.ImageID, err)
		}
	}
	return nil
}

func (asm *ImageAssembly) place(tile *common.ProcessedImageTile) error {
	n := tile.Width * tile.Height
	switch {
	case asm.magnitudes != nil:
		if len(tile.Magnitudes) != n {
			return fmt.Errorf("tile %d of image %d: want %d magnitudes, got %d", tile.TileID, tile.ImageID, n, len(tile.Magnitudes))
		}
		asm.magnitudes.Paste(tile.Y, tile.X, &sobel.Gradient[float64]{Rows: tile.Height, Cols: tile.Width, Pix: tile.Magnitudes})
	default:
		if len(tile.Clamped) != n {
			return fmt.Errorf("tile %d of image %d: want %d samples, got %d", tile.TileID, tile.ImageID, n, len(tile.Clamped))
		}
		asm.clamped.Paste(tile.Y, tile.X, &sobel.Gradient[uint8]{Rows: tile.Height, Cols: tile.Width, Pix: tile.Clamped})
	}
	return nil
}

func (asm *ImageAssembly) gray() *image.Gray {
	if asm.magnitudes != nil {
		return asm.magnitudes.Gray()
	}
	return asm.clamped.Gray()
}

func (a *Assembler) finish(assembly *ImageAssembly) error {
	info := assembly.info
	if err := imageio.SavePNG(info.OutputPath, assembly.gray()); err != nil {
		return err
	}
	assembly.completed = true

	verdict := common.Verdict{
		ImageID:     info.ID,
		RunID:       info.RunID,
		Pass:        true,
		Elapsed:     time.Since(info.StartTime).Seconds(),
		CompletedAt: time.Now(),
	}
	if a.verify {
		v, err := assembly.compareWithReference()
		if err != nil {
			log.Printf("Assembler: could not verify image %d: %v", info.ID, err)
			verdict.Pass = false
			verdict.Error = err.Error()
		} else {
			verdict.MaxDeviation = v.MaxDeviation
			verdict.Tolerance = v.Tolerance
			verdict.Pass = v.Pass
			log.Printf("Assembler: image %d %s", info.ID, v)
		}
	}

	if err := a.queue.MarkImageCompleted(a.ctx, info.ID); err != nil {
		log.Printf("Assembler: failed to mark image %d completed: %v", info.ID, err)
	}
	if err := a.queue.StoreVerdict(a.ctx, &verdict); err != nil {
		log.Printf("Assembler: failed to store verdict for image %d: %v", info.ID, err)
	}

	log.Printf("Assembler: Completed image %d (%dx%d, %d tiles) in %.2fs -> %s",
		info.ID, info.Cols, info.Rows, assembly.tilesReceived, verdict.Elapsed, info.OutputPath)

	select {
	case a.completed <- verdict:
	default:
	}

	// Tiles arriving after completion are redelivered duplicates; the entry
	// stays so they are ignored, but the pixel buffers can go.
	assembly.clamped, assembly.magnitudes = nil, nil
	return nil
}

func (asm *ImageAssembly) compareWithReference() (sobel.Verdict, error) {
	src, err := imageio.LoadIntensity(asm.info.InputPath, asm.info.MaxDim)
	if err != nil {
		return sobel.Verdict{}, err
	}
	if asm.magnitudes != nil {
		ref := sobel.Filter(src, sobel.Unclamped, sobel.Sequential{})
		return sobel.Compare(ref, asm.magnitudes, sobel.FloatTolerance)
	}
	return sobel.Compare(sobel.Reference(src), asm.clamped, sobel.ExactTolerance)
}

// getOrCreateAssembly returns the assembly for imageID in run runID. An
// assembly left from an earlier run of the same id is replaced once the stored
// image info names runID; tiles of any other run get errStaleRun.
func (a *Assembler) getOrCreateAssembly(imageID int, runID string) (*ImageAssembly, error) {
	a.mutex.RLock()
	assembly, exists := a.imageMap[imageID]
	a.mutex.RUnlock()
	if exists && assembly.info.RunID == runID {
		return assembly, nil
	}

	info, err := a.queue.GetImageInfo(a.ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get image info: %w", err)
	}
	if info.RunID != runID {
		return nil, errStaleRun
	}
	mode, err := sobel.ParseMode(info.Mode)
	if err != nil {
		return nil, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	if assembly, exists := a.imageMap[imageID]; exists && assembly.info.RunID == runID {
		return assembly, nil
	}

	assembly = &ImageAssembly{
		info:           info,
		processedTiles: make(map[int]bool),
	}
	if mode == sobel.ModeFloat {
		assembly.magnitudes = sobel.NewGradient[float64](info.Rows, info.Cols)
	} else {
		assembly.clamped = sobel.NewGradient[uint8](info.Rows, info.Cols)
	}
	a.imageMap[imageID] = assembly
	return assembly, nil
}
