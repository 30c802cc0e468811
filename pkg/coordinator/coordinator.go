package coordinator

import (
	"context"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"go-sobel/pkg/common"
	"go-sobel/pkg/imageio"
	"go-sobel/pkg/sobel"
)

// JobQueue is the part of the Redis client the coordinator produces into.
type JobQueue interface {
	ResetImage(ctx context.Context, imageID int) error
	StoreImageInfo(ctx context.Context, info *common.ImageInfo) error
	AddJob(ctx context.Context, job *common.JobMessage) (string, error)
	MarkImageCompleted(ctx context.Context, imageID int) error
	StoreVerdict(ctx context.Context, v *common.Verdict) error
}

type Coordinator struct {
	queue    JobQueue
	mode     sobel.Mode
	tileSize int
	maxDim   int
	runID    string
}

// NewCoordinator builds a coordinator. Every image it queues is stamped with a
// run id unique to this coordinator.
func NewCoordinator(queue JobQueue, mode sobel.Mode, tileSize, maxDim int) *Coordinator {
	if tileSize <= 0 {
		tileSize = common.TileSize
	}
	return &Coordinator{
		queue:    queue,
		mode:     mode,
		tileSize: tileSize,
		maxDim:   maxDim,
		runID:    strconv.FormatInt(time.Now().UnixNano(), 36),
	}
}

// ProcessImage loads inputPath, records its metadata and queues one job per
// tile of the interior. Status and verdict left by an earlier run of imageID
// are cleared first.
func (c *Coordinator) ProcessImage(ctx context.Context, imageID int, inputPath, outputPath string) (*common.ImageInfo, error) {
	log.Printf("Coordinator: Processing image %d from %s", imageID, inputPath)
	startTime := time.Now()

	src, err := imageio.LoadIntensity(inputPath, c.maxDim)
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}

	tiles := sobel.Tiles(sobel.Interior(src), c.tileSize)
	info := &common.ImageInfo{
		ID:            imageID,
		RunID:         c.runID,
		InputPath:     inputPath,
		OutputPath:    outputPath,
		Rows:          src.Rows,
		Cols:          src.Cols,
		Mode:          string(c.mode),
		MaxDim:        c.maxDim,
		ExpectedTiles: len(tiles),
		StartTime:     startTime,
	}

	if err := c.queue.ResetImage(ctx, imageID); err != nil {
		return nil, fmt.Errorf("failed to reset image %d: %w", imageID, err)
	}
	if err := c.queue.StoreImageInfo(ctx, info); err != nil {
		return nil, fmt.Errorf("failed to store image info: %w", err)
	}

	log.Printf("Coordinator: Image %d (%dx%d) will generate %d tiles", imageID, src.Cols, src.Rows, len(tiles))

	if len(tiles) == 0 {
		// No interior: the edge map is all background and no worker is needed.
		if err := c.completeEmpty(ctx, info); err != nil {
			return nil, err
		}
		return info, nil
	}

	for tileID, region := range tiles {
		job := &common.JobMessage{
			Type:      "tile",
			ImageTile: c.extractTile(src, imageID, tileID, region),
		}
		if _, err := c.queue.AddJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to queue tile %d: %w", tileID, err)
		}
	}

	log.Printf("Coordinator: Finished queuing tiles for image %d in %.2fs",
		imageID, time.Since(startTime).Seconds())
	return info, nil
}

// ProcessImages queues every image concurrently. Output files are named after
// their inputs inside outputDir.
func (c *Coordinator) ProcessImages(ctx context.Context, imagePaths []string, outputDir string) ([]*common.ImageInfo, error) {
	infos := make([]*common.ImageInfo, len(imagePaths))
	g, ctx := errgroup.WithContext(ctx)

	for i, inputPath := range imagePaths {
		i, inputPath := i, inputPath
		g.Go(func() error {
			outputPath := imageio.OutputPath(outputDir, inputPath, "sobel_distributed")
			info, err := c.ProcessImage(ctx, i, inputPath, outputPath)
			if err != nil {
				return fmt.Errorf("image %d (%s): %w", i, filepath.Base(inputPath), err)
			}
			infos[i] = info
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Coordinator) extractTile(src *sobel.Intensity, imageID, tileID int, region image.Rectangle) *common.ImageTile {
	window := src.Window(region.Inset(-common.Halo))
	return &common.ImageTile{
		ImageID: imageID,
		RunID:   c.runID,
		TileID:  tileID,
		X:       region.Min.X,
		Y:       region.Min.Y,
		Width:   region.Dx(),
		Height:  region.Dy(),
		Mode:    string(c.mode),
		Data:    window.Pix,
	}
}

func (c *Coordinator) completeEmpty(ctx context.Context, info *common.ImageInfo) error {
	if err := imageio.SavePNG(info.OutputPath, sobel.NewGradient[uint8](info.Rows, info.Cols).Gray()); err != nil {
		return err
	}
	if err := c.queue.MarkImageCompleted(ctx, info.ID); err != nil {
		return fmt.Errorf("failed to mark image completed: %w", err)
	}
	return c.queue.StoreVerdict(ctx, &common.Verdict{
		ImageID:     info.ID,
		RunID:       info.RunID,
		Pass:        true,
		CompletedAt: time.Now(),
	})
}
