// Package sobel computes Sobel gradient-magnitude edge maps over single-channel
// 8-bit images and checks parallel results against a sequential reference.
package sobel

import (
	"image"
	"runtime"
	"sync"
)

// DefaultTileSize is the tile edge length Parallel uses when none is set.
const DefaultTileSize = 64

// Strategy decides how the interior of an image is visited. Visit must call fn
// on regions that together cover region exactly once and must return only
// after every call has finished.
type Strategy interface {
	Name() string
	Visit(region image.Rectangle, fn func(image.Rectangle))
}

// Filter computes the gradient magnitude of src using mag for every interior
// pixel. Border cells are left at zero, as is the whole output when src has
// fewer than three rows or columns.
func Filter[T Sample](src *Intensity, mag Magnitude[T], s Strategy) *Gradient[T] {
	dst := NewGradient[T](src.Rows, src.Cols)
	region := src.interior()
	if region.Empty() {
		return dst
	}
	s.Visit(region, func(r image.Rectangle) {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			row := dst.Pix[y*dst.Cols : (y+1)*dst.Cols]
			for x := r.Min.X; x < r.Max.X; x++ {
				row[x] = mag(responses(src, y, x))
			}
		}
	})
	return dst
}

// Reference runs the clamped filter sequentially.
func Reference(src *Intensity) *Gradient[uint8] {
	return Filter(src, Clamped, Sequential{})
}

// Sequential visits the whole region in a single row-major pass.
type Sequential struct{}

func (Sequential) Name() string { return "Reference" }

func (Sequential) Visit(region image.Rectangle, fn func(image.Rectangle)) {
	fn(region)
}

// Parallel splits the region into square tiles and hands them to a fixed set
// of goroutines through a shared queue. Tiles never overlap, so workers write
// disjoint cells and need no locking.
type Parallel struct {
	// Workers defaults to GOMAXPROCS when zero.
	Workers int
	// TileSize defaults to DefaultTileSize when zero.
	TileSize int
}

func (Parallel) Name() string { return "Parallel" }

func (p Parallel) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (p Parallel) tileSize() int {
	if p.TileSize > 0 {
		return p.TileSize
	}
	return DefaultTileSize
}

func (p Parallel) Visit(region image.Rectangle, fn func(image.Rectangle)) {
	tiles := Tiles(region, p.tileSize())
	numWorkers := min(p.workers(), len(tiles))
	logger().Debug("sobel: parallel fan-out",
		"workers", numWorkers, "tiles", len(tiles), "tile_size", p.tileSize())

	tileQueue := make(chan image.Rectangle, len(tiles))
	for _, t := range tiles {
		tileQueue <- t
	}
	close(tileQueue)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for t := range tileQueue {
				fn(t)
			}
		}()
	}
	wg.Wait()
}

// Tiles partitions region into size x size rectangles in row-major order.
// Tiles on the right and bottom edges may be smaller.
func Tiles(region image.Rectangle, size int) []image.Rectangle {
	if region.Empty() || size <= 0 {
		return nil
	}
	var tiles []image.Rectangle
	for y := region.Min.Y; y < region.Max.Y; y += size {
		for x := region.Min.X; x < region.Max.X; x += size {
			tiles = append(tiles, image.Rect(x, y,
				min(x+size, region.Max.X), min(y+size, region.Max.Y)))
		}
	}
	return tiles
}

// Interior returns the region of src whose pixels are convolved, or an empty
// rectangle for degenerate inputs.
func Interior(src *Intensity) image.Rectangle {
	return src.interior()
}
