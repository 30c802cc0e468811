package sobel

import (
	"image"
	"math"
)

// Gradient holds one magnitude per source pixel, row-major. Border cells stay
// at the zero value.
type Gradient[T Sample] struct {
	Rows int
	Cols int
	Pix  []T
}

// NewGradient allocates a zeroed rows x cols gradient buffer.
func NewGradient[T Sample](rows, cols int) *Gradient[T] {
	rows, cols = max(rows, 0), max(cols, 0)
	return &Gradient[T]{
		Rows: rows,
		Cols: cols,
		Pix:  make([]T, rows*cols),
	}
}

// At returns the value at row y, column x.
func (g *Gradient[T]) At(y, x int) T {
	return g.Pix[y*g.Cols+x]
}

// Set stores v at row y, column x.
func (g *Gradient[T]) Set(y, x int, v T) {
	g.Pix[y*g.Cols+x] = v
}

// Paste copies src into g with its top-left corner at (y, x). Cells falling
// outside g are dropped.
func (g *Gradient[T]) Paste(y, x int, src *Gradient[T]) {
	for sy := 0; sy < src.Rows; sy++ {
		dy := y + sy
		if dy < 0 || dy >= g.Rows {
			continue
		}
		for sx := 0; sx < src.Cols; sx++ {
			dx := x + sx
			if dx < 0 || dx >= g.Cols {
				continue
			}
			g.Pix[dy*g.Cols+dx] = src.Pix[sy*src.Cols+sx]
		}
	}
}

// Crop copies the cells inside r into a new buffer.
func (g *Gradient[T]) Crop(r image.Rectangle) *Gradient[T] {
	r = r.Intersect(image.Rect(0, 0, g.Cols, g.Rows))
	out := NewGradient[T](r.Dy(), r.Dx())
	for y := 0; y < out.Rows; y++ {
		src := (r.Min.Y+y)*g.Cols + r.Min.X
		copy(out.Pix[y*out.Cols:(y+1)*out.Cols], g.Pix[src:src+out.Cols])
	}
	return out
}

// Gray renders the buffer as an 8-bit image. Float magnitudes above 255 are
// saturated for display only.
func (g *Gradient[T]) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.Cols, g.Rows))
	for i, v := range g.Pix {
		f := math.Min(float64(v), 255)
		img.Pix[i] = uint8(math.Max(f, 0))
	}
	return img
}
