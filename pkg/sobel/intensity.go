package sobel

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrChannelCount is returned when samples are not single channel.
	ErrChannelCount = errors.New("sobel: input must have exactly one channel")
	// ErrSampleCount is returned when a sample slice does not cover rows*cols cells.
	ErrSampleCount = errors.New("sobel: sample count does not match dimensions")
)

// Intensity is a single-channel 8-bit grid stored row-major.
// Filters only read from it.
type Intensity struct {
	Rows int
	Cols int
	Pix  []uint8
}

// NewIntensity allocates a zeroed rows x cols buffer.
func NewIntensity(rows, cols int) *Intensity {
	rows, cols = max(rows, 0), max(cols, 0)
	return &Intensity{
		Rows: rows,
		Cols: cols,
		Pix:  make([]uint8, rows*cols),
	}
}

// FromSamples wraps interleaved samples as an Intensity buffer. The slice is
// not copied. channels must be 1.
func FromSamples(rows, cols, channels int, pix []uint8) (*Intensity, error) {
	if channels != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrChannelCount, channels)
	}
	if rows < 0 || cols < 0 || len(pix) != rows*cols {
		return nil, fmt.Errorf("%w: %dx%d with %d samples", ErrSampleCount, rows, cols, len(pix))
	}
	return &Intensity{Rows: rows, Cols: cols, Pix: pix}, nil
}

// FromGray copies a grayscale image into a new Intensity buffer.
func FromGray(img *image.Gray) *Intensity {
	b := img.Bounds()
	in := NewIntensity(b.Dy(), b.Dx())
	for y := 0; y < in.Rows; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(in.Pix[y*in.Cols:(y+1)*in.Cols], img.Pix[off:off+in.Cols])
	}
	return in
}

// At returns the sample at row y, column x.
func (in *Intensity) At(y, x int) uint8 {
	return in.Pix[y*in.Cols+x]
}

// Set stores v at row y, column x.
func (in *Intensity) Set(y, x int, v uint8) {
	in.Pix[y*in.Cols+x] = v
}

// Window copies the sub-grid covering r (in column/row coordinates) into a
// new buffer. r is clipped to the buffer.
func (in *Intensity) Window(r image.Rectangle) *Intensity {
	r = r.Intersect(in.bounds())
	out := NewIntensity(r.Dy(), r.Dx())
	for y := 0; y < out.Rows; y++ {
		src := (r.Min.Y+y)*in.Cols + r.Min.X
		copy(out.Pix[y*out.Cols:(y+1)*out.Cols], in.Pix[src:src+out.Cols])
	}
	return out
}

func (in *Intensity) bounds() image.Rectangle {
	return image.Rect(0, 0, in.Cols, in.Rows)
}

// interior is the region whose pixels have a full 3x3 neighbourhood.
func (in *Intensity) interior() image.Rectangle {
	if in.Rows < 3 || in.Cols < 3 {
		return image.Rectangle{}
	}
	return image.Rect(1, 1, in.Cols-1, in.Rows-1)
}
