package sobel

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomIntensity(rng *rand.Rand, rows, cols int) *Intensity {
	in := NewIntensity(rows, cols)
	for i := range in.Pix {
		in.Pix[i] = uint8(rng.Intn(256))
	}
	return in
}

func uniform(rows, cols int, v uint8) *Intensity {
	in := NewIntensity(rows, cols)
	for i := range in.Pix {
		in.Pix[i] = v
	}
	return in
}

// verticalStep sets columns [edge, cols) to 255.
func verticalStep(rows, cols, edge int) *Intensity {
	in := NewIntensity(rows, cols)
	for y := 0; y < rows; y++ {
		for x := edge; x < cols; x++ {
			in.Set(y, x, 255)
		}
	}
	return in
}

var strategies = []Strategy{
	Sequential{},
	Parallel{},
	Parallel{Workers: 1, TileSize: 1},
	Parallel{Workers: 3, TileSize: 2},
	Parallel{Workers: 16, TileSize: 7},
}

func assertBorderZero[T Sample](t *testing.T, g *Gradient[T]) {
	t.Helper()
	var zero T
	for y := 0; y < g.Rows; y++ {
		for x := 0; x < g.Cols; x++ {
			if y == 0 || x == 0 || y == g.Rows-1 || x == g.Cols-1 {
				require.Equalf(t, zero, g.At(y, x), "border cell (%d,%d)", y, x)
			}
		}
	}
}

func TestFilterUniformIsZero(t *testing.T) {
	in := uniform(5, 5, 100)
	for _, s := range strategies {
		g := Filter(in, Clamped, s)
		assert.Equal(t, make([]uint8, 25), g.Pix, s.Name())

		f := Filter(in, Unclamped, s)
		assert.Equal(t, make([]float64, 25), f.Pix, s.Name())
	}
}

func TestFilterVerticalStep(t *testing.T) {
	in := verticalStep(5, 5, 2)
	ref := Reference(in)

	for y := 1; y <= 3; y++ {
		assert.Equal(t, uint8(255), ref.At(y, 1), "row %d col 1", y)
		assert.Equal(t, uint8(255), ref.At(y, 2), "row %d col 2", y)
		assert.Equal(t, uint8(0), ref.At(y, 3), "row %d col 3", y)
	}
	assertBorderZero(t, ref)

	for _, s := range strategies {
		assert.Equal(t, ref.Pix, Filter(in, Clamped, s).Pix, s.Name())
	}

	// The raw response at the step is 4*255, well past the clamp.
	raw := Filter(in, Unclamped, Sequential{})
	assert.Equal(t, 1020.0, raw.At(2, 1))
	assert.Equal(t, 1020.0, raw.At(2, 2))
}

func TestFilterSaturatesStepEdge(t *testing.T) {
	in := verticalStep(32, 48, 24)
	for _, s := range strategies {
		g := Filter(in, Clamped, s)
		for y := 1; y < in.Rows-1; y++ {
			assert.Equal(t, uint8(255), g.At(y, 23), s.Name())
			assert.Equal(t, uint8(255), g.At(y, 24), s.Name())
		}
	}
}

func TestFilterDegenerateSizes(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
	}{
		{"empty", 0, 0},
		{"1x1", 1, 1},
		{"2x2", 2, 2},
		{"1xN", 1, 40},
		{"Nx1", 40, 1},
		{"2xN", 2, 40},
		{"Nx2", 40, 2},
	}
	rng := rand.New(rand.NewSource(1))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := randomIntensity(rng, tt.rows, tt.cols)
			for _, s := range strategies {
				g := Filter(in, Clamped, s)
				assert.Equal(t, tt.rows, g.Rows)
				assert.Equal(t, tt.cols, g.Cols)
				assert.Equal(t, make([]uint8, tt.rows*tt.cols), g.Pix)

				f := Filter(in, Unclamped, s)
				assert.Equal(t, make([]float64, tt.rows*tt.cols), f.Pix)
			}
		})
	}
}

func TestFilterEquivalenceRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	shapes := [][2]int{{3, 3}, {3, 17}, {17, 3}, {5, 5}, {64, 64}, {65, 129}, {200, 31}}
	for _, shape := range shapes {
		in := randomIntensity(rng, shape[0], shape[1])
		ref := Filter(in, Clamped, Sequential{})
		refF := Filter(in, Unclamped, Sequential{})
		assertBorderZero(t, ref)
		assertBorderZero(t, refF)

		for _, s := range strategies[1:] {
			got := Filter(in, Clamped, s)
			assertBorderZero(t, got)
			v, err := Compare(ref, got, ExactTolerance)
			require.NoError(t, err)
			assert.True(t, v.Pass, "%v %s: %s", shape, s.Name(), v)
			assert.Equal(t, ref.Pix, got.Pix)

			gotF := Filter(in, Unclamped, s)
			vf, err := Compare(refF, gotF, FloatTolerance)
			require.NoError(t, err)
			assert.True(t, vf.Pass, "%v %s: %s", shape, s.Name(), vf)
		}
	}
}

func TestFilterDeterministic(t *testing.T) {
	in := randomIntensity(rand.New(rand.NewSource(7)), 97, 53)
	for _, s := range strategies {
		first := Filter(in, Clamped, s)
		second := Filter(in, Clamped, s)
		assert.Equal(t, first.Pix, second.Pix, s.Name())
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	in := randomIntensity(rand.New(rand.NewSource(3)), 20, 20)
	orig := append([]uint8(nil), in.Pix...)
	Filter(in, Clamped, Parallel{Workers: 4, TileSize: 3})
	Filter(in, Unclamped, Sequential{})
	assert.Equal(t, orig, in.Pix)
}

func TestTilesCoverRegionOnce(t *testing.T) {
	region := image.Rect(1, 1, 38, 22)
	for _, size := range []int{1, 5, 16, 64} {
		seen := make(map[image.Point]int)
		for _, tile := range Tiles(region, size) {
			require.True(t, tile.In(region))
			for y := tile.Min.Y; y < tile.Max.Y; y++ {
				for x := tile.Min.X; x < tile.Max.X; x++ {
					seen[image.Pt(x, y)]++
				}
			}
		}
		assert.Len(t, seen, region.Dx()*region.Dy(), "size %d", size)
		for p, n := range seen {
			require.Equalf(t, 1, n, "size %d: %v visited %d times", size, p, n)
		}
	}
	assert.Nil(t, Tiles(image.Rectangle{}, 8))
	assert.Nil(t, Tiles(region, 0))
}

func TestClamped(t *testing.T) {
	assert.Equal(t, uint8(0), Clamped(0, 0))
	assert.Equal(t, uint8(5), Clamped(3, 4))
	assert.Equal(t, uint8(5), Clamped(-3, -4))
	// sqrt(2) truncates.
	assert.Equal(t, uint8(1), Clamped(1, 1))
	assert.Equal(t, uint8(255), Clamped(255, 1))
	assert.Equal(t, uint8(255), Clamped(-1020, 1020))
	assert.InDelta(t, 1442.5, Unclamped(-1020, 1020), 0.1)
}
