package sobel

import (
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareDimensionMismatch(t *testing.T) {
	a := NewGradient[uint8](4, 5)
	b := NewGradient[uint8](5, 4)
	_, err := Compare(a, b, ExactTolerance)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = MaxDeviation(NewGradient[float64](3, 3), NewGradient[float64](3, 4))
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCompareClamped(t *testing.T) {
	a := NewGradient[uint8](3, 3)
	b := NewGradient[uint8](3, 3)

	v, err := Compare(a, b, ExactTolerance)
	require.NoError(t, err)
	assert.True(t, v.Pass)
	assert.Zero(t, v.MaxDeviation)
	assert.Equal(t, "PASS: outputs match (max deviation 0, tolerance 0)", v.String())

	b.Set(1, 1, 200)
	a.Set(1, 1, 199)
	b.Set(0, 2, 3)
	v, err = Compare(a, b, ExactTolerance)
	require.NoError(t, err)
	assert.False(t, v.Pass)
	assert.Equal(t, 3.0, v.MaxDeviation)
	assert.Equal(t, "FAIL: outputs differ (max deviation 3, tolerance 0)", v.String())
}

func TestCompareFloat(t *testing.T) {
	a := NewGradient[float64](2, 2)
	b := NewGradient[float64](2, 2)
	a.Set(0, 0, 10)
	b.Set(0, 0, 10+1e-9)

	v, err := Compare(a, b, FloatTolerance)
	require.NoError(t, err)
	assert.True(t, v.Pass)
	assert.InDelta(t, 1e-9, v.MaxDeviation, 1e-12)

	b.Set(1, 1, 1e-5)
	v, err = Compare(a, b, FloatTolerance)
	require.NoError(t, err)
	assert.False(t, v.Pass)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{
		"clamped": ModeClamped,
		"U8":      ModeClamped,
		"float":   ModeFloat,
		"f64":     ModeFloat,
	} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("rgb")
	assert.Error(t, err)

	assert.Equal(t, ExactTolerance, ModeClamped.Tolerance())
	assert.Equal(t, FloatTolerance, ModeFloat.Tolerance())
}

func TestCheck(t *testing.T) {
	in := randomIntensity(rand.New(rand.NewSource(11)), 120, 90)

	res, err := Check(in, Clamped, ExactTolerance, Parallel{Workers: 4, TileSize: 16})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Pass, res.Verdict.String())
	assert.Equal(t, res.Reference.Pix, res.Parallel.Pix)
	assert.GreaterOrEqual(t, res.Speedup(), 0.0)

	resF, err := Check(in, Unclamped, FloatTolerance, Parallel{Workers: 2})
	require.NoError(t, err)
	assert.True(t, resF.Verdict.Pass, resF.Verdict.String())
}

func TestCheckDegenerate(t *testing.T) {
	res, err := Check(NewIntensity(2, 2), Clamped, ExactTolerance, Parallel{})
	require.NoError(t, err)
	assert.True(t, res.Verdict.Pass)
	assert.Equal(t, []uint8{0, 0, 0, 0}, res.Parallel.Pix)
}

// brokenStrategy skips the last tile so the checker has something to catch.
type brokenStrategy struct{}

func (brokenStrategy) Name() string { return "broken" }

func (brokenStrategy) Visit(region image.Rectangle, fn func(image.Rectangle)) {
	tiles := Tiles(region, 4)
	for _, t := range tiles[:len(tiles)-1] {
		fn(t)
	}
}

func TestCheckDetectsBrokenStrategy(t *testing.T) {
	in := verticalStep(10, 10, 7)
	res, err := Check(in, Clamped, ExactTolerance, brokenStrategy{})
	require.NoError(t, err)
	assert.False(t, res.Verdict.Pass)
	assert.Equal(t, 255.0, res.Verdict.MaxDeviation)
}
