package sobel

import "math"

// Gx responds to horizontal intensity changes.
var Gx = [3][3]int{
	{-1, 0, 1},
	{-2, 0, 2},
	{-1, 0, 1},
}

// Gy responds to vertical intensity changes.
var Gy = [3][3]int{
	{-1, -2, -1},
	{0, 0, 0},
	{1, 2, 1},
}

// Sample is the storage type of a gradient cell.
type Sample interface {
	~uint8 | ~float64
}

// Magnitude turns the two kernel responses of one pixel into a stored sample.
type Magnitude[T Sample] func(sumX, sumY int) T

// Clamped truncates the magnitude toward zero and saturates it to [0, 255].
func Clamped(sumX, sumY int) uint8 {
	m := int(math.Sqrt(float64(sumX*sumX + sumY*sumY)))
	if m > 255 {
		return 255
	}
	if m < 0 {
		return 0
	}
	return uint8(m)
}

// Unclamped keeps the full floating point magnitude.
func Unclamped(sumX, sumY int) float64 {
	return math.Sqrt(float64(sumX*sumX + sumY*sumY))
}

// responses convolves the 3x3 neighbourhood centred on (y, x) with Gx and Gy.
// (y, x) must be an interior pixel.
func responses(in *Intensity, y, x int) (sumX, sumY int) {
	for i := -1; i <= 1; i++ {
		row := (y + i) * in.Cols
		for j := -1; j <= 1; j++ {
			v := int(in.Pix[row+x+j])
			sumX += Gx[i+1][j+1] * v
			sumY += Gy[i+1][j+1] * v
		}
	}
	return sumX, sumY
}
