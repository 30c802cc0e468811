// Package imageio loads images from disk as single-channel intensity buffers
// and writes gradient maps back out as PNG.
package imageio

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go-sobel/pkg/sobel"
)

// ErrNotFound is returned when the input path does not name a regular file.
var ErrNotFound = errors.New("imageio: file does not exist")

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Decode reads and decodes an image in any registered format.
func Decode(path string) (image.Image, string, error) {
	if !Exists(path) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, format, nil
}

// ToGray converts img to 8-bit grayscale. When maxDim is positive and the
// longer side exceeds it, the image is scaled down first, preserving aspect.
func ToGray(img image.Image, maxDim int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim > 0 && max(w, h) > maxDim {
		if w >= h {
			w, h = maxDim, max(1, h*maxDim/w)
		} else {
			w, h = max(1, w*maxDim/h), maxDim
		}
		gray := image.NewGray(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(gray, gray.Bounds(), img, b, draw.Src, nil)
		return gray
	}
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// LoadIntensity decodes path and returns its grayscale intensity buffer.
func LoadIntensity(path string, maxDim int) (*sobel.Intensity, error) {
	img, _, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return sobel.FromGray(ToGray(img, maxDim)), nil
}

// SavePNG encodes img to path, creating parent directories as needed.
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := png.Encode(outFile, img); err != nil {
		outFile.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return outFile.Close()
}

// OutputPath derives "<dir>/<name>_<suffix>.png" from an input path.
func OutputPath(dir, inputPath, suffix string) string {
	name := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	return filepath.Join(dir, name+"_"+suffix+".png")
}

// FindImages lists decodable images in dir, skipping files this tool wrote.
func FindImages(dir string) ([]string, error) {
	var images []string
	for _, pattern := range []string{"*.png", "*.jpg", "*.jpeg", "*.gif", "*.bmp", "*.tif", "*.tiff", "*.webp"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to find input files: %w", err)
		}
		for _, m := range matches {
			if strings.Contains(filepath.Base(m), "_sobel") {
				continue
			}
			images = append(images, m)
		}
	}
	return images, nil
}
