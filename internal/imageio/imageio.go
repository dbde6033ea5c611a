// Package imageio provides image loading/saving for the pipeline, filename
// sanitation for catalog-derived names, and the comparison composite shown
// during interactive confirmation.
package imageio

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// SupportedFormats lists the raster formats accepted for photos and
// reference images.
func SupportedFormats() []string {
	return []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// LoadMat loads an image file as a BGR gocv.Mat. OpenCV reads jpg/png/bmp
// directly; webp goes through the Go decoder since libwebp support varies
// between OpenCV builds. The caller owns the returned Mat.
func LoadMat(path string) (gocv.Mat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".webp" {
		img, err := LoadImage(path)
		if err != nil {
			return gocv.NewMat(), err
		}
		return ToMat(img)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("could not read image %s", path)
	}
	return mat, nil
}

// LoadImage decodes an image file into an image.Image.
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return img, nil
}

// SaveMat writes a BGR Mat to path; the format follows the extension.
func SaveMat(path string, mat gocv.Mat) error {
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("could not write image %s", path)
	}
	return nil
}

// ToMat converts a Go image to a BGR gocv.Mat. The caller owns the result.
func ToMat(img image.Image) (gocv.Mat, error) {
	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image to mat: %w", err)
	}
	defer rgb.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgb, &bgr, gocv.ColorBGRToRGB) // symmetric channel swap
	return bgr, nil
}

// ToImage converts a BGR gocv.Mat to a Go image.
func ToImage(mat gocv.Mat) (image.Image, error) {
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)
	return rgb.ToImage()
}

// UniqueName returns base if no file of that name exists in dir, otherwise
// the first "name(1).ext", "name(2).ext", ... that is free.
func UniqueName(dir, base string) string {
	if _, err := os.Stat(filepath.Join(dir, base)); os.IsNotExist(err) {
		return base
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s(%d)%s", stem, counter, ext)
		if _, err := os.Stat(filepath.Join(dir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}
