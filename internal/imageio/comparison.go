package imageio

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

const (
	comparisonHeight = 600
	captionHeight    = 60
	comparisonGap    = 20
)

// WriteComparison renders the cropped card next to the proposed reference,
// with a caption strip naming the candidate and its score, and writes the
// composite to path so the operator can inspect it before answering the
// confirmation prompt.
func WriteComparison(path string, crop, ref gocv.Mat, candidateName string, score float64) error {
	cropImg, err := ToImage(crop)
	if err != nil {
		return fmt.Errorf("convert crop: %w", err)
	}
	refImg, err := ToImage(ref)
	if err != nil {
		return fmt.Errorf("convert reference: %w", err)
	}

	// Scale both to a common height, preserving aspect.
	cropScaled := imaging.Resize(cropImg, 0, comparisonHeight, imaging.Lanczos)
	refScaled := imaging.Resize(refImg, 0, comparisonHeight, imaging.Lanczos)

	totalW := cropScaled.Bounds().Dx() + comparisonGap + refScaled.Bounds().Dx()
	canvas := imaging.New(totalW, comparisonHeight+captionHeight, color.NRGBA{A: 255})
	canvas = imaging.Paste(canvas, cropScaled, image.Pt(0, captionHeight))
	canvas = imaging.Paste(canvas, refScaled, image.Pt(cropScaled.Bounds().Dx()+comparisonGap, captionHeight))

	mat, err := ToMat(canvas)
	if err != nil {
		return fmt.Errorf("convert composite: %w", err)
	}
	defer mat.Close()

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	yellow := color.RGBA{R: 255, G: 255, A: 255}
	refX := cropScaled.Bounds().Dx() + comparisonGap + 10
	gocv.PutText(&mat, "Your card", image.Pt(10, 25), gocv.FontHersheySimplex, 0.8, white, 2)
	gocv.PutText(&mat, "Match: "+candidateName, image.Pt(refX, 25), gocv.FontHersheySimplex, 0.8, white, 2)
	gocv.PutText(&mat, fmt.Sprintf("Score: %.3f", score), image.Pt(refX, 50), gocv.FontHersheySimplex, 0.6, yellow, 1)

	return SaveMat(path, mat)
}
