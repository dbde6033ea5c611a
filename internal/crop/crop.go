// Package crop locates a card inside a photograph and produces a rectified,
// tightly-bounded crop. Fronts are detected by edge contours and deskewed;
// backs use a deterministic center crop because their uniform pattern defeats
// edge detection.
package crop

import (
	"errors"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"cardscan/internal/config"
	"cardscan/internal/logging"
	"cardscan/pkg/geometry"
)

// ErrNoCardDetected indicates no usable contour was found in the photo.
// Recoverable: the caller can retry with CropDark or re-shoot.
var ErrNoCardDetected = errors.New("no card detected")

// CardContour is the detected card boundary, an ordered vertex sequence in
// image coordinates. Ephemeral, valid for one cropping operation.
type CardContour []geometry.PointInt

// RectifiedCrop is a deskewed, tightly-bounded card image plus the rotation
// that produced it. The Mat is owned by the receiver of the crop; call Close
// when done.
type RectifiedCrop struct {
	Mat   gocv.Mat
	Angle float64 // deskew angle that was corrected, in degrees
}

// Close releases the underlying image.
func (r *RectifiedCrop) Close() {
	if r != nil {
		r.Mat.Close()
	}
}

// Cropper detects and rectifies cards according to its configuration.
type Cropper struct {
	cfg config.Crop
}

// New creates a Cropper.
func New(cfg config.Crop) *Cropper {
	return &Cropper{cfg: cfg}
}

var log = logging.For("crop")

// FindContour locates the card boundary in a photo: grayscale, blur, Canny,
// dilate to close gaps, then the largest external contour by enclosed area.
func (c *Cropper) FindContour(img gocv.Mat) (CardContour, error) {
	contours, err := findEdgeContours(img)
	if err != nil {
		return nil, err
	}
	defer contours.Close()

	idx := largestContourIndex(contours)
	if idx < 0 {
		return nil, ErrNoCardDetected
	}

	best := contours.At(idx)
	result := make(CardContour, 0, best.Size())
	for i := 0; i < best.Size(); i++ {
		p := best.At(i)
		result = append(result, geometry.PointInt{X: p.X, Y: p.Y})
	}
	return result, nil
}

// CropFront detects the card in a front photo, deskews it and returns the
// bounded crop. Detection runs twice: the first pass only estimates the
// deskew angle, the second bounds the card on the straightened image.
func (c *Cropper) CropFront(img gocv.Mat) (*RectifiedCrop, error) {
	angle, err := c.deskewAngle(img)
	if err != nil {
		return nil, err
	}

	work := img
	var rotated gocv.Mat
	if math.Abs(angle) < c.cfg.MinDeskewDegrees {
		// Already straight; rotation would only add resampling blur.
		log.Debug("card already aligned", "angle", angle)
		angle = 0
	} else {
		log.Debug("correcting rotation", "angle", angle)
		rotated = rotateKeepBounds(img, angle)
		defer rotated.Close()
		work = rotated
	}

	bounds, err := c.boundCard(work)
	if err != nil {
		return nil, err
	}
	bounds = bounds.Expand(c.cfg.Margin).ClampTo(work.Cols(), work.Rows())
	region := work.Region(image.Rect(bounds.X, bounds.Y, bounds.X+bounds.Width, bounds.Y+bounds.Height))
	defer region.Close()

	return &RectifiedCrop{Mat: region.Clone(), Angle: angle}, nil
}

// CropBack returns a deterministic center crop covering BackWidthFrac of the
// width and BackHeightFrac of the height. Backs are assumed to be
// consistently framed; there is no failure mode, only a possibly misframed
// crop.
func (c *Cropper) CropBack(img gocv.Mat) *RectifiedCrop {
	w, h := img.Cols(), img.Rows()
	cropW := int(float64(w) * c.cfg.BackWidthFrac)
	cropH := int(float64(h) * c.cfg.BackHeightFrac)

	bounds := geometry.RectInt{
		X:      (w - cropW) / 2,
		Y:      (h - cropH) / 2,
		Width:  cropW,
		Height: cropH,
	}.ClampTo(w, h)

	region := img.Region(image.Rect(bounds.X, bounds.Y, bounds.X+bounds.Width, bounds.Y+bounds.Height))
	defer region.Close()
	return &RectifiedCrop{Mat: region.Clone()}
}

// darkBackgroundThreshold separates a card from a near-black backdrop.
const darkBackgroundThreshold = 30

// CropDark is the fallback cropper for photos shot against a near-black
// background, used when the primary rectification was rejected downstream.
// It thresholds away the backdrop and takes the largest remaining contour's
// bounding box, without deskewing.
func (c *Cropper) CropDark(img gocv.Mat) (*RectifiedCrop, error) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, darkBackgroundThreshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	idx := largestContourIndex(contours)
	if idx < 0 {
		return nil, ErrNoCardDetected
	}

	rect := gocv.BoundingRect(contours.At(idx))
	bounds := geometry.RectInt{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
	bounds = bounds.Expand(c.cfg.Margin).ClampTo(img.Cols(), img.Rows())

	region := img.Region(image.Rect(bounds.X, bounds.Y, bounds.X+bounds.Width, bounds.Y+bounds.Height))
	defer region.Close()
	return &RectifiedCrop{Mat: region.Clone()}, nil
}

// deskewAngle runs the first detection pass and derives the rotation needed
// to straighten the card, folded into (-45, 45].
func (c *Cropper) deskewAngle(img gocv.Mat) (float64, error) {
	contours, err := findEdgeContours(img)
	if err != nil {
		return 0, err
	}
	defer contours.Close()

	idx := largestContourIndex(contours)
	if idx < 0 {
		return 0, ErrNoCardDetected
	}

	rect := gocv.MinAreaRect(contours.At(idx))
	return geometry.NormalizeDeskewAngle(float64(rect.Angle)), nil
}

// boundCard runs the second detection pass and returns the axis-aligned
// bounding box of the largest contour.
func (c *Cropper) boundCard(img gocv.Mat) (geometry.RectInt, error) {
	contours, err := findEdgeContours(img)
	if err != nil {
		return geometry.RectInt{}, err
	}
	defer contours.Close()

	idx := largestContourIndex(contours)
	if idx < 0 {
		return geometry.RectInt{}, ErrNoCardDetected
	}

	rect := gocv.BoundingRect(contours.At(idx))
	return geometry.RectInt{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}, nil
}

// findEdgeContours performs the shared edge-detection front half: grayscale,
// 5x5 Gaussian blur, Canny 50/150, then two dilation passes with a 5x5
// kernel to close small gaps in the card outline.
func findEdgeContours(img gocv.Mat) (gocv.PointsVector, error) {
	if img.Empty() {
		return gocv.PointsVector{}, errors.New("empty image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, 50, 150)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: 5, Y: 5})
	defer kernel.Close()
	gocv.Dilate(edges, &edges, kernel)
	gocv.Dilate(edges, &edges, kernel)

	return gocv.FindContours(edges, gocv.RetrievalExternal, gocv.ChainApproxSimple), nil
}

// largestContourIndex returns the index of the contour with the largest
// enclosed area, or -1 if there are none.
func largestContourIndex(contours gocv.PointsVector) int {
	best := -1
	var bestArea float64
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > bestArea {
			bestArea = area
			best = i
		}
	}
	return best
}

// rotateKeepBounds rotates the full image by -angle about its center using
// cubic interpolation with replicated borders, which avoids black wedges at
// the corners. Canvas size is preserved; the subsequent bounding pass crops
// away anything pushed outside.
func rotateKeepBounds(img gocv.Mat, angle float64) gocv.Mat {
	w, h := img.Cols(), img.Rows()
	center := image.Point{X: w / 2, Y: h / 2}

	rotMat := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer rotMat.Close()

	rotated := gocv.NewMat()
	gocv.WarpAffineWithParams(img, &rotated, rotMat, image.Point{X: w, Y: h},
		gocv.InterpolationCubic, gocv.BorderReplicate, color.RGBA{})
	return rotated
}
