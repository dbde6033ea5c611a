// Package geometry provides the geometric types shared by the cropping and
// OCR packages.
package geometry

import "math"

// CardAspectRatio is the height:width ratio of a standard Pokémon card
// (88mm x 63mm). Crops should approximate it but consumers must tolerate
// deviation.
const CardAspectRatio = 88.0 / 63.0

// Point2D represents a 2D point with floating-point coordinates.
type Point2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance to another point.
func (p Point2D) Distance(other Point2D) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// PointInt represents a 2D point with integer coordinates.
type PointInt struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ToFloat converts to Point2D.
func (p PointInt) ToFloat() Point2D {
	return Point2D{X: float64(p.X), Y: float64(p.Y)}
}

// RectInt represents a rectangle with integer pixel coordinates.
type RectInt struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the rectangle area in pixels.
func (r RectInt) Area() int {
	return r.Width * r.Height
}

// Expand grows the rectangle by margin pixels on every side.
func (r RectInt) Expand(margin int) RectInt {
	return RectInt{
		X:      r.X - margin,
		Y:      r.Y - margin,
		Width:  r.Width + 2*margin,
		Height: r.Height + 2*margin,
	}
}

// ClampTo restricts the rectangle to an image of the given dimensions.
func (r RectInt) ClampTo(imgWidth, imgHeight int) RectInt {
	x := max(0, r.X)
	y := max(0, r.Y)
	w := min(r.Width-(x-r.X), imgWidth-x)
	h := min(r.Height-(y-r.Y), imgHeight-y)
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return RectInt{X: x, Y: y, Width: w, Height: h}
}

// AspectRatio returns height/width, or 0 for degenerate rectangles.
func (r RectInt) AspectRatio() float64 {
	if r.Width == 0 {
		return 0
	}
	return float64(r.Height) / float64(r.Width)
}

// FracRect is a rectangle expressed as fractions of image dimensions,
// used for the OCR number region. All fields are in [0, 1].
type FracRect struct {
	XStart float64 `json:"x_start" toml:"x_start"`
	XEnd   float64 `json:"x_end" toml:"x_end"`
	YStart float64 `json:"y_start" toml:"y_start"`
	YEnd   float64 `json:"y_end" toml:"y_end"`
}

// Apply resolves the fractional bounds against pixel dimensions.
func (f FracRect) Apply(imgWidth, imgHeight int) RectInt {
	x0 := int(float64(imgWidth) * f.XStart)
	x1 := int(float64(imgWidth) * f.XEnd)
	y0 := int(float64(imgHeight) * f.YStart)
	y1 := int(float64(imgHeight) * f.YEnd)
	return RectInt{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}.ClampTo(imgWidth, imgHeight)
}

// Valid reports whether the bounds are ordered and inside [0, 1].
func (f FracRect) Valid() bool {
	return f.XStart >= 0 && f.XEnd <= 1 && f.XStart < f.XEnd &&
		f.YStart >= 0 && f.YEnd <= 1 && f.YStart < f.YEnd
}

// NormalizeDeskewAngle folds a min-area-rect angle into (-45, 45] by removing
// multiples of 90 degrees. OpenCV reports rotated-rect angles in [-90, 0) or
// [0, 90) depending on version; after folding, the result is the small
// correction needed to straighten the card without swapping its axes.
func NormalizeDeskewAngle(deg float64) float64 {
	for deg > 45 {
		deg -= 90
	}
	for deg <= -45 {
		deg += 90
	}
	return deg
}
