// Package ocr reads the printed collector number from the bottom strip of a
// cropped card, trying several preprocessing variants and page-segmentation
// modes until one yields a number the set can contain.
package ocr

import (
	"fmt"
	"image"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"

	"cardscan/internal/logging"
	"cardscan/pkg/geometry"
)

var log = logging.For("ocr")

// Unknown is the sentinel reading returned when no preprocessing variant
// produced a readable collector number. A miss is expected operation, not an
// error: the caller falls through to visual matching.
const Unknown = "Unknown"

// NumberChars is the whitelist for the constrained pass: the number appears
// as a digits-slash-digits fraction on modern prints.
const NumberChars = "0123456789/"

// maxInputWidth caps the card image fed to OCR. Phone photos come in at
// 3000+ px and Tesseract gets slower and noisier on them.
const maxInputWidth = 1500

// pageSegModes in trial order: uniform block, single line, single word,
// raw line. The number strip usually reads as a line but damaged or
// holo-foil cards sometimes only resolve in the looser modes.
var pageSegModes = []gosseract.PageSegMode{
	gosseract.PSM_SINGLE_BLOCK,
	gosseract.PSM_SINGLE_LINE,
	gosseract.PSM_SINGLE_WORD,
	gosseract.PSM_RAW_LINE,
}

// Engine wraps a Tesseract client. Not safe for concurrent use; each worker
// owns its own Engine.
type Engine struct {
	client *gosseract.Client
}

// NewEngine creates a Tesseract-backed number reader.
func NewEngine() (*Engine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set OCR language: %w", err)
	}

	// Collector numbers are not dictionary words; stop Tesseract from
	// "correcting" them into ones.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	_ = client.SetVariable("language_model_penalty_non_dict_word", "0")
	_ = client.SetVariable("language_model_penalty_non_freq_dict_word", "0")

	return &Engine{client: client}, nil
}

// Close releases the Tesseract client.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ReadNumber extracts the collector number from a cropped card front.
// region gives the fractional bounds of the number strip; totalCount is the
// printed set size (0 when unknown). The reading keeps the numerator exactly
// as printed, leading zeros included, as "num/total" when the set size is
// known. A card whose number cannot be read yields Unknown with a nil error.
func (e *Engine) ReadNumber(card gocv.Mat, region geometry.FracRect, totalCount int) (string, error) {
	if card.Empty() {
		return "", fmt.Errorf("empty card image")
	}
	if !region.Valid() {
		return "", fmt.Errorf("invalid number region %+v", region)
	}

	strip, err := extractStrip(card, region)
	if err != nil {
		return "", err
	}
	defer strip.Close()

	variants := preprocessVariants(strip)
	defer func() {
		for _, v := range variants {
			v.mat.Close()
		}
	}()

	for _, variant := range variants {
		buf, err := gocv.IMEncode(gocv.PNGFileExt, variant.mat)
		if err != nil {
			log.Warn("could not encode OCR variant", "variant", variant.name, "error", err)
			continue
		}
		number, ok := e.sweep(buf.GetBytes(), totalCount)
		buf.Close()
		if ok {
			log.Debug("collector number read", "number", number, "variant", variant.name)
			if totalCount > 0 {
				return fmt.Sprintf("%s/%d", number, totalCount), nil
			}
			return number, nil
		}
	}
	return Unknown, nil
}

// sweep runs every page-segmentation mode over one preprocessed image,
// first with the digit whitelist, then unconstrained with confusable
// cleanup. First valid number wins.
func (e *Engine) sweep(png []byte, totalCount int) (string, bool) {
	for _, constrained := range []bool{true, false} {
		whitelist := ""
		if constrained {
			whitelist = NumberChars
		}
		if err := e.client.SetWhitelist(whitelist); err != nil {
			continue
		}
		for _, psm := range pageSegModes {
			if err := e.client.SetPageSegMode(psm); err != nil {
				continue
			}
			if err := e.client.SetImageFromBytes(png); err != nil {
				continue
			}
			text, err := e.client.Text()
			if err != nil {
				continue
			}
			if number, ok := ParseNumber(text, totalCount); ok {
				return number, true
			}
			if !constrained {
				if number, ok := ParseNumber(CleanConfusables(text), totalCount); ok {
					return number, true
				}
			}
		}
	}
	return "", false
}

// extractStrip cuts the number region out of the card, downscaling oversized
// inputs first and upscaling the strip 4x for Tesseract.
func extractStrip(card gocv.Mat, region geometry.FracRect) (gocv.Mat, error) {
	working := card
	ownWorking := false
	if card.Cols() > maxInputWidth {
		scale := float64(maxInputWidth) / float64(card.Cols())
		scaled := gocv.NewMat()
		gocv.Resize(card, &scaled, image.Point{}, scale, scale, gocv.InterpolationArea)
		working = scaled
		ownWorking = true
	}
	if ownWorking {
		defer working.Close()
	}

	bounds := region.Apply(working.Cols(), working.Rows())
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return gocv.Mat{}, fmt.Errorf("degenerate number region %+v", bounds)
	}
	strip := working.Region(image.Rect(bounds.X, bounds.Y, bounds.X+bounds.Width, bounds.Y+bounds.Height))
	defer strip.Close()

	upscaled := gocv.NewMat()
	gocv.Resize(strip, &upscaled, image.Point{}, 4, 4, gocv.InterpolationCubic)
	return upscaled, nil
}

type variant struct {
	name string
	mat  gocv.Mat
}

// preprocessVariants produces the trial images: plain grayscale, CLAHE
// contrast boost, Otsu binarization, and inverted Otsu for light-on-dark
// prints. Ordered cheapest first.
func preprocessVariants(strip gocv.Mat) []variant {
	gray := gocv.NewMat()
	if strip.Channels() > 1 {
		gocv.CvtColor(strip, &gray, gocv.ColorBGRToGray)
	} else {
		strip.CopyTo(&gray)
	}

	clahe := gocv.NewCLAHEWithParams(2.0, image.Point{X: 8, Y: 8})
	defer clahe.Close()
	enhanced := gocv.NewMat()
	clahe.Apply(gray, &enhanced)

	binary := gocv.NewMat()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	inverted := gocv.NewMat()
	gocv.BitwiseNot(binary, &inverted)

	return []variant{
		{name: "gray", mat: gray},
		{name: "clahe", mat: enhanced},
		{name: "otsu", mat: binary},
		{name: "otsu_inverted", mat: inverted},
	}
}
