// Package memory implements the persistent learning layer: a perceptual-hash
// index of confirmed and rejected identifications that lets repeat crops skip
// the visual matcher entirely.
package memory

import (
	"fmt"
	"image"
	"math/bits"
	"sort"
	"strconv"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"
)

// HashBits is the perceptual hash length: a 16x16 luminance grid, one bit
// per cell.
const HashBits = 256

const hashSide = 16

// Hash is a 256-bit perceptual hash of an image's coarse luminance pattern.
// Not an identifier: collisions between similar-looking cards are expected
// and handled by the similarity threshold.
type Hash [4]uint64

// HashImage computes the perceptual hash of a BGR Mat: downsample to 16x16,
// grayscale, then compare every cell against the median luminance. Median
// rather than mean keeps the hash stable under global lighting shifts.
func HashImage(img gocv.Mat) Hash {
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(img, &small, image.Point{X: hashSide, Y: hashSide}, 0, 0, gocv.InterpolationArea)

	gray := gocv.NewMat()
	defer gray.Close()
	if small.Channels() > 1 {
		gocv.CvtColor(small, &gray, gocv.ColorBGRToGray)
	} else {
		small.CopyTo(&gray)
	}

	luminance := make([]float64, 0, HashBits)
	for y := 0; y < hashSide; y++ {
		for x := 0; x < hashSide; x++ {
			luminance = append(luminance, float64(gray.GetUCharAt(y, x)))
		}
	}
	return hashLuminance(luminance)
}

// hashLuminance builds the hash from a row-major 256-sample luminance grid.
func hashLuminance(luminance []float64) Hash {
	sorted := make([]float64, len(luminance))
	copy(sorted, luminance)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	var h Hash
	for i, v := range luminance {
		if v > median {
			h[i/64] |= 1 << uint(i%64)
		}
	}
	return h
}

// Distance returns the Hamming distance to another hash (0..256, lower is
// more similar).
func (h Hash) Distance(other Hash) int {
	d := 0
	for i := range h {
		d += bits.OnesCount64(h[i] ^ other[i])
	}
	return d
}

// Similarity returns 1 - distance/bits, in [0, 1].
func (h Hash) Similarity(other Hash) float64 {
	return 1.0 - float64(h.Distance(other))/float64(HashBits)
}

// String encodes the hash as 64 hex digits, the on-disk key format.
func (h Hash) String() string {
	return fmt.Sprintf("%016x%016x%016x%016x", h[0], h[1], h[2], h[3])
}

// ParseHash decodes a 64-digit hex key. Malformed keys fail so a corrupted
// store entry is dropped rather than matched against garbage.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != 64 {
		return h, fmt.Errorf("hash key must be 64 hex digits, got %d", len(s))
	}
	for i := range h {
		word, err := strconv.ParseUint(s[i*16:(i+1)*16], 16, 64)
		if err != nil {
			return h, fmt.Errorf("malformed hash key %q: %w", s, err)
		}
		h[i] = word
	}
	return h, nil
}
