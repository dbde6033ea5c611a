// Package match scores a cropped card against a set's reference images
// using ORB feature matching.
package match

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"cardscan/internal/config"
	"cardscan/internal/logging"
)

var log = logging.For("match")

// workingSize is the common comparison size. Both the crop and each
// reference are resized to it so keypoint scales agree regardless of the
// source resolution.
var workingSize = image.Point{X: 600, Y: 800}

// Score is one candidate's similarity to the crop. Score is the fraction of
// good matches over the larger keypoint count, in [0, 1].
type Score struct {
	ID    string
	Score float64
	Good  int
}

// ReferenceSource yields reference images by identifier. *catalog.Catalog
// satisfies it.
type ReferenceSource interface {
	References() []string
	Reference(id string) (gocv.Mat, bool)
}

type refFeatures struct {
	keypoints   int
	descriptors gocv.Mat
}

// Matcher extracts and compares ORB features. Not safe for concurrent use;
// each worker owns its own Matcher. Reference descriptors are computed once
// and cached across calls.
type Matcher struct {
	cfg   config.Match
	orb   gocv.ORB
	bf    gocv.BFMatcher
	cache map[string]refFeatures
}

// NewMatcher creates a matcher with the configured feature budget.
func NewMatcher(cfg config.Match) *Matcher {
	return &Matcher{
		cfg: cfg,
		orb: gocv.NewORBWithParams(cfg.ORBFeatures, 1.2, 8, 31, 0, 2,
			gocv.ORBScoreTypeHarris, 31, 20),
		// Cross-check keeps only mutually-best pairs, which matters when
		// every card in a set shares the same frame artwork.
		bf:    gocv.NewBFMatcherWithParams(gocv.NormHamming, true),
		cache: make(map[string]refFeatures),
	}
}

// Close releases the detector, matcher, and cached descriptors.
func (m *Matcher) Close() {
	for _, ref := range m.cache {
		ref.descriptors.Close()
	}
	m.cache = nil
	m.bf.Close()
	m.orb.Close()
}

// Rank scores the crop against every reference and returns candidates in
// descending score order. exclude filters candidates out before scoring
// (nil means no filter). An empty result means the set has no usable
// references, not an error.
func (m *Matcher) Rank(crop gocv.Mat, refs ReferenceSource, exclude func(id string) bool) ([]Score, error) {
	if crop.Empty() {
		return nil, fmt.Errorf("empty crop")
	}

	cropKP, cropDesc, err := m.features(crop)
	if err != nil {
		return nil, err
	}
	defer cropDesc.Close()
	if cropKP == 0 {
		log.Warn("no keypoints in crop, matching skipped")
		return nil, nil
	}

	var scores []Score
	for _, id := range refs.References() {
		if exclude != nil && exclude(id) {
			continue
		}
		ref, err := m.refFeatures(id, refs)
		if err != nil {
			log.Warn("skipping reference", "id", id, "error", err)
			continue
		}
		if ref.keypoints == 0 {
			continue
		}
		good := m.goodMatches(cropDesc, ref.descriptors)
		scores = append(scores, Score{
			ID:    id,
			Good:  good,
			Score: float64(good) / float64(max(cropKP, ref.keypoints)),
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	return scores, nil
}

// ScoreAgainst compares the crop to a single reference image.
func (m *Matcher) ScoreAgainst(crop, ref gocv.Mat) (Score, error) {
	cropKP, cropDesc, err := m.features(crop)
	if err != nil {
		return Score{}, err
	}
	defer cropDesc.Close()

	refKP, refDesc, err := m.features(ref)
	if err != nil {
		return Score{}, err
	}
	defer refDesc.Close()

	if cropKP == 0 || refKP == 0 {
		return Score{}, nil
	}
	good := m.goodMatches(cropDesc, refDesc)
	return Score{Good: good, Score: float64(good) / float64(max(cropKP, refKP))}, nil
}

// refFeatures returns cached descriptors for a reference, computing them on
// first use.
func (m *Matcher) refFeatures(id string, refs ReferenceSource) (refFeatures, error) {
	if cached, ok := m.cache[id]; ok {
		return cached, nil
	}
	mat, ok := refs.Reference(id)
	if !ok {
		return refFeatures{}, fmt.Errorf("no reference image for %s", id)
	}
	kp, desc, err := m.features(mat)
	if err != nil {
		return refFeatures{}, err
	}
	ref := refFeatures{keypoints: kp, descriptors: desc}
	m.cache[id] = ref
	return ref, nil
}

// features resizes to the working size, grayscales, and extracts ORB
// keypoints and descriptors. The caller owns the returned Mat unless it
// goes into the cache.
func (m *Matcher) features(img gocv.Mat) (int, gocv.Mat, error) {
	if img.Empty() {
		return 0, gocv.Mat{}, fmt.Errorf("empty image")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, workingSize, 0, 0, gocv.InterpolationArea)

	gray := gocv.NewMat()
	defer gray.Close()
	if resized.Channels() > 1 {
		gocv.CvtColor(resized, &gray, gocv.ColorBGRToGray)
	} else {
		resized.CopyTo(&gray)
	}

	mask := gocv.NewMat()
	defer mask.Close()
	keypoints, descriptors := m.orb.DetectAndCompute(gray, mask)
	return len(keypoints), descriptors, nil
}

// goodMatches counts cross-checked matches under the distance cutoff.
func (m *Matcher) goodMatches(a, b gocv.Mat) int {
	if a.Empty() || b.Empty() {
		return 0
	}
	matches := m.bf.Match(a, b)
	good := 0
	for _, match := range matches {
		if match.Distance < m.cfg.GoodMatchDistance {
			good++
		}
	}
	return good
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
