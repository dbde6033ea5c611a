// Package pipeline drives batch processing: scan a set's raw photo folders,
// crop and identify each front/back pair, and write renamed crops to the
// output tree.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"cardscan/internal/catalog"
	"cardscan/internal/config"
	"cardscan/internal/crop"
	"cardscan/internal/identify"
	"cardscan/internal/imageio"
	"cardscan/internal/logging"
	"cardscan/internal/match"
	"cardscan/internal/memory"
	"cardscan/internal/ocr"
)

var log = logging.For("pipeline")

// Result summarizes one language's batch.
type Result struct {
	Language   catalog.Language
	Pairs      int
	Identified int
	Skipped    int
	Failed     int
}

// Pair is one physical card: a front photo and an optional back photo.
type Pair struct {
	Front string
	Back  string
}

// Runner owns the shared state of one set's batch: the immutable catalog,
// the locked memory store, and the operator prompter. Workers derive their
// own OCR engine and matcher.
type Runner struct {
	cfg     *config.Config
	opts    identify.Options
	setDir  string
	setCode string

	cat      *catalog.Catalog
	mem      *memory.Store
	prompter identify.Prompter
}

// NewRunner loads the catalog and learning memory for a set folder. The set
// code is derived from the folder name's trailing token. Catalog failures
// abort the whole set; everything downstream degrades per card.
func NewRunner(cfg *config.Config, setDir string, opts identify.Options, prompter identify.Prompter) (*Runner, error) {
	setCode := SetCodeFromDir(setDir)

	cat, err := catalog.Load(cfg.CatalogRoot, setCode)
	if err != nil {
		return nil, fmt.Errorf("load catalog for %s: %w", setCode, err)
	}
	mem, err := memory.Open(setDir, setCode, cfg.Thresholds.HashProximity)
	if err != nil {
		cat.Close()
		return nil, fmt.Errorf("open learning memory: %w", err)
	}

	return &Runner{
		cfg:      cfg,
		opts:     opts,
		setDir:   setDir,
		setCode:  setCode,
		cat:      cat,
		mem:      mem,
		prompter: prompter,
	}, nil
}

// Close releases the catalog's reference images.
func (r *Runner) Close() {
	r.cat.Close()
}

// Memory exposes the set's learning store for the stats command.
func (r *Runner) Memory() *memory.Store { return r.mem }

// SetCodeFromDir extracts the set code from Name_SetCode folder naming; a
// folder without an underscore is its own code.
func SetCodeFromDir(setDir string) string {
	base := filepath.Base(filepath.Clean(setDir))
	if idx := strings.LastIndex(base, "_"); idx >= 0 && idx < len(base)-1 {
		return base[idx+1:]
	}
	return base
}

// Run processes every requested language concurrently and returns one
// Result per language that had photos.
func (r *Runner) Run(languages []catalog.Language) []Result {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for _, lang := range languages {
		pairs, err := ScanPairs(filepath.Join(r.setDir, "raw", string(lang)))
		if err != nil {
			log.Debug("no photos for language", "language", lang, "error", err)
			continue
		}
		if len(pairs) == 0 {
			continue
		}
		wg.Add(1)
		go func(lang catalog.Language, pairs []Pair) {
			defer wg.Done()
			result := r.processLanguage(lang, pairs)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(lang, pairs)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Language < results[j].Language })
	return results
}

// ScanPairs lists the images of one language folder in name order and
// groups them into front/back pairs. An odd trailing photo becomes a
// front-only pair.
func ScanPairs(dir string) ([]Pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !imageio.IsSupportedFormat(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)

	var pairs []Pair
	for i := 0; i < len(files); i += 2 {
		pair := Pair{Front: files[i]}
		if i+1 < len(files) {
			pair.Back = files[i+1]
		} else {
			log.Warn("odd photo count, last card has no back", "file", files[i])
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// processLanguage is one worker: it owns an OCR engine, a matcher, and an
// identifier, and walks its language's pairs sequentially.
func (r *Runner) processLanguage(lang catalog.Language, pairs []Pair) Result {
	result := Result{Language: lang, Pairs: len(pairs)}

	var reader identify.NumberReader
	if r.opts.UseOCR {
		engine, err := ocr.NewEngine()
		if err != nil {
			log.Warn("OCR unavailable for this run", "language", lang, "error", err)
		} else {
			defer engine.Close()
			reader = engine
		}
	}
	var ranker identify.Ranker
	if r.opts.UseMatch {
		matcher := match.NewMatcher(r.cfg.Match)
		defer matcher.Close()
		ranker = matcher
	}

	ident := identify.New(r.cfg.Thresholds, r.cfg.NumberRegion(r.setCode), lang,
		r.opts, reader, ranker, r.prompter)
	cropper := crop.New(r.cfg.Crop)

	for _, pair := range pairs {
		switch err := r.processPair(ident, cropper, lang, pair); {
		case err == nil:
			result.Identified++
		case errors.Is(err, errSkipped):
			result.Skipped++
		default:
			log.Warn("card failed", "front", pair.Front, "error", err)
			result.Failed++
		}
	}
	return result
}

// errSkipped marks cards the operator chose not to identify.
var errSkipped = errors.New("skipped by operator")

// processPair crops, identifies, and writes one card. Identification gets
// at most one recrop retry with the dark-background cropper.
func (r *Runner) processPair(ident *identify.Identifier, cropper *crop.Cropper, lang catalog.Language, pair Pair) error {
	img, err := imageio.LoadMat(pair.Front)
	if err != nil {
		return fmt.Errorf("load front: %w", err)
	}
	defer img.Close()

	front, err := cropper.CropFront(img)
	if err != nil {
		return fmt.Errorf("crop front: %w", err)
	}
	defer front.Close()

	outcome, err := ident.Identify(front.Mat, r.cat, r.mem)
	if err != nil {
		return err
	}
	if outcome.Kind == identify.OutcomeRecrop {
		retry, err := cropper.CropDark(img)
		if err != nil {
			return fmt.Errorf("recrop: %w", err)
		}
		defer retry.Close()

		outcome, err = ident.Identify(retry.Mat, r.cat, r.mem)
		if err != nil {
			return err
		}
		if outcome.Kind == identify.OutcomeRecrop {
			// One retry only; a second bad crop is a skip.
			return fmt.Errorf("crop rejected twice: %w", errSkipped)
		}
		front = retry
	}
	if outcome.Kind == identify.OutcomeAbandoned {
		return errSkipped
	}

	if err := r.writeCard(front.Mat, outcome.Record, lang, pair.Front, "FRONT"); err != nil {
		return err
	}
	if pair.Back != "" {
		if err := r.writeBack(cropper, outcome.Record, lang, pair.Back); err != nil {
			// The identification already succeeded; a bad back photo is
			// logged, not fatal for the card.
			log.Warn("back crop failed", "file", pair.Back, "error", err)
		}
	}
	log.Info("card identified",
		"card", outcome.Record.ID, "method", outcome.Method, "language", lang)
	return nil
}

func (r *Runner) writeBack(cropper *crop.Cropper, rec *catalog.CardRecord, lang catalog.Language, path string) error {
	img, err := imageio.LoadMat(path)
	if err != nil {
		return err
	}
	defer img.Close()

	back := cropper.CropBack(img)
	defer back.Close()
	return r.writeCard(back.Mat, rec, lang, path, "BACK")
}

// writeCard saves a crop as Name_localId_set_LANG_SIDE.ext under the
// language's output folder, sanitized and collision-disambiguated.
func (r *Runner) writeCard(mat gocv.Mat, rec *catalog.CardRecord, lang catalog.Language, srcPath, side string) error {
	dir := filepath.Join(r.setDir, r.cfg.OutputDir, string(lang))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(srcPath))
	base := fmt.Sprintf("%s_%s_%s_%s_%s%s",
		imageio.SanitizeFilename(rec.NameFor(lang)),
		rec.LocalNumber, r.setCode, lang, side, ext)
	name := imageio.UniqueName(dir, base)

	if err := imageio.SaveMat(filepath.Join(dir, name), mat); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}
