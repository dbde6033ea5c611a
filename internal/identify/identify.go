// Package identify decides which catalog card a crop shows, trying the
// learning memory, OCR, and the visual matcher in order and falling back to
// the operator when confidence is low.
package identify

import (
	"fmt"

	"gocv.io/x/gocv"

	"cardscan/internal/catalog"
	"cardscan/internal/config"
	"cardscan/internal/logging"
	"cardscan/internal/match"
	"cardscan/internal/memory"
	"cardscan/internal/ocr"
	"cardscan/pkg/geometry"
)

var log = logging.For("identify")

// Method records which strategy produced an identification.
type Method string

const (
	MethodMemory    Method = "memory"
	MethodOCR       Method = "ocr"
	MethodMatch     Method = "match"
	MethodConfirmed Method = "confirmed"
	MethodManual    Method = "manual"
)

// OutcomeKind classifies the result of one identification attempt.
type OutcomeKind int

const (
	// OutcomeIdentified carries a resolved record.
	OutcomeIdentified OutcomeKind = iota
	// OutcomeAbandoned means the operator skipped the card.
	OutcomeAbandoned
	// OutcomeRecrop means the operator judged the crop unusable; the caller
	// may recrop once and retry.
	OutcomeRecrop
)

// Outcome is the result of Identify. Record and Score are set only for
// OutcomeIdentified.
type Outcome struct {
	Kind   OutcomeKind
	Record *catalog.CardRecord
	Method Method
	Score  float64
}

// Decision is the operator's answer to a match-confirmation prompt.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionReject
	DecisionBadCrop
)

// Prompter is the operator-interaction surface. Implementations serialize
// access so concurrent workers never interleave prompts.
type Prompter interface {
	// ConfirmMatch shows a borderline candidate and returns the decision.
	// ref may be empty when the catalog has no reference image.
	ConfirmMatch(crop, ref gocv.Mat, candidate *catalog.CardRecord, score float64) (Decision, error)
	// ManualEntry asks the operator for the card. A nil record with nil
	// error means the operator skipped.
	ManualEntry(cat *catalog.Catalog, lang catalog.Language) (*catalog.CardRecord, error)
}

// Ranker scores a crop against catalog references. *match.Matcher
// implements it.
type Ranker interface {
	Rank(crop gocv.Mat, refs match.ReferenceSource, exclude func(id string) bool) ([]match.Score, error)
}

// NumberReader reads the printed collector number. *ocr.Engine implements
// it.
type NumberReader interface {
	ReadNumber(card gocv.Mat, region geometry.FracRect, totalCount int) (string, error)
}

// Options selects which automatic strategies run. Memory and the prompter
// are always active.
type Options struct {
	UseOCR   bool
	UseMatch bool
}

// Identifier runs the identification ladder for one language worker. Not
// safe for concurrent use: it owns per-worker OCR and matcher state.
type Identifier struct {
	thresholds config.Thresholds
	region     geometry.FracRect
	lang       catalog.Language
	opts       Options

	reader   NumberReader
	ranker   Ranker
	prompter Prompter
}

// New assembles an identifier. reader may be nil when OCR is disabled;
// ranker may be nil when matching is disabled.
func New(thresholds config.Thresholds, region geometry.FracRect, lang catalog.Language,
	opts Options, reader NumberReader, ranker Ranker, prompter Prompter) *Identifier {
	return &Identifier{
		thresholds: thresholds,
		region:     region,
		lang:       lang,
		opts:       opts,
		reader:     reader,
		ranker:     ranker,
		prompter:   prompter,
	}
}

// Identify resolves a cropped card front against the catalog.
//
// The ladder: learned memory above the fast-path threshold, then OCR number
// lookup, then visual match ranking with auto-accept and prompt bands, then
// manual entry. Every confirmed answer is written back into memory so the
// next sighting of the same card short-circuits.
func (id *Identifier) Identify(crop gocv.Mat, cat *catalog.Catalog, mem *memory.Store) (Outcome, error) {
	if crop.Empty() {
		return Outcome{}, fmt.Errorf("empty crop")
	}
	hash := memory.HashImage(crop)

	if rec, score, ok := id.memoryPath(hash, cat, mem); ok {
		return identified(rec, MethodMemory, score), nil
	}
	if rec, ok := id.ocrPath(crop, hash, cat, mem); ok {
		return identified(rec, MethodOCR, 0), nil
	}
	return id.matchPath(crop, hash, cat, mem)
}

func identified(rec *catalog.CardRecord, method Method, score float64) Outcome {
	return Outcome{Kind: OutcomeIdentified, Record: rec, Method: method, Score: score}
}

// memoryPath is the fast path: a previously confirmed hash close enough to
// this crop resolves without touching OCR or the matcher.
func (id *Identifier) memoryPath(hash memory.Hash, cat *catalog.Catalog, mem *memory.Store) (*catalog.CardRecord, float64, bool) {
	cardID, similarity, ok := mem.Lookup(hash)
	if !ok || similarity <= id.thresholds.MemoryAccept {
		return nil, 0, false
	}
	rec := cat.Record(cardID)
	if rec == nil {
		// Memory can outlive a catalog refresh; a stale identifier falls
		// through to the live strategies.
		log.Warn("learned identifier missing from catalog", "id", cardID)
		return nil, 0, false
	}
	log.Info("memory fast path", "id", cardID, "similarity", fmt.Sprintf("%.3f", similarity))
	mem.RecordAuto()
	return rec, similarity, true
}

// ocrPath reads the printed collector number and resolves it. A blacklisted
// resolution is ignored: the operator already said this crop is not that
// card.
func (id *Identifier) ocrPath(crop gocv.Mat, hash memory.Hash, cat *catalog.Catalog, mem *memory.Store) (*catalog.CardRecord, bool) {
	if !id.opts.UseOCR || id.reader == nil {
		return nil, false
	}
	reading, err := id.reader.ReadNumber(crop, id.region, cat.TotalCount())
	if err != nil {
		log.Warn("number OCR failed", "error", err)
		return nil, false
	}
	rec := ocr.Resolve(reading, cat)
	if rec == nil {
		return nil, false
	}
	if mem.IsBlacklisted(hash, rec.ID) {
		log.Info("OCR hit is blacklisted for this crop", "id", rec.ID)
		return nil, false
	}
	log.Info("OCR number resolved", "reading", reading, "id", rec.ID)
	mem.Confirm(hash, rec.ID)
	mem.RecordAuto()
	return rec, true
}

// matchPath ranks references, auto-accepts confident scores, prompts on the
// borderline band, and falls back to manual entry.
func (id *Identifier) matchPath(crop gocv.Mat, hash memory.Hash, cat *catalog.Catalog, mem *memory.Store) (Outcome, error) {
	if !id.opts.UseMatch || id.ranker == nil {
		return id.manualEntry(hash, cat, mem)
	}

	scores, err := id.ranker.Rank(crop, cat, func(candidate string) bool {
		return mem.IsBlacklisted(hash, candidate)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("rank references: %w", err)
	}
	if len(scores) == 0 {
		return id.manualEntry(hash, cat, mem)
	}

	top := scores[0]
	rec := cat.Record(top.ID)
	if rec == nil {
		log.Warn("reference image without catalog record", "id", top.ID)
		return id.manualEntry(hash, cat, mem)
	}

	switch {
	case top.Score > id.thresholds.AutoAccept:
		log.Info("match auto-accepted", "id", top.ID, "score", fmt.Sprintf("%.3f", top.Score))
		mem.Confirm(hash, top.ID)
		mem.RecordAuto()
		return identified(rec, MethodMatch, top.Score), nil

	case top.Score >= id.thresholds.DisplayMin:
		ref, _ := cat.Reference(top.ID)
		decision, err := id.prompter.ConfirmMatch(crop, ref, rec, top.Score)
		if err != nil {
			return Outcome{}, fmt.Errorf("confirm match: %w", err)
		}
		switch decision {
		case DecisionAccept:
			mem.Confirm(hash, top.ID)
			mem.RecordAuto()
			return identified(rec, MethodConfirmed, top.Score), nil
		case DecisionBadCrop:
			return Outcome{Kind: OutcomeRecrop}, nil
		default:
			mem.Reject(hash, top.ID)
			return id.manualEntry(hash, cat, mem)
		}

	default:
		log.Info("no confident match", "best", top.ID, "score", fmt.Sprintf("%.3f", top.Score))
		return id.manualEntry(hash, cat, mem)
	}
}

// manualEntry hands the card to the operator and learns the answer.
func (id *Identifier) manualEntry(hash memory.Hash, cat *catalog.Catalog, mem *memory.Store) (Outcome, error) {
	rec, err := id.prompter.ManualEntry(cat, id.lang)
	if err != nil {
		return Outcome{}, fmt.Errorf("manual entry: %w", err)
	}
	if rec == nil {
		return Outcome{Kind: OutcomeAbandoned}, nil
	}
	mem.Confirm(hash, rec.ID)
	mem.RecordManual()
	return identified(rec, MethodManual, 0), nil
}
