package identify

import (
	"os"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"cardscan/internal/catalog"
	"cardscan/internal/config"
	"cardscan/internal/match"
	"cardscan/internal/memory"
	"cardscan/pkg/geometry"
)

type fakeRanker struct {
	calls  int
	scores []match.Score
}

func (f *fakeRanker) Rank(_ gocv.Mat, _ match.ReferenceSource, exclude func(string) bool) ([]match.Score, error) {
	f.calls++
	var out []match.Score
	for _, s := range f.scores {
		if exclude == nil || !exclude(s.ID) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeReader struct {
	calls   int
	reading string
}

func (f *fakeReader) ReadNumber(_ gocv.Mat, _ geometry.FracRect, _ int) (string, error) {
	f.calls++
	return f.reading, nil
}

type scriptedPrompter struct {
	decision     Decision
	manual       *catalog.CardRecord
	confirmCalls int
	manualCalls  int
}

func (p *scriptedPrompter) ConfirmMatch(_, _ gocv.Mat, _ *catalog.CardRecord, _ float64) (Decision, error) {
	p.confirmCalls++
	return p.decision, nil
}

func (p *scriptedPrompter) ManualEntry(_ *catalog.Catalog, _ catalog.Language) (*catalog.CardRecord, error) {
	p.manualCalls++
	return p.manual, nil
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	dataRoot := t.TempDir()
	setDir := filepath.Join(dataRoot, "Card_Sets", "ScarletViolet_SV1")
	if err := os.MkdirAll(setDir, 0o755); err != nil {
		t.Fatal(err)
	}
	csv := "id,localId,name,set_cardCount\nsv1-001,001,Sprigatito,102\nsv1-025,025,Pikachu,102\n"
	if err := os.WriteFile(filepath.Join(setDir, "CardList_en.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Load(filepath.Join(dataRoot, "Card_Sets"), "sv1")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	t.Cleanup(cat.Close)
	return cat
}

func testMemory(t *testing.T) *memory.Store {
	t.Helper()
	mem, err := memory.Open(t.TempDir(), "sv1", 0.30)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	return mem
}

func testCrop(t *testing.T) gocv.Mat {
	t.Helper()
	crop := gocv.NewMatWithSize(400, 300, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { crop.Close() })
	return crop
}

func newTestIdentifier(opts Options, reader NumberReader, ranker Ranker, prompter Prompter) *Identifier {
	cfg := config.Default()
	return New(cfg.Thresholds, cfg.NumberRegion("sv1"), catalog.LangEN, opts, reader, ranker, prompter)
}

func TestIdentifySecondCallHitsMemory(t *testing.T) {
	cat := testCatalog(t)
	mem := testMemory(t)
	crop := testCrop(t)

	ranker := &fakeRanker{scores: []match.Score{{ID: "sv1-025", Score: 0.40}}}
	prompter := &scriptedPrompter{}
	id := newTestIdentifier(Options{UseMatch: true}, nil, ranker, prompter)

	first, err := id.Identify(crop, cat, mem)
	if err != nil {
		t.Fatalf("first Identify: %v", err)
	}
	if first.Kind != OutcomeIdentified || first.Method != MethodMatch || first.Record.ID != "sv1-025" {
		t.Fatalf("first call: %+v", first)
	}

	second, err := id.Identify(crop, cat, mem)
	if err != nil {
		t.Fatalf("second Identify: %v", err)
	}
	if second.Method != MethodMemory || second.Record.ID != "sv1-025" {
		t.Fatalf("second call should hit memory: %+v", second)
	}
	if ranker.calls != 1 {
		t.Fatalf("matcher ran %d times, want 1", ranker.calls)
	}
	if stats := mem.Stats(); stats.AutoMatches != 2 {
		t.Errorf("auto match count: %+v", stats)
	}
}

func TestIdentifyOCRShortCircuitsMatcher(t *testing.T) {
	cat := testCatalog(t)
	mem := testMemory(t)
	crop := testCrop(t)

	ranker := &fakeRanker{scores: []match.Score{{ID: "sv1-001", Score: 0.90}}}
	reader := &fakeReader{reading: "025/102"}
	id := newTestIdentifier(Options{UseOCR: true, UseMatch: true}, reader, ranker, &scriptedPrompter{})

	outcome, err := id.Identify(crop, cat, mem)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if outcome.Method != MethodOCR || outcome.Record.ID != "sv1-025" {
		t.Fatalf("OCR path: %+v", outcome)
	}
	if ranker.calls != 0 {
		t.Error("matcher must not run when OCR resolves")
	}
}

func TestIdentifyUnknownReadingFallsThrough(t *testing.T) {
	cat := testCatalog(t)
	mem := testMemory(t)
	crop := testCrop(t)

	ranker := &fakeRanker{scores: []match.Score{{ID: "sv1-001", Score: 0.90}}}
	reader := &fakeReader{reading: "Unknown"}
	id := newTestIdentifier(Options{UseOCR: true, UseMatch: true}, reader, ranker, &scriptedPrompter{})

	outcome, err := id.Identify(crop, cat, mem)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if outcome.Method != MethodMatch || outcome.Record.ID != "sv1-001" {
		t.Fatalf("expected matcher fallback: %+v", outcome)
	}
}

func TestIdentifyPromptBand(t *testing.T) {
	cases := []struct {
		name     string
		decision Decision
		want     OutcomeKind
		method   Method
	}{
		{"accept", DecisionAccept, OutcomeIdentified, MethodConfirmed},
		{"bad crop", DecisionBadCrop, OutcomeRecrop, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cat := testCatalog(t)
			mem := testMemory(t)
			crop := testCrop(t)

			ranker := &fakeRanker{scores: []match.Score{{ID: "sv1-025", Score: 0.20}}}
			prompter := &scriptedPrompter{decision: tc.decision}
			id := newTestIdentifier(Options{UseMatch: true}, nil, ranker, prompter)

			outcome, err := id.Identify(crop, cat, mem)
			if err != nil {
				t.Fatalf("Identify: %v", err)
			}
			if outcome.Kind != tc.want {
				t.Fatalf("outcome kind: %+v", outcome)
			}
			if tc.method != "" && outcome.Method != tc.method {
				t.Fatalf("method: %+v", outcome)
			}
			if prompter.confirmCalls != 1 {
				t.Errorf("confirm calls: %d", prompter.confirmCalls)
			}
		})
	}
}

func TestIdentifyRejectBlacklistsAndGoesManual(t *testing.T) {
	cat := testCatalog(t)
	mem := testMemory(t)
	crop := testCrop(t)

	ranker := &fakeRanker{scores: []match.Score{{ID: "sv1-025", Score: 0.20}}}
	prompter := &scriptedPrompter{decision: DecisionReject, manual: cat.Record("sv1-001")}
	id := newTestIdentifier(Options{UseMatch: true}, nil, ranker, prompter)

	outcome, err := id.Identify(crop, cat, mem)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if outcome.Method != MethodManual || outcome.Record.ID != "sv1-001" {
		t.Fatalf("manual fallback: %+v", outcome)
	}
	if !mem.IsBlacklisted(memory.HashImage(crop), "sv1-025") {
		t.Error("rejected candidate must be blacklisted")
	}

	// The manual answer was learned, so the same crop now resolves from
	// memory and the rejected candidate is never prompted again.
	second, err := id.Identify(crop, cat, mem)
	if err != nil {
		t.Fatalf("second Identify: %v", err)
	}
	if second.Method != MethodMemory || second.Record.ID != "sv1-001" {
		t.Fatalf("second call: %+v", second)
	}
	if prompter.confirmCalls != 1 {
		t.Errorf("blacklisted candidate prompted again: %d confirms", prompter.confirmCalls)
	}
}

func TestIdentifyNoCandidatesManualSkip(t *testing.T) {
	cat := testCatalog(t)
	mem := testMemory(t)
	crop := testCrop(t)

	prompter := &scriptedPrompter{manual: nil}
	id := newTestIdentifier(Options{UseMatch: true}, nil, &fakeRanker{}, prompter)

	outcome, err := id.Identify(crop, cat, mem)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if outcome.Kind != OutcomeAbandoned {
		t.Fatalf("expected abandonment: %+v", outcome)
	}
	if stats := mem.Stats(); stats.TotalProcessed != 0 {
		t.Errorf("abandoned card must not count as processed: %+v", stats)
	}
}
