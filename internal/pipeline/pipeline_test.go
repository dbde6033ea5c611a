package pipeline

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"cardscan/internal/catalog"
	"cardscan/internal/config"
	"cardscan/internal/crop"
	"cardscan/internal/identify"
	"cardscan/internal/imageio"
	"cardscan/internal/match"
	"cardscan/internal/memory"
)

func TestScanPairs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"IMG_0004.jpg", "IMG_0001.jpg", "IMG_0002.jpg", "IMG_0003.jpg", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	pairs, err := ScanPairs(dir)
	if err != nil {
		t.Fatalf("ScanPairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if filepath.Base(pairs[0].Front) != "IMG_0001.jpg" || filepath.Base(pairs[0].Back) != "IMG_0002.jpg" {
		t.Errorf("first pair: %+v", pairs[0])
	}
	if filepath.Base(pairs[1].Front) != "IMG_0003.jpg" || filepath.Base(pairs[1].Back) != "IMG_0004.jpg" {
		t.Errorf("second pair: %+v", pairs[1])
	}
}

func TestScanPairsOddCount(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	pairs, err := ScanPairs(dir)
	if err != nil {
		t.Fatalf("ScanPairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[1].Back != "" {
		t.Errorf("trailing photo must be front-only: %+v", pairs[1])
	}
}

func TestSetCodeFromDir(t *testing.T) {
	cases := map[string]string{
		"/cards/ScarletViolet_SV1": "SV1",
		"/cards/Obsidian_sv03.5/":  "sv03.5",
		"/cards/neo1":              "neo1",
	}
	for dir, want := range cases {
		if got := SetCodeFromDir(dir); got != want {
			t.Errorf("SetCodeFromDir(%q) = %q, want %q", dir, got, want)
		}
	}
}

func TestWriteCardNaming(t *testing.T) {
	setDir := t.TempDir()
	r := &Runner{cfg: config.Default(), setDir: setDir, setCode: "SV1"}

	mat := gocv.NewMatWithSize(100, 80, gocv.MatTypeCV8UC3)
	defer mat.Close()

	rec := &catalog.CardRecord{
		ID:          "sv1-133",
		LocalNumber: "133",
		Name:        "Eevee",
		Names:       map[catalog.Language]string{catalog.LangFR: "Évoli"},
	}

	if err := r.writeCard(mat, rec, catalog.LangFR, "/raw/FR/IMG_0001.JPG", "FRONT"); err != nil {
		t.Fatalf("writeCard: %v", err)
	}
	want := filepath.Join(setDir, "Renamed_Cropped", "FR", "Evoli_133_SV1_FR_FRONT.jpg")
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("expected output %s: %v", want, err)
	}

	// Same card again collides and gets a numeric suffix.
	if err := r.writeCard(mat, rec, catalog.LangFR, "/raw/FR/IMG_0003.JPG", "FRONT"); err != nil {
		t.Fatalf("writeCard second: %v", err)
	}
	suffixed := filepath.Join(setDir, "Renamed_Cropped", "FR", "Evoli_133_SV1_FR_FRONT(1).jpg")
	if _, err := os.Stat(suffixed); err != nil {
		t.Fatalf("expected disambiguated output %s: %v", suffixed, err)
	}
}

// borderRanker always reports one candidate inside the confirmation band.
type borderRanker struct{}

func (borderRanker) Rank(_ gocv.Mat, _ match.ReferenceSource, _ func(string) bool) ([]match.Score, error) {
	return []match.Score{{ID: "sv1-025", Score: 0.20}}, nil
}

// sequencePrompter answers ConfirmMatch from a scripted decision list.
type sequencePrompter struct {
	decisions    []identify.Decision
	confirmCalls int
}

func (p *sequencePrompter) ConfirmMatch(_, _ gocv.Mat, _ *catalog.CardRecord, _ float64) (identify.Decision, error) {
	d := p.decisions[p.confirmCalls]
	p.confirmCalls++
	return d, nil
}

func (p *sequencePrompter) ManualEntry(_ *catalog.Catalog, _ catalog.Language) (*catalog.CardRecord, error) {
	return nil, nil
}

// recropFixture builds a runner with a real catalog and memory store, plus a
// front photo a card can be detected in by both the edge and the
// dark-background croppers.
func recropFixture(t *testing.T, prompter identify.Prompter) (*Runner, *identify.Identifier, *crop.Cropper, Pair) {
	t.Helper()
	cfg := config.Default()

	dataRoot := t.TempDir()
	setDir := filepath.Join(dataRoot, "ScarletViolet_sv1")
	catDir := filepath.Join(dataRoot, "Card_Sets", "ScarletViolet_SV1")
	if err := os.MkdirAll(catDir, 0o755); err != nil {
		t.Fatal(err)
	}
	csv := "id,localId,name,set_cardCount\nsv1-025,025,Pikachu,102\n"
	if err := os.WriteFile(filepath.Join(catDir, "CardList_en.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.Load(filepath.Join(dataRoot, "Card_Sets"), "sv1")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	t.Cleanup(cat.Close)

	mem, err := memory.Open(setDir, "sv1", cfg.Thresholds.HashProximity)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}

	img := gocv.NewMatWithSize(1200, 1000, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.Rectangle(&img, image.Rect(200, 200, 800, 1000), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	front := filepath.Join(setDir, "card.jpg")
	if err := imageio.SaveMat(front, img); err != nil {
		t.Fatalf("write front photo: %v", err)
	}

	r := &Runner{cfg: cfg, setDir: setDir, setCode: "sv1", cat: cat, mem: mem, prompter: prompter}
	ident := identify.New(cfg.Thresholds, cfg.NumberRegion("sv1"), catalog.LangEN,
		identify.Options{UseMatch: true}, nil, borderRanker{}, prompter)
	return r, ident, crop.New(cfg.Crop), Pair{Front: front}
}

func TestProcessPairSkipsAfterSecondBadCrop(t *testing.T) {
	prompter := &sequencePrompter{decisions: []identify.Decision{
		identify.DecisionBadCrop,
		identify.DecisionBadCrop,
	}}
	r, ident, cropper, pair := recropFixture(t, prompter)

	err := r.processPair(ident, cropper, catalog.LangEN, pair)
	if !errors.Is(err, errSkipped) {
		t.Fatalf("expected skip after two bad crops, got %v", err)
	}
	// One retry only: the operator is asked twice, never a third time.
	if prompter.confirmCalls != 2 {
		t.Fatalf("confirm prompts: got %d, want 2", prompter.confirmCalls)
	}
}

func TestProcessPairRecropRetrySucceeds(t *testing.T) {
	prompter := &sequencePrompter{decisions: []identify.Decision{
		identify.DecisionBadCrop,
		identify.DecisionAccept,
	}}
	r, ident, cropper, pair := recropFixture(t, prompter)

	if err := r.processPair(ident, cropper, catalog.LangEN, pair); err != nil {
		t.Fatalf("processPair: %v", err)
	}
	if prompter.confirmCalls != 2 {
		t.Fatalf("confirm prompts: got %d, want 2", prompter.confirmCalls)
	}
	out := filepath.Join(r.setDir, "Renamed_Cropped", "EN", "Pikachu_025_sv1_EN_FRONT.jpg")
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected renamed output after recrop retry: %v", err)
	}
}

func TestRenderSummary(t *testing.T) {
	var out strings.Builder
	results := []Result{
		{Language: catalog.LangEN, Pairs: 10, Identified: 8, Skipped: 1, Failed: 1},
		{Language: catalog.LangJA, Pairs: 4, Identified: 4},
	}
	RenderSummary(&out, results, memory.Stats{AutoMatches: 9, ManualEntries: 3, TotalProcessed: 12})

	text := out.String()
	for _, want := range []string{"EN", "JA", "Total", "14", "12", "75.0%"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}
