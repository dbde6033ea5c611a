package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeSet lays out a minimal Card_Sets tree for one set and returns the
// Card_Sets root.
func writeSet(t *testing.T, folderName string, files map[string]string) string {
	t.Helper()
	dataRoot := t.TempDir()
	root := filepath.Join(dataRoot, "Card_Sets")
	setDir := filepath.Join(root, folderName)
	if err := os.MkdirAll(filepath.Join(setDir, "IMG"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(setDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

const baseCSV = `id,localId,name,set_cardCount
sv1-001,001,Sprigatito,102
sv1-002,002,Floragato,102
sv1-025,025,Pikachu,102
`

const frCSV = `id,localId,name
sv1-001,001,Poussacha
sv1-025,025,Pikachu
`

func TestLoadResolvesNormalizedFolderName(t *testing.T) {
	root := writeSet(t, "ScarletViolet_SV1", map[string]string{
		"CardList_en.csv": baseCSV,
	})

	// Lowercase code with a dot still resolves via normalized matching.
	c, err := Load(root, "sv1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	if c.Len() != 3 {
		t.Errorf("record count: got %d", c.Len())
	}
	if c.TotalCount() != 102 {
		t.Errorf("total count: got %d", c.TotalCount())
	}
}

func TestLoadSetNotFound(t *testing.T) {
	root := writeSet(t, "ScarletViolet_SV1", nil)
	_, err := Load(root, "NOPE99")
	if !errors.Is(err, ErrSetNotFound) {
		t.Fatalf("expected ErrSetNotFound, got %v", err)
	}
}

func TestLanguageOverlayAndFallback(t *testing.T) {
	root := writeSet(t, "ScarletViolet_SV1", map[string]string{
		"CardList_en.csv": baseCSV,
		"CardList_fr.csv": frCSV,
	})

	c, err := Load(root, "SV1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	record := c.Record("sv1-001")
	if record == nil {
		t.Fatal("missing record sv1-001")
	}
	if got := record.NameFor(LangFR); got != "Poussacha" {
		t.Errorf("FR name: got %q", got)
	}
	// No Japanese overlay was loaded: fall back to the default name.
	if got := record.NameFor(LangJA); got != "Sprigatito" {
		t.Errorf("JA fallback: got %q", got)
	}
}

func TestByNumber(t *testing.T) {
	root := writeSet(t, "ScarletViolet_SV1", map[string]string{
		"CardList_en.csv": baseCSV,
	})
	c, err := Load(root, "sv1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	// Leading zeros are normalized in both directions.
	if record := c.ByNumber("25"); record == nil || record.ID != "sv1-025" {
		t.Errorf("ByNumber(25): got %+v", record)
	}
	if record := c.ByNumber("001"); record == nil || record.ID != "sv1-001" {
		t.Errorf("ByNumber(001): got %+v", record)
	}
	// Full identifier also resolves.
	if record := c.ByNumber("sv1-002"); record == nil || record.ID != "sv1-002" {
		t.Errorf("ByNumber(sv1-002): got %+v", record)
	}
	if record := c.ByNumber("999"); record != nil {
		t.Errorf("ByNumber(999): expected nil, got %+v", record)
	}
}

func TestNormalizeNumber(t *testing.T) {
	cases := map[string]string{
		"001": "1",
		"1":   "1",
		"000": "0",
		"0":   "0",
		"":    "0",
		"25":  "25",
	}
	for in, want := range cases {
		if got := NormalizeNumber(in); got != want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearch(t *testing.T) {
	root := writeSet(t, "ScarletViolet_SV1", map[string]string{
		"CardList_en.csv": baseCSV,
		"CardList_fr.csv": frCSV,
	})
	c, err := Load(root, "sv1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer c.Close()

	results := c.Search("poussacha")
	if len(results) != 1 || results[0].Record.ID != "sv1-001" || results[0].Match != MatchName {
		t.Errorf("name search: got %+v", results)
	}

	results = c.Search("002")
	if len(results) != 1 || results[0].Match != MatchExactNumber {
		t.Errorf("number search: got %+v", results)
	}
}

func TestParseLanguage(t *testing.T) {
	if lang, ok := ParseLanguage("ja"); !ok || lang != LangJA {
		t.Errorf("ParseLanguage(ja): got %v %v", lang, ok)
	}
	if _, ok := ParseLanguage("ZZ"); ok {
		t.Error("ParseLanguage(ZZ) should fail")
	}
}

func TestPokedex(t *testing.T) {
	dataRoot := t.TempDir()
	csv := "Number,Japanese,English\n0184,マリルリ,Azumarill\n0160,オーダイル,Feraligatr\n"
	if err := os.WriteFile(filepath.Join(dataRoot, "pokedex.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}

	p := LoadPokedex(dataRoot)
	if got := p.EnglishName("184"); got != "Azumarill" {
		t.Errorf("EnglishName(184): got %q", got)
	}
	if got := p.EnglishName("0160"); got != "Feraligatr" {
		t.Errorf("EnglishName(0160): got %q", got)
	}
	if got := p.EnglishName("1"); got != "" {
		t.Errorf("EnglishName(1): got %q", got)
	}
	if got := p.SearchByJapanese("マリルリ"); got != "Azumarill" {
		t.Errorf("SearchByJapanese: got %q", got)
	}
}

func TestIsPreModernSet(t *testing.T) {
	dataRoot := t.TempDir()
	table := `[{"id":"neo1","name":"Neo Genesis","releaseDate":"2000/12/16"},
{"id":"sv1","name":"Scarlet & Violet","releaseDate":"2023/03/31"}]`
	if err := os.WriteFile(filepath.Join(dataRoot, "all_sets_full.json"), []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	if !isPreModernSet(dataRoot, "neo1") {
		t.Error("neo1 should be pre-modern by release date")
	}
	if isPreModernSet(dataRoot, "sv1") {
		t.Error("sv1 should be modern")
	}
	// No table entry: fall back to prefix detection.
	if !isPreModernSet(dataRoot, "fossil") {
		t.Error("fossil should be pre-modern by prefix")
	}
}
