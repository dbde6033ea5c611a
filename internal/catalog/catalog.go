package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"cardscan/internal/imageio"
	"cardscan/internal/logging"
)

// ErrSetNotFound indicates no catalog folder matches the requested set code.
var ErrSetNotFound = errors.New("set not found")

var log = logging.For("catalog")

// Catalog is the in-memory reference index for one set. Immutable after
// Load, safe for concurrent readers.
type Catalog struct {
	SetCode string

	records    map[string]*CardRecord // id -> record
	references map[string]gocv.Mat    // id -> reference image
	totalCount int

	// UsePokedex marks pre-2003 sets whose Japanese prints carry a Pokédex
	// number instead of a set-local number; manual entry then goes through
	// the Pokédex cross-reference.
	UsePokedex bool
	Pokedex    *Pokedex
}

// Load builds the catalog for setCode under root (the Card_Sets directory).
// The base CSV and reference images are loaded eagerly; per-file problems
// are logged and skipped. A catalog with zero reference images is valid —
// matching simply never succeeds.
func Load(root, setCode string) (*Catalog, error) {
	setDir, err := findSetDir(root, setCode)
	if err != nil {
		return nil, err
	}
	log.Info("loading set catalog", "set", setCode, "dir", setDir)

	c := &Catalog{
		SetCode:    setCode,
		records:    make(map[string]*CardRecord),
		references: make(map[string]gocv.Mat),
	}

	csvFiles, err := filepath.Glob(filepath.Join(setDir, "CardList_*.csv"))
	if err == nil && len(csvFiles) > 0 {
		sort.Strings(csvFiles)
		if err := c.loadBaseCSV(csvFiles[0]); err != nil {
			return nil, fmt.Errorf("load base card list: %w", err)
		}
		for _, lang := range Languages() {
			c.loadLanguageOverlay(csvFiles, lang)
		}
	} else {
		log.Warn("no card list CSV found", "dir", setDir)
	}

	c.loadReferences(filepath.Join(setDir, "IMG"))

	dataRoot := filepath.Dir(root)
	if isPreModernSet(dataRoot, setCode) {
		c.UsePokedex = true
		c.Pokedex = LoadPokedex(dataRoot)
		log.Info("old set detected, Pokedex lookup enabled for JA", "set", setCode)
	}

	return c, nil
}

// Close releases the reference images.
func (c *Catalog) Close() {
	for _, mat := range c.references {
		mat.Close()
	}
	c.references = nil
}

// findSetDir resolves a set code against Name_SetCode folder naming:
// exact suffix first, then case-insensitive suffix, then a normalized
// (lowercase, dots stripped) substring match.
func findSetDir(root, setCode string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrSetNotFound, root, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)

	for _, name := range dirs {
		if strings.HasSuffix(name, "_"+setCode) {
			return filepath.Join(root, name), nil
		}
	}
	lowerSuffix := "_" + strings.ToLower(setCode)
	for _, name := range dirs {
		if strings.HasSuffix(strings.ToLower(name), lowerSuffix) {
			return filepath.Join(root, name), nil
		}
	}
	normalized := normalizeSetCode(setCode)
	for _, name := range dirs {
		if strings.Contains(normalizeSetCode(name), normalized) {
			return filepath.Join(root, name), nil
		}
	}
	return "", fmt.Errorf("%w: no folder for set code %q under %s", ErrSetNotFound, setCode, root)
}

func normalizeSetCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(code, ".", ""))
}

// loadBaseCSV populates records from the first card list: id, localId,
// default name, and the set card count when present.
func (c *Catalog) loadBaseCSV(path string) error {
	rows, header, err := readCSV(path)
	if err != nil {
		return err
	}

	for _, row := range rows {
		id := field(row, header, "id")
		if id == "" {
			continue
		}
		record := &CardRecord{
			ID:          id,
			LocalNumber: field(row, header, "localId"),
			Name:        field(row, header, "name"),
			Names:       make(map[Language]string, len(Languages())),
		}
		for _, lang := range Languages() {
			record.Names[lang] = ""
		}
		c.records[id] = record

		if c.totalCount == 0 {
			if count := field(row, header, "set_cardCount"); count != "" {
				if n, err := strconv.Atoi(strings.TrimSpace(count)); err == nil {
					c.totalCount = n
				}
			}
		}
	}
	log.Info("loaded card records", "set", c.SetCode, "count", len(c.records))
	return nil
}

// loadLanguageOverlay fills localized names from the per-language CSV, if
// one exists. Missing overlays simply leave that language empty.
func (c *Catalog) loadLanguageOverlay(csvFiles []string, lang Language) {
	marker := "_" + strings.ToLower(string(lang)) + ".csv"
	var overlay string
	for _, path := range csvFiles {
		if strings.HasSuffix(strings.ToLower(path), marker) {
			overlay = path
			break
		}
	}
	if overlay == "" {
		return
	}

	rows, header, err := readCSV(overlay)
	if err != nil {
		log.Warn("skipping language overlay", "file", overlay, "error", err)
		return
	}
	for _, row := range rows {
		id := field(row, header, "id")
		if record, ok := c.records[id]; ok {
			record.Names[lang] = field(row, header, "name")
		}
	}
}

// loadReferences loads every reference image under imgDir, keyed by the
// leading filename token before the first underscore.
func (c *Catalog) loadReferences(imgDir string) {
	entries, err := os.ReadDir(imgDir)
	if err != nil {
		log.Warn("no reference image folder", "dir", imgDir)
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !imageio.IsSupportedFormat(entry.Name()) {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		id, _, _ := strings.Cut(stem, "_")
		if id == "" {
			continue
		}

		mat, err := imageio.LoadMat(filepath.Join(imgDir, entry.Name()))
		if err != nil {
			log.Warn("skipping unreadable reference image", "file", entry.Name(), "error", err)
			continue
		}
		if old, ok := c.references[id]; ok {
			old.Close()
		}
		c.references[id] = mat
	}
	log.Info("loaded reference images", "set", c.SetCode, "count", len(c.references))
}

// Record returns the record for a full identifier.
func (c *Catalog) Record(id string) *CardRecord {
	return c.records[id]
}

// Reference returns the reference image for an identifier. The Mat remains
// owned by the catalog.
func (c *Catalog) Reference(id string) (gocv.Mat, bool) {
	mat, ok := c.references[id]
	return mat, ok
}

// References iterates identifier/image pairs in sorted identifier order.
func (c *Catalog) References() []string {
	ids := make([]string, 0, len(c.references))
	for id := range c.references {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns all records sorted by local number.
func (c *Catalog) Records() []*CardRecord {
	records := make([]*CardRecord, 0, len(c.records))
	for _, record := range c.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LocalNumber < records[j].LocalNumber
	})
	return records
}

// TotalCount returns the printed set total, or 0 when unknown.
func (c *Catalog) TotalCount() int {
	return c.totalCount
}

// Len returns the number of card records.
func (c *Catalog) Len() int {
	return len(c.records)
}

// ByNumber resolves a printed number to a record: local-number match first
// (leading zeros normalized), then full identifier, then setCode-number.
// Returns nil when nothing matches — an expected, recoverable outcome.
func (c *Catalog) ByNumber(number string) *CardRecord {
	wanted := NormalizeNumber(number)
	for _, record := range c.records {
		if NormalizeNumber(record.LocalNumber) == wanted {
			return record
		}
	}

	trimmed := strings.TrimSpace(number)
	if record, ok := c.records[trimmed]; ok {
		return record
	}
	if record, ok := c.records[c.SetCode+"-"+trimmed]; ok {
		return record
	}
	return nil
}

// SearchMatch classifies how a Search hit matched.
type SearchMatch int

const (
	MatchExactNumber SearchMatch = iota
	MatchExactID
	MatchName
)

// SearchResult is one Search hit.
type SearchResult struct {
	Record *CardRecord
	Match  SearchMatch
}

// Search finds records by exact local number, exact identifier, or name
// equality/substring across every language. Used by manual entry.
func (c *Catalog) Search(term string) []SearchResult {
	var results []SearchResult
	trimmed := strings.TrimSpace(term)
	lower := strings.ToLower(trimmed)

	for _, record := range c.Records() {
		switch {
		case strings.TrimSpace(record.LocalNumber) == trimmed:
			results = append(results, SearchResult{Record: record, Match: MatchExactNumber})
		case strings.ToLower(record.ID) == lower:
			results = append(results, SearchResult{Record: record, Match: MatchExactID})
		default:
			if nameMatches(record, lower) {
				results = append(results, SearchResult{Record: record, Match: MatchName})
			}
		}
	}
	return results
}

func nameMatches(record *CardRecord, lowerTerm string) bool {
	if lowerTerm == "" {
		return false
	}
	if strings.Contains(strings.ToLower(record.Name), lowerTerm) {
		return true
	}
	for _, name := range record.Names {
		if name != "" && strings.Contains(strings.ToLower(name), lowerTerm) {
			return true
		}
	}
	return false
}

// readCSV reads a CSV file with a header row, returning the data rows and a
// column-name index.
func readCSV(path string) ([][]string, map[string]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	headerRow, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	header := make(map[string]int, len(headerRow))
	for i, name := range headerRow {
		header[strings.TrimSpace(name)] = i
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("skipping malformed CSV row", "file", path, "error", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, header, nil
}

func field(row []string, header map[string]int, name string) string {
	idx, ok := header[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
