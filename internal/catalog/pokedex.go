package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Pokedex is the cross-reference from National Pokédex number to names,
// used for pre-2003 Japanese sets whose cards print a Pokédex number
// instead of a set-local number.
type Pokedex struct {
	entries map[string]pokedexEntry // 4-digit number -> names
}

type pokedexEntry struct {
	Japanese string
	English  string
}

// LoadPokedex reads pokedex.csv under dataRoot. A missing or broken file
// yields an empty Pokedex; lookups then simply fail.
func LoadPokedex(dataRoot string) *Pokedex {
	p := &Pokedex{entries: make(map[string]pokedexEntry)}

	path := filepath.Join(dataRoot, "pokedex.csv")
	rows, header, err := readCSV(path)
	if err != nil {
		log.Warn("pokedex unavailable", "file", path, "error", err)
		return p
	}

	for _, row := range rows {
		number := field(row, header, "Number")
		english := field(row, header, "English")
		if number == "" || english == "" {
			continue
		}
		p.entries[padPokedexNumber(number)] = pokedexEntry{
			Japanese: field(row, header, "Japanese"),
			English:  english,
		}
	}
	log.Info("loaded pokedex", "entries", len(p.entries))
	return p
}

// EnglishName resolves a Pokédex number (any zero padding) to the English
// species name, or "" when unknown.
func (p *Pokedex) EnglishName(number string) string {
	if p == nil {
		return ""
	}
	return p.entries[padPokedexNumber(number)].English
}

// SearchByJapanese resolves a Japanese species name to the English one.
func (p *Pokedex) SearchByJapanese(name string) string {
	if p == nil {
		return ""
	}
	wanted := strings.ToLower(strings.TrimSpace(name))
	for _, entry := range p.entries {
		if strings.ToLower(entry.Japanese) == wanted {
			return entry.English
		}
	}
	return ""
}

func padPokedexNumber(number string) string {
	trimmed := strings.TrimSpace(number)
	for len(trimmed) < 4 {
		trimmed = "0" + trimmed
	}
	return trimmed
}

// oldSetPrefixes identify the pre-2003 era when the release-date table is
// unavailable.
var oldSetPrefixes = []string{
	"base", "jungle", "fossil", "base2", "gym1", "gym2",
	"neo1", "neo2", "neo3", "neo4", "legendary",
}

// setInfo is one entry of the all_sets_full.json release table.
type setInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"releaseDate"` // YYYY/MM/DD
}

// isPreModernSet reports whether the set predates 2003, first by release
// date from all_sets_full.json, then by set-code prefix.
func isPreModernSet(dataRoot, setCode string) bool {
	if year, ok := releaseYear(filepath.Join(dataRoot, "all_sets_full.json"), setCode); ok {
		return year <= 2002
	}

	lower := strings.ToLower(setCode)
	for _, prefix := range oldSetPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func releaseYear(path, setCode string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	// The table format drifted between exports: either a bare array or an
	// object with a "data" key.
	var sets []setInfo
	if err := json.Unmarshal(data, &sets); err != nil {
		var wrapper struct {
			Data []setInfo `json:"data"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			log.Warn("unreadable set release table", "file", path, "error", err)
			return 0, false
		}
		sets = wrapper.Data
	}

	for _, info := range sets {
		if !strings.EqualFold(info.ID, setCode) {
			continue
		}
		yearStr, _, _ := strings.Cut(info.ReleaseDate, "/")
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return 0, false
		}
		return year, true
	}
	return 0, false
}
