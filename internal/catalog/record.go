// Package catalog loads the per-set reference catalog: card metadata in
// multiple languages plus the canonical reference images used by the visual
// matcher.
package catalog

import "strings"

// Language is a card print language. The set of languages is closed; it
// mirrors the folder and CSV naming convention.
type Language string

// Supported print languages.
const (
	LangDE Language = "DE"
	LangEN Language = "EN"
	LangES Language = "ES"
	LangFR Language = "FR"
	LangIT Language = "IT"
	LangJA Language = "JA"
	LangKO Language = "KO"
	LangPT Language = "PT"
)

// Languages lists every supported language in folder-scan order.
func Languages() []Language {
	return []Language{LangDE, LangEN, LangES, LangFR, LangIT, LangJA, LangKO, LangPT}
}

// ParseLanguage normalizes a language code; ok is false for codes outside
// the closed set.
func ParseLanguage(code string) (Language, bool) {
	lang := Language(strings.ToUpper(strings.TrimSpace(code)))
	for _, known := range Languages() {
		if lang == known {
			return lang, true
		}
	}
	return "", false
}

// CardRecord describes one card design within a set. Immutable once the
// catalog is loaded.
type CardRecord struct {
	// ID is the stable identifier, setCode-localNumber (e.g. "sv03.5-001").
	ID string
	// LocalNumber is the printed number within the set; may be non-numeric
	// for promos.
	LocalNumber string
	// Name is the default (base CSV) name.
	Name string
	// Names maps language to the localized name; entries may be empty when
	// no overlay CSV exists for that language.
	Names map[Language]string
}

// NameFor returns the localized name, falling back to the default name when
// the language entry is missing or empty.
func (r *CardRecord) NameFor(lang Language) string {
	if name, ok := r.Names[lang]; ok && name != "" && name != "Unknown" {
		return name
	}
	return r.Name
}

// NormalizeNumber strips leading zeros from a printed number so "001" and
// "1" compare equal. An all-zero number collapses to the literal "0"; this
// quirk is load-bearing for sets that print a card zero.
func NormalizeNumber(number string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(number), "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}
