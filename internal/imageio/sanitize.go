package imageio

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripDiacritics decomposes characters and removes combining marks, so
// "Évoli" becomes "Evoli" instead of being dropped outright.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// pathHostile are characters invalid in filenames on at least one target
// filesystem.
const pathHostile = `<>:"/\|?*`

// SanitizeFilename makes a card name safe for use as a filename: diacritics
// are transliterated, remaining non-ASCII runes and path-hostile characters
// are dropped.
func SanitizeFilename(name string) string {
	// ß has no combining-mark decomposition; handle it before the strip.
	name = strings.ReplaceAll(name, "ß", "ss")

	stripped, _, err := transform.String(stripDiacritics, name)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range stripped {
		if r > unicode.MaxASCII || r < 0x20 {
			continue
		}
		if strings.ContainsRune(pathHostile, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
