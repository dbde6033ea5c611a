package ocr

import (
	"strings"

	"cardscan/internal/catalog"
)

// Resolve maps an OCR reading to a catalog record. The denominator of a
// "num/total" reading is dropped before lookup. A nil result means the
// number did not resolve against the set, a recoverable condition.
func Resolve(reading string, cat *catalog.Catalog) *catalog.CardRecord {
	if reading == "" || reading == Unknown {
		return nil
	}
	numerator, _, _ := strings.Cut(reading, "/")
	return cat.ByNumber(numerator)
}
