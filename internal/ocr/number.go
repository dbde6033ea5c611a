package ocr

import (
	"regexp"
	"strconv"
	"strings"
)

// confusables maps letters Tesseract commonly produces for digits on glossy
// card stock back to the intended digit.
var confusables = strings.NewReplacer(
	"O", "0", "o", "0",
	"I", "1", "l", "1", "L", "1", "|", "1", "P", "1",
	"S", "5", "s", "5",
	"B", "6",
	"Z", "2", "z", "2",
	"T", "7",
)

// CleanConfusables rewrites digit-lookalike letters in raw OCR output.
func CleanConfusables(text string) string {
	return confusables.Replace(text)
}

var (
	fractionPattern = regexp.MustCompile(`(\d{1,4})\s*/\s*(\d{1,4})`)
	digitsPattern   = regexp.MustCompile(`\d{1,4}`)
)

// ParseNumber extracts a plausible collector number from raw OCR text.
// Fractions like "025/102" are preferred; when the denominator is known it
// must agree with totalCount. Bare digit runs are the fallback. The numerator
// must lie in [1, totalCount] when totalCount is known. First hit wins.
func ParseNumber(text string, totalCount int) (string, bool) {
	for _, m := range fractionPattern.FindAllStringSubmatch(text, -1) {
		numerator, denominator := m[1], m[2]
		if totalCount > 0 {
			if d, err := strconv.Atoi(denominator); err != nil || d != totalCount {
				continue
			}
		}
		if validNumerator(numerator, totalCount) {
			return numerator, true
		}
	}
	for _, run := range digitsPattern.FindAllString(text, -1) {
		if validNumerator(run, totalCount) {
			return run, true
		}
	}
	return "", false
}

// validNumerator checks the printed-number range. With an unknown set size
// any positive number passes.
func validNumerator(digits string, totalCount int) bool {
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return false
	}
	if totalCount > 0 && n > totalCount {
		return false
	}
	return true
}
