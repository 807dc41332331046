// Package words selects the word of the day and validates admin-supplied words.
package words

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/lo"

	"github.com/pismenka-api/internal/domain"
)

// Length is the number of letters in every puzzle word
const Length = 8

// Alphabet lists the letters a puzzle word may contain besides A-Z
const Alphabet = "ÁČĎÉĚÍŇÓŘŠŤÚŮÝŽ"

// List is the fixed dictionary the daily word is drawn from. Order matters:
// the daily index is computed against it.
var List = []string{
	"UČITELKA", "KRÁLOVNA", "ZELENINA", "SLUNÍČKO", "ČOKOLÁDA", "KYSELINA", "PLAMEŇÁK", "HOLUBICE",
	"JEŠTĚRKA", "ANTILOPA", "POJISTKA", "SKLENICE", "ČLENSTVÍ", "MANŽELKA", "KOMUNITA", "SOFTWARE",
	"HARDWARE", "ALBATROS", "BAZILIKA", "KAPLIČKA", "PAPOUŠEK", "VELBLOUD", "ODBORNÍK", "ROZHOVOR",
	"HORIZONT", "NÁSTUPCE", "POKLADNA", "KOSTELÍK", "KALHOTKY", "JEDNOTKA", "SVĚTÝLKO", "MĚSÍČNÍK",
	"VYHLÁŠKA", "PAMĚTNÍK", "ZPĚVAČKA", "PRACOVNA", "PRAVOPIS", "ČERVENEC", "ČERVENKA", "LISTOPAD",
	"PROSINEC", "HOUSENKA", "BALERÍNA", "HOLČIČKA", "POPELNÍK", "LIMONÁDA", "ATEISMUS", "ŠÍLENOST",
	"PŘEDLOHA", "SKAUTING", "GILOTINA", "VČELAŘKA", "APLIKACE", "HOSPODÁŘ", "EKONOMKA", "EKOLOŽKA",
}

// Daily returns the word of the day for the UTC calendar date of t.
func Daily(t time.Time) string {
	return List[Index(domain.DateKey(t))]
}

// DailyForKey returns the word of the day for a YYYY-MM-DD date key. Unpadded
// months and days ("2024-1-5") map to the same word as their padded form.
func DailyForKey(dateKey string) (string, error) {
	t, err := time.Parse("2006-1-2", strings.TrimSpace(dateKey))
	if err != nil {
		return "", fmt.Errorf("parsing date %q: %w", dateKey, err)
	}
	return Daily(t), nil
}

// Index maps a canonical date key to a position in List: the date's digits
// read as one decimal number, modulo the list length.
func Index(dateKey string) int {
	digits := strings.ReplaceAll(dateKey, "-", "")
	seed, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || seed < 0 {
		return 0
	}
	return int(seed % int64(len(List)))
}

// Position returns the index of word in List, or -1 when it is not listed
func Position(word string) int {
	_, idx, ok := lo.FindIndexOf(List, func(w string) bool { return w == word })
	if !ok {
		return -1
	}
	return idx
}

// Normalize trims surrounding whitespace and upper-cases the word
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Validate checks an already normalized word against the puzzle format
func Validate(word string) error {
	if n := utf8.RuneCountInString(word); n != Length {
		return fmt.Errorf("%w: word must have exactly %d letters, got %d", domain.ErrInvalidFormat, Length, n)
	}
	for _, r := range word {
		if !isLetter(r) {
			return fmt.Errorf("%w: word may only contain letters, got %q", domain.ErrInvalidFormat, r)
		}
	}
	return nil
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || strings.ContainsRune(Alphabet, r)
}
