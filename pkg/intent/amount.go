package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Amount is a fixed-point decimal value stored as integer cents, so
// "$1,000.50" and "1000.50 USD" parse to the same value and round-trip
// through String() without floating-point drift.
type Amount struct {
	Cents int64
}

func NewAmountFromCents(cents int64) Amount {
	return Amount{Cents: cents}
}

// String renders the amount with two decimal places, e.g. "1000.50".
func (a Amount) String() string {
	whole := a.Cents / 100
	frac := a.Cents % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d", whole, frac)
}

func (a Amount) Equal(other Amount) bool {
	return a.Cents == other.Cents
}

var (
	currencySuffixRe = regexp.MustCompile(`(?i)\s*(usd|dollars?|eur|euros?|gbp|pounds?)\s*$`)
	currencyPrefixRe = regexp.MustCompile(`^[$€£]\s*`)
	thousandsSepRe   = regexp.MustCompile(`,`)
)

var numberWords = map[string]int64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	"hundred": 100,
}

// ParseAmount parses a currency-ish expression into a decimal Amount. It
// accepts "$50", "50 usd", "$1,000.50", "1000.50 USD", and common
// small-integer number words ("fifty dollars").
func ParseAmount(raw string) (Amount, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Amount{}, false
	}

	if cents, ok := parseWordAmount(s); ok {
		return Amount{Cents: cents}, true
	}

	s = currencyPrefixRe.ReplaceAllString(s, "")
	s = currencySuffixRe.ReplaceAllString(s, "")
	s = thousandsSepRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Amount{}, false
	}
	if f < 0 {
		return Amount{}, false
	}

	cents := int64(f*100 + 0.5)
	return Amount{Cents: cents}, true
}

func parseWordAmount(s string) (int64, bool) {
	lower := strings.ToLower(s)
	lower = currencySuffixRe.ReplaceAllString(lower, "")
	lower = strings.TrimSpace(lower)
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0, false
	}

	var total int64
	var matched bool
	var tens int64
	for _, w := range words {
		v, ok := numberWords[w]
		if !ok {
			continue
		}
		matched = true
		if v == 100 {
			if tens == 0 {
				tens = 1
			}
			tens *= 100
			continue
		}
		tens += v
	}
	total = tens

	if !matched {
		return 0, false
	}
	return total * 100, true
}

// DetectCurrency returns an ISO-ish currency code found in raw, if any.
func DetectCurrency(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "usd") || strings.Contains(lower, "dollar") || strings.Contains(raw, "$"):
		return "USD"
	case strings.Contains(lower, "eur") || strings.Contains(lower, "euro") || strings.Contains(raw, "€"):
		return "EUR"
	case strings.Contains(lower, "gbp") || strings.Contains(lower, "pound") || strings.Contains(raw, "£"):
		return "GBP"
	default:
		return ""
	}
}
