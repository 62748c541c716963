package services

import (
	"math"
	"regexp"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency applies when a row names no currency.
const DefaultCurrency = "EUR"

var (
	// projectCodeRegexp captures a letter prefix immediately followed by digits
	// at the start of a title, e.g. "A100" in "A100 - Villa".
	projectCodeRegexp = regexp.MustCompile(`^([A-Z]+\d+)`)

	currencySymbols = map[string]string{
		"EUR": "€",
		"USD": "$",
		"GBP": "£",
	}

	pricePrinter = message.NewPrinter(language.English)
)

// ProjectCode extracts the project code from the start of a listing title.
// It is a best-effort heuristic and returns "" when the title does not open
// with a code.
func ProjectCode(title string) string {
	m := projectCodeRegexp.FindStringSubmatch(strings.TrimSpace(title))
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// FormatPrice renders amount as a grouped whole number prefixed with the
// currency symbol, e.g. FormatPrice(285000, "EUR") == "€285,000".
// Unknown currency codes are used verbatim as the prefix.
func FormatPrice(amount float64, currency string) string {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		code = DefaultCurrency
	}

	prefix, ok := currencySymbols[code]
	if !ok {
		prefix = code + " "
	}

	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		amount = 0
	}
	return prefix + pricePrinter.Sprintf("%d", int64(math.Round(amount)))
}
