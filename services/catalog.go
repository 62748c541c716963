package services

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"property-sync/models"
)

// Catalog status filters.
const (
	StatusAll       = "all"
	StatusAvailable = "available"
	StatusReserved  = "reserved"
	StatusSold      = "sold"

	unknownComplex = "_unknown"
)

var (
	// complexCodePatterns are tried in order against a title.
	complexCodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`[A-Z]+-\d+`),
		regexp.MustCompile(`[A-Z]+\d+`),
	}
)

// FilterByStatus keeps properties whose status matches, ignoring case.
// "" and "all" keep everything.
func FilterByStatus(props []models.Property, status string) []models.Property {
	want := fold(status)
	if want == "" || want == StatusAll {
		return props
	}

	out := make([]models.Property, 0, len(props))
	for _, p := range props {
		if fold(p.Status) == want {
			out = append(out, p)
		}
	}
	return out
}

// Search returns properties whose title, apartment number, location, id or
// external id contains query, ignoring case. An empty query keeps everything.
func Search(props []models.Property, query string) []models.Property {
	q := fold(query)
	if q == "" {
		return props
	}

	out := make([]models.Property, 0)
	for _, p := range props {
		for _, field := range []string{p.Title, p.ApartmentNo, p.Location, p.ID, p.ExternalID} {
			if strings.Contains(fold(field), q) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// ComplexCode extracts the residential complex code from a title, or "".
func ComplexCode(title string) string {
	for _, re := range complexCodePatterns {
		if code := re.FindString(title); code != "" {
			return code
		}
	}
	return ""
}

// GroupByComplex buckets properties by complex code, preserving input order
// within each bucket. Titles without a code land under "_unknown".
func GroupByComplex(props []models.Property) map[string][]models.Property {
	groups := make(map[string][]models.Property)
	for _, p := range props {
		code := ComplexCode(p.Title)
		if code == "" {
			code = unknownComplex
		}
		groups[code] = append(groups[code], p)
	}
	return groups
}

// fold case-folds s. Casers are stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
