// Package parser turns loosely structured spreadsheet text into raw rows and
// extracts typed values from them. Nothing in here returns errors: malformed
// input degrades to empty values.
package parser

import (
	"strings"

	"property-sync/models"
)

const bom = "\ufeff"

// Tokenize splits text into rows keyed by the header line.
//
// The first non-blank line is the header. Blank lines are skipped, rows that
// are shorter than the header get empty strings for the missing columns, and
// rows that are longer fold the overflow into the last column, joined with
// ", ". Quoting only supports toggle semantics; see SplitLine.
func Tokenize(text string) []models.RawRow {
	lines := strings.Split(text, "\n")

	var headers []string
	rows := make([]models.RawRow, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if headers == nil {
			headers = SplitLine(strings.TrimPrefix(strings.TrimSpace(line), bom))
			continue
		}

		rows = append(rows, buildRow(headers, SplitLine(strings.TrimSpace(line))))
	}

	return rows
}

func buildRow(headers, values []string) models.RawRow {
	if len(values) > len(headers) && len(headers) > 0 {
		last := len(headers) - 1
		tail := make([]string, 0, len(values)-last)
		for _, v := range values[last:] {
			if v != "" {
				tail = append(tail, v)
			}
		}
		values = append(values[:last:last], strings.Join(tail, ", "))
	}

	row := make(models.RawRow, len(headers))
	for i, h := range headers {
		if _, dup := row[h]; dup {
			continue
		}
		if i < len(values) {
			row[h] = values[i]
		} else {
			row[h] = ""
		}
	}
	return row
}

// SplitLine splits one line on commas that are not inside a double-quoted
// span. A quote character toggles the quoted state and is dropped; each
// field is trimmed of surrounding whitespace.
func SplitLine(line string) []string {
	var (
		fields   []string
		current  strings.Builder
		inQuotes bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))

	return fields
}
