package parser

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{`A,"B,C",D`, []string{"A", "B,C", "D"}},
		{`  a , b ,c  `, []string{"a", "b", "c"}},
		{`"€285,000",x`, []string{"€285,000", "x"}},
		{`a,,c`, []string{"a", "", "c"}},
		{``, []string{""}},
		{`"unterminated, still one`, []string{"unterminated, still one"}},
	}

	for _, tt := range tests {
		got := SplitLine(tt.line)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitLine(%q) = %q; want %q", tt.line, got, tt.want)
		}
	}
}

func TestTokenizeSkipsBlankLinesAndPadsShortRows(t *testing.T) {
	text := "\n\n Title , Price ,Status\r\n\r\nVilla,100\n   \nFlat,200,Sold\n"

	rows := Tokenize(text)
	require.Len(t, rows, 2)

	assert.Equal(t, "Villa", rows[0]["Title"])
	assert.Equal(t, "100", rows[0]["Price"])
	assert.Equal(t, "", rows[0]["Status"])
	_, present := rows[0]["Status"]
	assert.True(t, present, "missing trailing field should map to empty string")

	assert.Equal(t, "Sold", rows[1]["Status"])
}

func TestTokenizeFoldsOverflowIntoLastColumn(t *testing.T) {
	text := "ProjectTitle,ApartmentNo,Price,PhotoURLs\n" +
		`A100 - Villa,601,"€285,000",https://x/a.jpg, https://x/b.jpg`

	rows := Tokenize(text)
	require.Len(t, rows, 1)
	assert.Equal(t, "€285,000", rows[0]["Price"])
	assert.Equal(t, "https://x/a.jpg, https://x/b.jpg", rows[0]["PhotoURLs"])
}

func TestTokenizeStripsBOMAndKeepsFirstDuplicateHeader(t *testing.T) {
	rows := Tokenize("\ufeffTitle,Price,Title\nfirst,1,second\n")
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0]["Title"])
	assert.Equal(t, "1", rows[0]["Price"])
}

func TestTokenizeHeaderOnly(t *testing.T) {
	assert.Empty(t, Tokenize("Title,Price\n"))
	assert.Empty(t, Tokenize(""))
}
