package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-sync/models"
)

func dataset(ids ...string) []models.Property {
	props := make([]models.Property, 0, len(ids))
	for _, id := range ids {
		props = append(props, models.Property{ID: id, Title: "Title " + id, Photos: []string{"https://x/" + id}})
	}
	return props
}

func propertyIDs(props []models.Property) []string {
	ids := make([]string, 0, len(props))
	for _, p := range props {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestResolvePreservesRequestOrder(t *testing.T) {
	res := Resolve([]string{"c", "a", "d"}, dataset("a", "b", "c", "d"))

	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, StageFolded, res.Stage)
	assert.Equal(t, []string{"c", "a", "d"}, propertyIDs(res.Properties))
	assert.Empty(t, res.Unresolved)
	assert.Equal(t, Diagnostics{Expected: 3, Found: 3, DatasetSize: 4}, res.Diagnostics)
}

func TestResolveFoldedMatchesCaseAndSpace(t *testing.T) {
	res := Resolve([]string{" A100_601 ", "b"}, dataset("a100_601", "B"))

	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, StageFolded, res.Stage)
	assert.Equal(t, []string{"a100_601", "B"}, propertyIDs(res.Properties))
}

func TestResolvePartial(t *testing.T) {
	res := Resolve([]string{"b", "zz", "a", "yy"}, dataset("a", "b"))

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, []string{"b", "a"}, propertyIDs(res.Properties))
	assert.Equal(t, []string{"zz", "yy"}, res.Unresolved)
	assert.Equal(t, 4, res.Diagnostics.Expected)
	assert.Equal(t, 2, res.Diagnostics.Found)
	assert.Equal(t, []string{"zz", "yy"}, res.Diagnostics.SampleUnresolved)
	assert.NotEmpty(t, res.Diagnostics.Reason)
}

func TestResolveEscalatesToTrimmedStage(t *testing.T) {
	// "Ab" and "aB" collide when folded, so only a case-preserving stage can
	// tell them apart.
	res := Resolve([]string{" aB"}, dataset("Ab", "aB"))

	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, StageTrimmed, res.Stage)
	assert.Equal(t, []string{"aB"}, propertyIDs(res.Properties))
}

func TestResolveEscalatesToRawStage(t *testing.T) {
	res := Resolve([]string{"x "}, dataset("x ", " x"))

	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, StageRaw, res.Stage)
	assert.Equal(t, []string{"x "}, propertyIDs(res.Properties))
	assert.Empty(t, res.Unresolved)
}

func TestResolveStageIsWholeStrategy(t *testing.T) {
	// "a" resolves at the folded stage, so "x " is reported unresolved even
	// though the raw stage could match it.
	res := Resolve([]string{"a", "x "}, dataset("a", "x ", " x"))

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, StageFolded, res.Stage)
	assert.Equal(t, []string{"a"}, propertyIDs(res.Properties))
	assert.Equal(t, []string{"x "}, res.Unresolved)
}

func TestResolveReportsAmbiguousSeparately(t *testing.T) {
	res := Resolve([]string{"A100_1", "b7_2", "gone"}, dataset("A100_1", "a100_1", "B7_2"))

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, StageFolded, res.Stage)
	assert.Equal(t, []string{"B7_2"}, propertyIDs(res.Properties))
	assert.Equal(t, []string{"A100_1", "gone"}, res.Unresolved)
	assert.Equal(t, []string{"A100_1"}, res.Diagnostics.Ambiguous)
	assert.Equal(t, "2 of 3 ids not found, 1 ambiguous under folded matching: A100_1", res.Diagnostics.Reason)
}

func TestResolveNotFoundReportsAmbiguous(t *testing.T) {
	// Both rows trim to "x", and neither equals "x" raw.
	res := Resolve([]string{"x", "y"}, dataset("x ", " x"))

	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Equal(t, []string{"x"}, res.Diagnostics.Ambiguous)
	assert.Contains(t, res.Diagnostics.Reason, "1 ambiguous: x")
}

func TestResolveNotFound(t *testing.T) {
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, fmt.Sprintf("missing-%d", i))
	}

	res := Resolve(ids, dataset("a", "b", "c"))
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.False(t, res.OK())
	assert.Equal(t, StageNone, res.Stage)
	assert.Empty(t, res.Properties)
	assert.Equal(t, ids, res.Unresolved)
	assert.Equal(t, ids[:5], res.Diagnostics.SampleUnresolved)
	assert.Equal(t, 3, res.Diagnostics.DatasetSize)
	assert.Equal(t, 8, res.Diagnostics.Expected)
}

func TestResolveRepeatedIDReturnedOnce(t *testing.T) {
	res := Resolve([]string{"b", "a", "B"}, dataset("a", "b"))
	assert.Equal(t, []string{"b", "a"}, propertyIDs(res.Properties))
	assert.Equal(t, OutcomeResolved, res.Outcome)
}

func TestResolveRawDistinguishesMissingFromEmpty(t *testing.T) {
	ds := dataset("a")

	missing := ResolveRaw(nil, ds)
	empty := ResolveRaw([]any{}, ds)

	assert.Equal(t, OutcomeMalformed, missing.Outcome)
	assert.True(t, errors.Is(missing.Err, ErrSelectionMissing))
	assert.Equal(t, OutcomeEmptySelection, empty.Outcome)
	assert.NoError(t, empty.Err)
	assert.NotEqual(t, missing.Outcome, empty.Outcome)
}

func TestResolveRawFromJSON(t *testing.T) {
	var stored struct {
		PropertyIDs any `json:"property_ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"property_ids": ["c", 42, "a"]}`), &stored))

	res := ResolveRaw(stored.PropertyIDs, dataset("a", "42", "c"))
	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, []string{"c", "42", "a"}, propertyIDs(res.Properties))
}

func TestParseSelectionIDs(t *testing.T) {
	tests := []struct {
		name    string
		raw     any
		want    []string
		wantErr error
	}{
		{"nil", nil, nil, ErrSelectionMissing},
		{"string", "a,b", nil, ErrSelectionNotList},
		{"object", map[string]any{"a": 1}, nil, ErrSelectionNotList},
		{"number", 12.0, nil, ErrSelectionNotList},
		{"nested list", []any{"a", []any{"b"}}, nil, ErrSelectionElement},
		{"object element", []any{map[string]any{"id": "a"}}, nil, ErrSelectionElement},
		{"null element", []any{"a", nil}, nil, ErrSelectionElement},
		{"strings", []string{"a", "b"}, []string{"a", "b"}, nil},
		{"mixed scalars", []any{"a", 7.0, 1.5, true, json.Number("99")}, []string{"a", "7", "1.5", "true", "99"}, nil},
		{"ints", []int{3, 1}, []string{"3", "1"}, nil},
		{"raw json", json.RawMessage(`["x","y"]`), []string{"x", "y"}, nil},
		{"raw json null", json.RawMessage(`null`), nil, ErrSelectionMissing},
		{"empty", []any{}, []string{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelectionIDs(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExcludeReviewedKeepsOrder(t *testing.T) {
	props := dataset("d", "a", "c", "b")
	got := ExcludeReviewed(props, map[string]struct{}{"a": {}, "b": {}})
	assert.Equal(t, []string{"d", "c"}, propertyIDs(got))

	assert.Equal(t, []string{"d", "a", "c", "b"}, propertyIDs(ExcludeReviewed(props, nil)))
}
