package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"property-sync/models"
)

const maxSampleUnresolved = 5

var (
	ErrSelectionMissing = errors.New("selection has no property ids")
	ErrSelectionNotList = errors.New("selection property ids are not a list")
	ErrSelectionElement = errors.New("selection property id is not a scalar")
)

// Outcome classifies a Resolution.
type Outcome string

const (
	OutcomeResolved       Outcome = "resolved"
	OutcomePartial        Outcome = "partial"
	OutcomeEmptySelection Outcome = "empty_selection"
	OutcomeMalformed      Outcome = "malformed"
	OutcomeNotFound       Outcome = "not_found"
)

// Stage names the matching strategy that produced a Resolution.
type Stage string

const (
	StageNone    Stage = ""
	StageFolded  Stage = "folded"
	StageTrimmed Stage = "trimmed"
	StageRaw     Stage = "raw"
)

// Diagnostics carries what a host needs to explain a resolution.
type Diagnostics struct {
	Expected         int      `json:"expected"`
	Found            int      `json:"found"`
	DatasetSize      int      `json:"datasetSize"`
	SampleUnresolved []string `json:"sampleUnresolved,omitempty"`
	// Ambiguous lists unresolved ids that exist in the dataset under more
	// than one spelling, as opposed to ids that are simply absent.
	Ambiguous []string `json:"ambiguous,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// Resolution is the result of mapping a selection onto the dataset.
// Properties follow the order of the requested ids.
type Resolution struct {
	Outcome     Outcome           `json:"outcome"`
	Stage       Stage             `json:"stage,omitempty"`
	Properties  []models.Property `json:"properties"`
	Unresolved  []string          `json:"unresolved"`
	Diagnostics Diagnostics       `json:"diagnostics"`
	Err         error             `json:"-"`
}

// OK reports whether at least one requested id resolved.
func (r Resolution) OK() bool {
	return r.Outcome == OutcomeResolved || r.Outcome == OutcomePartial
}

type matcher struct {
	stage Stage
	key   func(string) string
}

// matchers are tried in order; the first one that resolves anything wins.
var matchers = []matcher{
	{StageFolded, func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }},
	{StageTrimmed, strings.TrimSpace},
	{StageRaw, func(s string) string { return s }},
}

// ResolveRaw validates a stored selection value and resolves it.
// Malformed input yields OutcomeMalformed with Err set.
func ResolveRaw(raw any, dataset []models.Property) Resolution {
	ids, err := ParseSelectionIDs(raw)
	if err != nil {
		return Resolution{
			Outcome:    OutcomeMalformed,
			Properties: []models.Property{},
			Unresolved: []string{},
			Diagnostics: Diagnostics{
				DatasetSize: len(dataset),
				Reason:      err.Error(),
			},
			Err: err,
		}
	}
	return Resolve(ids, dataset)
}

// Resolve maps ids onto dataset, preserving the order of ids.
//
// Matching escalates through folded (trimmed, lower-cased), trimmed and raw
// key equality. A stage never matches a key that two different dataset ids
// share under its normalization; such ids are left to the stricter stages.
// Once a stage resolves anything it is final, so an id that was ambiguous
// under it stays unresolved even if a stricter stage would have matched it:
// with dataset {A100_1, a100_1, B7_2}, request [A100_1, b7_2] resolves at the
// folded stage to [B7_2] with A100_1 unresolved. Such ids are reported in
// Diagnostics.Ambiguous and called out in Diagnostics.Reason.
// A property requested more than once is returned once, at its first position.
func Resolve(ids []string, dataset []models.Property) Resolution {
	res := Resolution{
		Properties: []models.Property{},
		Unresolved: []string{},
		Diagnostics: Diagnostics{
			Expected:    len(ids),
			DatasetSize: len(dataset),
		},
	}

	if len(ids) == 0 {
		res.Outcome = OutcomeEmptySelection
		res.Diagnostics.Reason = "selection is empty"
		return res
	}

	var everAmbiguous []string
	seenAmbiguous := make(map[string]struct{})
	for _, m := range matchers {
		props, unresolved, ambiguous := m.match(ids, dataset)
		if len(props) == 0 {
			for _, id := range ambiguous {
				if _, ok := seenAmbiguous[id]; !ok {
					seenAmbiguous[id] = struct{}{}
					everAmbiguous = append(everAmbiguous, id)
				}
			}
			continue
		}

		res.Stage = m.stage
		res.Properties = props
		res.Unresolved = unresolved
		res.Diagnostics.Found = len(props)
		res.Diagnostics.SampleUnresolved = sample(unresolved)
		res.Diagnostics.Ambiguous = ambiguous
		if len(unresolved) == 0 {
			res.Outcome = OutcomeResolved
		} else {
			res.Outcome = OutcomePartial
			res.Diagnostics.Reason = fmt.Sprintf("%d of %d ids not found", len(unresolved), len(ids))
			if len(ambiguous) > 0 {
				res.Diagnostics.Reason += fmt.Sprintf(", %d ambiguous under %s matching: %s",
					len(ambiguous), m.stage, strings.Join(sample(ambiguous), ", "))
			}
		}
		return res
	}

	res.Outcome = OutcomeNotFound
	res.Unresolved = append(res.Unresolved, ids...)
	res.Diagnostics.SampleUnresolved = sample(ids)
	res.Diagnostics.Ambiguous = everAmbiguous
	res.Diagnostics.Reason = fmt.Sprintf("none of %d ids found in %d properties", len(ids), len(dataset))
	if len(everAmbiguous) > 0 {
		res.Diagnostics.Reason += fmt.Sprintf(", %d ambiguous: %s",
			len(everAmbiguous), strings.Join(sample(everAmbiguous), ", "))
	}
	return res
}

// match returns the matched properties in request order, the unresolved ids,
// and the subset of unresolved ids refused because their key is ambiguous.
func (m matcher) match(ids []string, dataset []models.Property) ([]models.Property, []string, []string) {
	index := make(map[string]int, len(dataset))
	ambiguous := make(map[string]struct{})
	for i, p := range dataset {
		k := m.key(p.ID)
		if j, ok := index[k]; ok {
			if dataset[j].ID != p.ID {
				ambiguous[k] = struct{}{}
			}
			continue
		}
		index[k] = i
	}

	props := make([]models.Property, 0, len(ids))
	var unresolved, refused []string
	used := make(map[int]struct{}, len(ids))

	for _, id := range ids {
		k := m.key(id)
		i, ok := index[k]
		if _, amb := ambiguous[k]; amb {
			unresolved = append(unresolved, id)
			refused = append(refused, id)
			continue
		}
		if !ok {
			unresolved = append(unresolved, id)
			continue
		}
		if _, dup := used[i]; dup {
			continue
		}
		used[i] = struct{}{}
		props = append(props, dataset[i])
	}
	if unresolved == nil {
		unresolved = []string{}
	}
	return props, unresolved, refused
}

func sample(ids []string) []string {
	if len(ids) > maxSampleUnresolved {
		ids = ids[:maxSampleUnresolved]
	}
	return append([]string(nil), ids...)
}

// ParseSelectionIDs converts a stored selection value, as decoded from JSON,
// into an ordered id list. Numbers and booleans are accepted and rendered in
// their canonical text form; nested lists and objects are rejected.
func ParseSelectionIDs(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, ErrSelectionMissing
	case []string:
		return append([]string{}, v...), nil
	case []any:
		ids := make([]string, 0, len(v))
		for i, el := range v {
			s, ok := scalarID(el)
			if !ok {
				return nil, fmt.Errorf("%w: element %d is %T", ErrSelectionElement, i, el)
			}
			ids = append(ids, s)
		}
		return ids, nil
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSelectionNotList, err)
		}
		if decoded == nil {
			return nil, ErrSelectionMissing
		}
		return ParseSelectionIDs(decoded)
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: got %T", ErrSelectionNotList, raw)
	}
	ids := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		el := rv.Index(i).Interface()
		s, ok := scalarID(el)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", ErrSelectionElement, i, el)
		}
		ids = append(ids, s)
	}
	return ids, nil
}

func scalarID(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// ExcludeReviewed drops properties whose id is in reviewed, keeping the
// relative order of the rest.
func ExcludeReviewed(props []models.Property, reviewed map[string]struct{}) []models.Property {
	out := make([]models.Property, 0, len(props))
	for _, p := range props {
		if _, seen := reviewed[p.ID]; seen {
			continue
		}
		out = append(out, p)
	}
	return out
}
