// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/insightzen/dialerd/internal/db"
)

// Selector is a structured predicate on sample attributes. Keys are attribute
// names; values are either a scalar or a list of admissible scalars. An empty
// selector matches every sample.
type Selector map[string]any

// promoted attributes live in their own sample_contacts columns; everything
// else is looked up in the attributes JSON blob
var promotedAttributes = map[string]struct{}{
	"gender":        {},
	"age_band":      {},
	"province_code": {},
	"city_code":     {},
}

// ParseSelector deserializes a selector from its JSON representation.
func ParseSelector(buf string) (Selector, error) {
	if buf == "" {
		return Selector{}, nil
	}
	var s Selector
	dec := json.NewDecoder(bytes.NewReader([]byte(buf)))
	dec.UseNumber()
	err := dec.Decode(&s)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", buf, err)
	}
	return s, nil
}

// SerializeSelector renders a selector in canonical form (object keys sorted
// alphabetically, no insignificant whitespace). The uniqueness constraint on
// quota_cells (scheme_id, selector) compares these strings byte-wise.
func SerializeSelector(s Selector) (string, error) {
	if s == nil {
		s = Selector{}
	}
	buf, err := json.Marshal(s) // encoding/json sorts map keys
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// MatchesSelector checks a sample against a selector. Every selector key must
// be satisfied: the sample's attribute value must equal the expected scalar,
// or be a member of the expected list. A sample that lacks the attribute does
// not match.
func MatchesSelector(sample db.SampleContact, selector Selector) bool {
	if len(selector) == 0 {
		return true
	}

	var attributes map[string]any
	if sample.AttributesJSON != "" {
		// a broken attributes blob counts as "no extra attributes" rather
		// than failing the whole match
		_ = json.Unmarshal([]byte(sample.AttributesJSON), &attributes)
	}

	for key, expected := range selector {
		var actual any
		if _, isPromoted := promotedAttributes[key]; isPromoted {
			actual = promotedAttributeValue(sample, key)
		} else {
			actual = attributes[key]
		}
		if actual == nil {
			return false
		}
		if !valueMatches(actual, expected) {
			return false
		}
	}
	return true
}

func promotedAttributeValue(sample db.SampleContact, key string) any {
	var ptr *string
	switch key {
	case "gender":
		ptr = sample.Gender
	case "age_band":
		ptr = sample.AgeBand
	case "province_code":
		ptr = sample.ProvinceCode
	case "city_code":
		ptr = sample.CityCode
	}
	if ptr == nil {
		return nil
	}
	return *ptr
}

func valueMatches(actual, expected any) bool {
	if list, isList := expected.([]any); isList {
		for _, item := range list {
			if scalarEquals(actual, item) {
				return true
			}
		}
		return false
	}
	return scalarEquals(actual, expected)
}

// scalarEquals compares two selector scalars. Numbers need special handling
// because values coming out of encoding/json can be json.Number, float64 or
// int depending on the code path that produced them.
func scalarEquals(actual, expected any) bool {
	if actual == expected {
		return true
	}
	actualNum, ok1 := toFloat(actual)
	expectedNum, ok2 := toFloat(expected)
	if ok1 && ok2 {
		return actualNum == expectedNum
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// NormalizeSelectorValues coerces a selector value into a flat list of
// scalars, dropping nulls. This is used when splitting a selector into the
// bank gateway's filter predicates.
func NormalizeSelectorValues(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		result := make([]any, 0, len(v))
		for _, item := range v {
			if item != nil {
				result = append(result, item)
			}
		}
		return result
	default:
		return []any{v}
	}
}

// StringValues renders each element of NormalizeSelectorValues as a string.
func StringValues(value any) []string {
	values := NormalizeSelectorValues(value)
	result := make([]string, 0, len(values))
	for _, item := range values {
		result = append(result, fmt.Sprint(item))
	}
	return result
}
