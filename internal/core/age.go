// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// maxAge closes open-ended age bands like "65+".
const maxAge = 120

// AgeRange is an inclusive range of ages in years.
type AgeRange struct {
	Min int
	Max int
}

// Contains returns whether the given age falls into this range.
func (r AgeRange) Contains(age int) bool {
	return age >= r.Min && age <= r.Max
}

// ParseAgeBand parses an age-band label into an AgeRange. Accepted forms are
// "25-34", "65+" and a bare number like "30". Returns ok = false for anything
// else.
func ParseAgeBand(label string) (r AgeRange, ok bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return AgeRange{}, false
	}
	if strings.HasSuffix(label, "+") {
		start, err := strconv.Atoi(strings.TrimSuffix(label, "+"))
		if err != nil {
			return AgeRange{}, false
		}
		return AgeRange{Min: start, Max: maxAge}, true
	}
	if lo, hi, found := strings.Cut(label, "-"); found {
		start, err1 := strconv.Atoi(lo)
		end, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return AgeRange{}, false
		}
		return AgeRange{Min: start, Max: end}, true
	}
	value, err := strconv.Atoi(label)
	if err != nil {
		return AgeRange{}, false
	}
	return AgeRange{Min: value, Max: value}, true
}

// AgeOn computes a person's age in full years on the given day.
func AgeOn(dob, today time.Time) int {
	age := today.Year() - dob.Year()
	if today.Month() < dob.Month() || (today.Month() == dob.Month() && today.Day() < dob.Day()) {
		age--
	}
	return age
}

// YearsAgo computes the date `years` years before `base`. A February 29th
// base date clamps to February 28th in non-leap years.
func YearsAgo(base time.Time, years int) time.Time {
	year := base.Year() - years
	month := base.Month()
	day := base.Day()
	if month == time.February && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, base.Location())
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// AgeRangesFromSelector extracts age predicates from a selector: explicit
// ranges under "age"/"age_range" (either a [min, max] pair or a list of such
// pairs) and parsed "age_band" labels.
func AgeRangesFromSelector(selector Selector) (ranges []AgeRange, bandLabels []string) {
	explicit := NormalizeSelectorValues(firstNonNil(selector["age"], selector["age_range"]))
	if len(explicit) == 2 && isNumber(explicit[0]) && isNumber(explicit[1]) {
		ranges = append(ranges, AgeRange{Min: toInt(explicit[0]), Max: toInt(explicit[1])})
	} else {
		for _, value := range explicit {
			if pair, isPair := value.([]any); isPair && len(pair) == 2 {
				ranges = append(ranges, AgeRange{Min: toInt(pair[0]), Max: toInt(pair[1])})
			}
		}
	}

	for _, value := range StringValues(selector["age_band"]) {
		if r, ok := ParseAgeBand(value); ok {
			ranges = append(ranges, r)
			bandLabels = append(bandLabels, value)
		}
	}
	return ranges, bandLabels
}

// MatchingAgeBand returns the first band label whose parsed range contains
// the given age, or nil if none does.
func MatchingAgeBand(bandLabels []string, age int) *string {
	for _, label := range bandLabels {
		if r, ok := ParseAgeBand(label); ok && r.Contains(age) {
			return &label
		}
	}
	return nil
}

func firstNonNil(values ...any) any {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func isNumber(value any) bool {
	_, ok := toFloat(value)
	if ok {
		return true
	}
	_, isNum := value.(json.Number)
	return isNum
}

func toInt(value any) int {
	f, _ := toFloat(value)
	return int(f)
}
