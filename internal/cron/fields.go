// Package cron implements the job schedule dialect: an 8-field cron
// expression parsed into named trigger fields and evaluated into firing
// times.
//
// A schedule is 1-8 whitespace-separated tokens assigned in order to
// second, minute, hour, day_of_week, week, day, month and year. The day
// token accepts phrases such as "2nd wed" or "last fri" written with an
// underscore in place of the space. A "?" in the second, minute or hour
// position is replaced at parse time by a random value in that field's
// range so the job keeps firing at the same moment across restarts.
package cron

import (
	"fmt"
	"math/rand"
	"strings"
)

// Fields holds the named schedule fields of a parsed cron expression.
// The zero value of a field means the field was not specified, which is
// equivalent to "*".
type Fields struct {
	Second    string `json:"second,omitempty"`
	Minute    string `json:"minute,omitempty"`
	Hour      string `json:"hour,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty"`
	Week      string `json:"week,omitempty"`
	Day       string `json:"day,omitempty"`
	Month     string `json:"month,omitempty"`
	Year      string `json:"year,omitempty"`
}

const wildcard = "?"

// fieldNames follows token order in a schedule expression.
var fieldNames = []string{"second", "minute", "hour", "day_of_week", "week", "day", "month", "year"}

// wildcardLimits are the exclusive upper bounds for random "?" expansion
// in the first three positions.
var wildcardLimits = []int{60, 60, 24}

// ParseSchedule splits a schedule expression into named fields.
//
// It returns the possibly rewritten expression: each "?" in the first
// three positions is substituted with a random value and the same
// substitution is applied to the returned expression so the two stay
// consistent. More than eight tokens is an error.
func ParseSchedule(expr string) (string, Fields, error) {
	tokens := strings.Fields(expr)
	if len(tokens) == 0 {
		return "", Fields{}, fmt.Errorf("schedule expression is empty")
	}
	if len(tokens) > len(fieldNames) {
		return "", Fields{}, fmt.Errorf("schedule expression has %d fields, expected at most %d", len(tokens), len(fieldNames))
	}

	values := make(map[string]string, len(tokens))
	for i, tok := range tokens {
		if i < len(wildcardLimits) && tok == wildcard {
			tok = fmt.Sprintf("%d", rand.Intn(wildcardLimits[i]))
			expr = strings.Replace(expr, wildcard, tok, 1)
		}
		values[fieldNames[i]] = tok
	}

	// Day phrases ("2nd wed", "last fri") are written with underscores.
	if day, ok := values["day"]; ok {
		values["day"] = strings.ReplaceAll(day, "_", " ")
	}

	return expr, Fields{
		Second:    values["second"],
		Minute:    values["minute"],
		Hour:      values["hour"],
		DayOfWeek: values["day_of_week"],
		Week:      values["week"],
		Day:       values["day"],
		Month:     values["month"],
		Year:      values["year"],
	}, nil
}
