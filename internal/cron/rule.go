package cron

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	minYear = 1970
	maxYear = 9999

	// searchHorizonYears bounds the firing-time search when no year
	// field constrains it, so unsatisfiable rules (e.g. Feb 30)
	// terminate.
	searchHorizonYears = 10
)

// Weekday numbering follows the schedule dialect: 0 = Monday .. 6 = Sunday.
var weekdayNames = map[string]int{
	"mon": 0, "tue": 1, "wed": 2, "thu": 3, "fri": 4, "sat": 5, "sun": 6,
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var ordinals = map[string]int{
	"1st": 1, "2nd": 2, "3rd": 3, "4th": 4, "5th": 5,
}

type dayKind int

const (
	dayAny dayKind = iota
	daySet
	dayLast
	dayLastWeekday
	dayNthWeekday
)

// dayRule constrains the day-of-month field, which accepts phrase forms
// in addition to numeric expressions.
type dayRule struct {
	kind    dayKind
	days    map[int]bool
	weekday int
	nth     int
}

// Rule is a compiled firing rule for a set of schedule fields.
// All field constraints are combined with AND, including day and
// day_of_week.
type Rule struct {
	seconds  []int
	minutes  []int
	hours    []int
	weekdays map[int]bool
	weeks    map[int]bool
	day      dayRule
	months   map[int]bool
	years    map[int]bool
}

// New compiles schedule fields into a firing rule. An error identifies
// the offending field.
func New(f Fields) (*Rule, error) {
	r := &Rule{}
	var err error

	if r.seconds, err = parseOrdered(f.Second, 0, 59, nil); err != nil {
		return nil, fmt.Errorf("second: %w", err)
	}
	if r.minutes, err = parseOrdered(f.Minute, 0, 59, nil); err != nil {
		return nil, fmt.Errorf("minute: %w", err)
	}
	if r.hours, err = parseOrdered(f.Hour, 0, 23, nil); err != nil {
		return nil, fmt.Errorf("hour: %w", err)
	}
	if r.weekdays, err = parseSet(f.DayOfWeek, 0, 6, weekdayNames); err != nil {
		return nil, fmt.Errorf("day_of_week: %w", err)
	}
	if r.weeks, err = parseSet(f.Week, 1, 53, nil); err != nil {
		return nil, fmt.Errorf("week: %w", err)
	}
	if r.day, err = parseDay(f.Day); err != nil {
		return nil, fmt.Errorf("day: %w", err)
	}
	if r.months, err = parseSet(f.Month, 1, 12, monthNames); err != nil {
		return nil, fmt.Errorf("month: %w", err)
	}
	if r.years, err = parseSet(f.Year, minYear, maxYear, nil); err != nil {
		return nil, fmt.Errorf("year: %w", err)
	}
	return r, nil
}

// Next returns the first firing time strictly after t, evaluated in t's
// location. ok is false when the rule can never fire after t.
func (r *Rule) Next(t time.Time) (time.Time, bool) {
	loc := t.Location()
	after := t.Truncate(0)
	limit := r.lastYear(after.Year())

	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, loc)
	for day.Year() <= limit {
		if r.dateMatches(day) {
			var fh, fm, fs int
			exclusive := false
			if day.Year() == after.Year() && day.YearDay() == after.YearDay() {
				fh, fm, fs = after.Hour(), after.Minute(), after.Second()
				exclusive = true
			}
			if h, m, s, ok := r.nextClock(fh, fm, fs, exclusive); ok {
				return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc), true
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}

func (r *Rule) lastYear(from int) int {
	if r.years == nil {
		return from + searchHorizonYears
	}
	last := minYear
	for y := range r.years {
		if y > last {
			last = y
		}
	}
	return last
}

func (r *Rule) dateMatches(d time.Time) bool {
	if r.years != nil && !r.years[d.Year()] {
		return false
	}
	if r.months != nil && !r.months[int(d.Month())] {
		return false
	}
	if r.weeks != nil {
		_, week := d.ISOWeek()
		if !r.weeks[week] {
			return false
		}
	}
	if r.weekdays != nil && !r.weekdays[isoWeekday(d)] {
		return false
	}
	return r.dayMatches(d)
}

func (r *Rule) dayMatches(d time.Time) bool {
	switch r.day.kind {
	case dayAny:
		return true
	case daySet:
		return r.day.days[d.Day()]
	case dayLast:
		return d.Day() == lastDayOfMonth(d)
	case dayLastWeekday:
		return isoWeekday(d) == r.day.weekday && d.Day()+7 > lastDayOfMonth(d)
	case dayNthWeekday:
		return isoWeekday(d) == r.day.weekday && (d.Day()-1)/7 == r.day.nth-1
	}
	return false
}

// nextClock finds the earliest (hour, minute, second) combination at or
// after the given clock time; when exclusive is set the exact time
// itself is skipped.
func (r *Rule) nextClock(fh, fm, fs int, exclusive bool) (int, int, int, bool) {
	if exclusive {
		fs++
		if fs > 59 {
			fs = 0
			fm++
		}
		if fm > 59 {
			fm = 0
			fh++
		}
		if fh > 23 {
			return 0, 0, 0, false
		}
	}
	for _, h := range r.hours {
		if h < fh {
			continue
		}
		for _, m := range r.minutes {
			if h == fh && m < fm {
				continue
			}
			for _, s := range r.seconds {
				if h == fh && m == fm && s < fs {
					continue
				}
				return h, m, s, true
			}
		}
	}
	return 0, 0, 0, false
}

func isoWeekday(d time.Time) int {
	return (int(d.Weekday()) + 6) % 7
}

func lastDayOfMonth(d time.Time) int {
	return time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, d.Location()).Day()
}

// parseOrdered materializes a field expression into a sorted value
// slice; an empty expression or "*" yields the full range.
func parseOrdered(expr string, lo, hi int, names map[string]int) ([]int, error) {
	set, err := parseSet(expr, lo, hi, names)
	if err != nil {
		return nil, err
	}
	var out []int
	if set == nil {
		for v := lo; v <= hi; v++ {
			out = append(out, v)
		}
		return out, nil
	}
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// parseSet parses a field expression ("*", "*/step", "a", "a-b",
// "a-b/step" and comma-separated lists of these) into a membership set.
// A nil set means any value matches.
func parseSet(expr string, lo, hi int, names map[string]int) (map[int]bool, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	if expr == "" || expr == "*" {
		return nil, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(expr, ",") {
		if err := parseRange(part, lo, hi, names, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func parseRange(part string, lo, hi int, names map[string]int, set map[int]bool) error {
	step := 1
	if base, stepExpr, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(stepExpr)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid step %q", stepExpr)
		}
		step = n
		part = base
	}

	first, last := lo, hi
	switch {
	case part == "*":
		// full range
	case strings.Contains(part, "-"):
		a, b, _ := strings.Cut(part, "-")
		var err error
		if first, err = parseValue(a, lo, hi, names); err != nil {
			return err
		}
		if last, err = parseValue(b, lo, hi, names); err != nil {
			return err
		}
		if first > last {
			return fmt.Errorf("descending range %q", part)
		}
	default:
		v, err := parseValue(part, lo, hi, names)
		if err != nil {
			return err
		}
		first, last = v, v
	}

	for v := first; v <= last; v += step {
		set[v] = true
	}
	return nil
}

func parseValue(s string, lo, hi int, names map[string]int) (int, error) {
	s = strings.TrimSpace(s)
	if names != nil {
		if v, ok := names[s]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, lo, hi)
	}
	return v, nil
}

// parseDay handles the day field's phrase forms ("last", "last fri",
// "3rd wed") in addition to numeric expressions.
func parseDay(expr string) (dayRule, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	if expr == "" || expr == "*" {
		return dayRule{kind: dayAny}, nil
	}
	if expr == "last" {
		return dayRule{kind: dayLast}, nil
	}
	if first, second, ok := strings.Cut(expr, " "); ok {
		wd, found := weekdayNames[second]
		if !found {
			return dayRule{}, fmt.Errorf("unknown weekday %q", second)
		}
		if first == "last" {
			return dayRule{kind: dayLastWeekday, weekday: wd}, nil
		}
		if nth, found := ordinals[first]; found {
			return dayRule{kind: dayNthWeekday, weekday: wd, nth: nth}, nil
		}
		return dayRule{}, fmt.Errorf("unknown day phrase %q", expr)
	}
	set, err := parseSet(expr, 1, 31, nil)
	if err != nil {
		return dayRule{}, err
	}
	return dayRule{kind: daySet, days: set}, nil
}
