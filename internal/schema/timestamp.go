package schema

import (
	"fmt"
	"strings"
	"time"
)

// marshalLayout always renders a numeric offset so UTC serializes as
// +00:00 and zone offsets round-trip verbatim.
const marshalLayout = "2006-01-02T15:04:05-07:00"

// parseLayouts accepted on input. Naive timestamps (no offset) are
// interpreted as UTC.
var parseLayouts = []struct {
	layout string
	naive  bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02T15:04:05.999999999", true},
	{"2006-01-02T15:04", true},
	{"2006-01-02", true},
}

// Timestamp is an ISO-8601 timestamp with offset preservation.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps a time value.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(marshalLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp parses an ISO-8601 timestamp string; a missing offset
// means UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, l := range parseLayouts {
		parsed, err := time.Parse(l.layout, s)
		if err != nil {
			continue
		}
		if l.naive {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(),
				parsed.Hour(), parsed.Minute(), parsed.Second(), parsed.Nanosecond(), time.UTC)
		}
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
