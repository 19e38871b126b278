package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Timestamp represents a position in a video in HH:MM:SS[.mmm] form
type Timestamp struct {
	Hours   int
	Minutes int
	Seconds int
	Millis  int
}

// timestampRegex matches HH:MM:SS with optional milliseconds
var timestampRegex = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})(?:[.,](\d{1,3}))?$`)

// ParseTimestamp parses HH:MM:SS[.mmm] or a plain number of seconds
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	matches := timestampRegex.FindStringSubmatch(s)
	if matches == nil {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs < 0 {
			return Timestamp{}, fmt.Errorf("invalid timestamp format %q: expected HH:MM:SS[.mmm] or seconds", s)
		}
		return FromSeconds(secs), nil
	}

	hours, _ := strconv.Atoi(matches[1])
	minutes, _ := strconv.Atoi(matches[2])
	seconds, _ := strconv.Atoi(matches[3])
	millis := 0
	if matches[4] != "" {
		frac := matches[4] + strings.Repeat("0", 3-len(matches[4]))
		millis, _ = strconv.Atoi(frac)
	}

	if minutes > 59 {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: minutes must be 0-59", s)
	}
	if seconds > 59 {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: seconds must be 0-59", s)
	}

	return Timestamp{Hours: hours, Minutes: minutes, Seconds: seconds, Millis: millis}, nil
}

// FromSeconds converts a number of seconds to a Timestamp, rounded to milliseconds
func FromSeconds(secs float64) Timestamp {
	total := int64(secs*1000 + 0.5)
	return Timestamp{
		Hours:   int(total / 3600000),
		Minutes: int(total / 60000 % 60),
		Seconds: int(total / 1000 % 60),
		Millis:  int(total % 1000),
	}
}

// String returns the timestamp in HH:MM:SS.mmm format
func (t Timestamp) String() string {
	return fmt.Sprintf("%02d:%02d:%02d.%03d", t.Hours, t.Minutes, t.Seconds, t.Millis)
}

// TotalSeconds returns the timestamp as seconds
func (t Timestamp) TotalSeconds() float64 {
	return float64(t.Hours*3600+t.Minutes*60+t.Seconds) + float64(t.Millis)/1000
}

// Before returns true if t is before other
func (t Timestamp) Before(other Timestamp) bool {
	return t.TotalSeconds() < other.TotalSeconds()
}
