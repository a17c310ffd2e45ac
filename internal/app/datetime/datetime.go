// Package datetime converts the Java-style date/time format patterns used
// in pact files to Go layouts and evaluates relative expressions such as
// "today + 2 days".
package datetime

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// format pattern tokens, longest first so e.g. yyyy wins over yy.
var patternTokens = []struct {
	pattern string
	layout  string
}{
	{"yyyy", "2006"},
	{"yyy", "2006"},
	{"yy", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"dd", "02"},
	{"d", "2"},
	{"EEEE", "Monday"},
	{"EEE", "Mon"},
	{"HH", "15"},
	{"H", "15"},
	{"hh", "03"},
	{"h", "3"},
	{"mm", "04"},
	{"m", "4"},
	{"ss", "05"},
	{"s", "5"},
	{"SSS", "000"},
	{"a", "PM"},
	{"ZZZ", "-07:00"},
	{"ZZ", "-0700"},
	{"Z", "-0700"},
	{"XXX", "-07:00"},
	{"XX", "-0700"},
	{"X", "-07"},
	{"zzz", "MST"},
	{"z", "MST"},
}

// ToGoLayout translates a Java SimpleDateFormat-style pattern into a Go
// time layout. Quoted literals ('T') pass through unquoted.
func ToGoLayout(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); {
		if pattern[i] == '\'' {
			end := strings.IndexByte(pattern[i+1:], '\'')
			if end < 0 {
				b.WriteString(pattern[i+1:])
				break
			}
			if end == 0 {
				b.WriteByte('\'')
			} else {
				b.WriteString(pattern[i+1 : i+1+end])
			}
			i += end + 2
			continue
		}
		matched := false
		for _, t := range patternTokens {
			if strings.HasPrefix(pattern[i:], t.pattern) {
				b.WriteString(t.layout)
				i += len(t.pattern)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

const (
	// ISO-8601 defaults used when no format is supplied.
	DefaultDateLayout     = "2006-01-02"
	DefaultTimeLayout     = "15:04:05"
	DefaultDateTimeLayout = "2006-01-02T15:04:05-07:00"
)

// LayoutFor returns the Go layout for an optional pact format string,
// falling back to the ISO-8601 default for the part kind.
func LayoutFor(format, fallback string) string {
	if format == "" {
		return fallback
	}
	return ToGoLayout(format)
}

// ParseDate validates a date string against an optional pact format.
func ParseDate(value, format string) error {
	_, err := time.Parse(LayoutFor(format, DefaultDateLayout), value)
	return err
}

// ParseTime validates a time string against an optional pact format.
func ParseTime(value, format string) error {
	_, err := time.Parse(LayoutFor(format, DefaultTimeLayout), value)
	return err
}

// ParseDateTime validates a timestamp against an optional pact format.
// With no format, the RFC3339 family is accepted.
func ParseDateTime(value, format string) error {
	if format == "" {
		if _, err := time.Parse(time.RFC3339, value); err == nil {
			return nil
		}
		_, err := time.Parse("2006-01-02T15:04:05", value)
		return err
	}
	_, err := time.Parse(ToGoLayout(format), value)
	return err
}

// Evaluate resolves a relative date/time expression against a base
// instant. The grammar is "now" or "today" followed by zero or more
// "+ N unit" / "- N unit" terms, unit one of year, month, week, day,
// hour, minute, second. An empty expression returns the base unchanged.
func Evaluate(expression string, base time.Time) (time.Time, error) {
	fields := strings.Fields(strings.ToLower(expression))
	if len(fields) == 0 {
		return base, nil
	}
	result := base
	i := 0
	switch fields[0] {
	case "now":
		i = 1
	case "today":
		result = time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, base.Location())
		i = 1
	case "+", "-":
	default:
		return base, errors.Errorf("date expression %q must start with now or today", expression)
	}

	for i < len(fields) {
		op := fields[i]
		if op != "+" && op != "-" {
			return base, errors.Errorf("expected + or - in date expression %q", expression)
		}
		if i+2 >= len(fields) {
			return base, errors.Errorf("date expression %q is truncated", expression)
		}
		n, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return base, errors.Errorf("invalid amount %q in date expression %q", fields[i+1], expression)
		}
		if op == "-" {
			n = -n
		}
		unit := strings.TrimSuffix(fields[i+2], "s")
		switch unit {
		case "year":
			result = result.AddDate(n, 0, 0)
		case "month":
			result = result.AddDate(0, n, 0)
		case "week":
			result = result.AddDate(0, 0, 7*n)
		case "day":
			result = result.AddDate(0, 0, n)
		case "hour":
			result = result.Add(time.Duration(n) * time.Hour)
		case "minute":
			result = result.Add(time.Duration(n) * time.Minute)
		case "second":
			result = result.Add(time.Duration(n) * time.Second)
		default:
			return base, errors.Errorf("unknown unit %q in date expression %q", fields[i+2], expression)
		}
		i += 3
	}
	return result, nil
}
