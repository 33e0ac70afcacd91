// Package cronmatch implements the cron-expression parser/matcher BBQ's
// ScheduleJob uses to decide whether "now" is a fire time. It is the
// out-of-scope "cron-expression parser/matcher" collaborator from spec.md
// §1/§6: the spec only requires parse(pattern) and isTimeToRun(parsed, tz).
//
// No cron-expression library appears anywhere in the retrieval pack this
// module was built from, so this is implemented directly against the
// standard library rather than layered on a third-party matcher.
package cronmatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Pattern is a parsed 5-field cron expression: minute, hour, day of month,
// month, and day of week, each retained as the original string token so a
// caller can inspect what was requested.
type Pattern struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// namedPatterns maps the spec's named shorthands to their 5-field expansion.
var namedPatterns = map[string]string{
	"minutely": "* * * * *",
	"hourly":   "0 * * * *",
	"daily":    "0 0 * * *",
	"weekly":   "0 0 * * 0",
	"monthly":  "0 0 1 * *",
	"yearly":   "0 0 1 1 *",
	"monday":   "0 0 * * 1",
	"tuesday":  "0 0 * * 2",
	"wednesday": "0 0 * * 3",
	"thursday":  "0 0 * * 4",
	"friday":    "0 0 * * 5",
	"saturday":  "0 0 * * 6",
	"sunday":    "0 0 * * 0",
}

// Parse tokenizes pattern into a Pattern. pattern may be a named shorthand
// ("daily", "monday", ...) or a raw 5-field cron expression.
func Parse(pattern string) (Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if expanded, ok := namedPatterns[strings.ToLower(pattern)]; ok {
		pattern = expanded
	}

	fields := strings.Fields(pattern)
	if len(fields) != 5 {
		return Pattern{}, fmt.Errorf("cronmatch: expected 5 fields, got %d in %q", len(fields), pattern)
	}

	p := Pattern{
		Minute:     fields[0],
		Hour:       fields[1],
		DayOfMonth: fields[2],
		Month:      fields[3],
		DayOfWeek:  fields[4],
	}
	if err := p.validate(); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

func (p Pattern) validate() error {
	fields := []struct {
		name     string
		value    string
		min, max int
	}{
		{"minute", p.Minute, 0, 59},
		{"hour", p.Hour, 0, 23},
		{"dayOfMonth", p.DayOfMonth, 1, 31},
		{"month", p.Month, 1, 12},
		{"dayOfWeek", p.DayOfWeek, 0, 7},
	}
	for _, f := range fields {
		if _, err := matchField(f.value, 0, f.min, f.max); err != nil {
			return fmt.Errorf("cronmatch: invalid %s field %q: %w", f.name, f.value, err)
		}
	}
	return nil
}

// IsTimeToRun evaluates pattern against the current minute boundary in the
// named IANA timezone. tz defaults to UTC if empty or unrecognized.
func IsTimeToRun(pattern Pattern, tz string) bool {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}
	return pattern.Matches(time.Now().In(loc))
}

// Matches reports whether t's minute, hour, day-of-month, month and
// day-of-week satisfy the pattern. Day-of-month and day-of-week are OR'd
// together when both are restricted, matching standard cron semantics.
func (p Pattern) Matches(t time.Time) bool {
	minuteOK, _ := matchField(p.Minute, t.Minute(), 0, 59)
	hourOK, _ := matchField(p.Hour, t.Hour(), 0, 23)
	monthOK, _ := matchField(p.Month, int(t.Month()), 1, 12)

	domRestricted := p.DayOfMonth != "*"
	dowRestricted := p.DayOfWeek != "*"
	domOK, _ := matchField(p.DayOfMonth, t.Day(), 1, 31)
	dow := int(t.Weekday())
	dowOK, _ := matchField(p.DayOfWeek, dow, 0, 7)
	// Field value 7 is a common alias for Sunday (0) in cron implementations.
	if !dowOK && p.fieldContains(p.DayOfWeek, 7) && dow == 0 {
		dowOK = true
	}

	var dayOK bool
	switch {
	case domRestricted && dowRestricted:
		dayOK = domOK || dowOK
	case domRestricted:
		dayOK = domOK
	case dowRestricted:
		dayOK = dowOK
	default:
		dayOK = true
	}

	return minuteOK && hourOK && monthOK && dayOK
}

func (p Pattern) fieldContains(field string, want int) bool {
	ok, _ := matchField(field, want, 0, 59)
	return ok
}

// matchField reports whether value satisfies a single cron field expression:
// "*", "*/step", "a", "a,b,c", "a-b", or "a-b/step". min/max bound valid
// literal values and are used to validate the field independent of a
// specific value (matchField(field, 0, min, max) during Parse's validation).
func matchField(field string, value, min, max int) (bool, error) {
	for _, part := range strings.Split(field, ",") {
		ok, err := matchFieldPart(part, value, min, max)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func matchFieldPart(part string, value, min, max int) (bool, error) {
	step := 1
	base := part
	if i := strings.IndexByte(part, '/'); i >= 0 {
		base = part[:i]
		n, err := strconv.Atoi(part[i+1:])
		if err != nil || n <= 0 {
			return false, fmt.Errorf("invalid step in %q", part)
		}
		step = n
	}

	var lo, hi int
	switch {
	case base == "*":
		lo, hi = min, max
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || a > b {
			return false, fmt.Errorf("invalid range %q", base)
		}
		lo, hi = a, b
	default:
		n, err := strconv.Atoi(base)
		if err != nil {
			return false, fmt.Errorf("invalid literal %q", base)
		}
		lo, hi = n, n
	}

	if lo < min || hi > max {
		return false, fmt.Errorf("value out of range in %q (allowed %d-%d)", part, min, max)
	}

	if value < lo || value > hi {
		return false, nil
	}
	return (value-lo)%step == 0, nil
}
