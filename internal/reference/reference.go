// Package reference extracts a recipient identifier and date of birth from
// the free-text reference a sender types into a bank transfer.
//
// Senders write the pair in many shapes ("A1234BC 09/12/86",
// "9-12-1986 a1234bc", "A1234BC091286"), so two orderings are tried:
// identifier then date, and date then identifier. Leading noise is skipped.
// Trailing text is accepted only when it cannot be a continuation of the
// matched run, which filters out concatenated or truncated values.
package reference

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	numberPattern = `([A-Z][0-9]{4}[A-Z]{2})`
	dobPattern    = `([0-9]{1,2})[^0-9]*([0-9]{1,2})[^0-9]*([0-9]{4}|[0-9]{2})`
)

var (
	// identifier, then date; trailing text must not start with a digit
	numberFirst = regexp.MustCompile(`(?i)^[^A-Z]*` + numberPattern + `[^0-9A-Z]*` + dobPattern + `([^0-9].*)?$`)
	// date, then identifier; trailing text must not start with a letter
	dobFirst = regexp.MustCompile(`(?i)^[^0-9]*` + dobPattern + `[^0-9A-Z]*` + numberPattern + `([^A-Z].*)?$`)
)

// Identity is what a reference identified.
type Identity struct {
	Number string
	DOB    time.Time
}

// Parser parses references relative to the clock in Now.
type Parser struct {
	Now func() time.Time
}

// NewParser returns a Parser using the wall clock.
func NewParser() *Parser {
	return &Parser{Now: time.Now}
}

// Parse is Parse(text, p.Now()).
func (p *Parser) Parse(text string) (*Identity, bool) {
	now := time.Now
	if p != nil && p.Now != nil {
		now = p.Now
	}
	return Parse(text, now())
}

// Parse returns the identity found in text. Two-digit years resolve to the
// latest century that puts the birth date at least ten years before today.
func Parse(text string, today time.Time) (*Identity, bool) {
	if text == "" {
		return nil, false
	}

	if m := numberFirst.FindStringSubmatch(text); m != nil {
		return build(m[1], m[2], m[3], m[4], today)
	}
	if m := dobFirst.FindStringSubmatch(text); m != nil {
		return build(m[4], m[1], m[2], m[3], today)
	}
	return nil, false
}

func build(number, day, month, year string, today time.Time) (*Identity, bool) {
	dob, ok := resolveDate(day, month, year, today)
	if !ok {
		return nil, false
	}
	return &Identity{Number: strings.ToUpper(number), DOB: dob}, true
}

func resolveDate(dayStr, monthStr, yearStr string, today time.Time) (time.Time, bool) {
	day, _ := strconv.Atoi(dayStr)
	month, _ := strconv.Atoi(monthStr)
	year, _ := strconv.Atoi(yearStr)

	if len(yearStr) == 2 {
		year += today.Year() / 100 * 100
		for year > today.Year()-10 {
			year -= 100
		}
	}

	return validDate(year, month, day)
}

// validDate builds the date only when it exists in the calendar.
func validDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || int(date.Month()) != month {
		return time.Time{}, false
	}
	return date, true
}
