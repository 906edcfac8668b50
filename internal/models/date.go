package models

import (
	"fmt"
	"time"
)

// DateLayout is the storage and wire format of a calendar day
const DateLayout = "2006-01-02"

// Date is a calendar day (YYYY-MM-DD) with no time component
type Date string

// DateOf returns the calendar day of t in t's own location
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// ParseDate validates and normalizes a YYYY-MM-DD string
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Midnight returns the start of the day in loc
func (d Date) Midnight(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(DateLayout, string(d), loc)
}

// DatePtr is a helper for optional date fields
func DatePtr(d Date) *Date {
	return &d
}

func (d Date) String() string {
	return string(d)
}
