package fptime

import (
	"fmt"
	"time"
)

// Layout is the fingerprint timestamp layout (YYYYMMDDHHMMSS, UTC).
const Layout = "20060102150405"

// Format renders t in UTC using Layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Now returns the current fingerprint timestamp.
func Now() string {
	return Format(time.Now())
}

// Parse parses a fingerprint timestamp as UTC.
func Parse(s string) (time.Time, error) {
	if err := Validate(s); err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse fingerprint timestamp: %w", err)
	}
	return t, nil
}

// Validate checks that s has exactly 14 digits.
func Validate(s string) error {
	if len(s) != len(Layout) {
		return fmt.Errorf("fingerprint timestamp must be YYYYMMDDHHMMSS (14 digits)")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return fmt.Errorf("fingerprint timestamp must be digits")
		}
	}
	return nil
}

// Age reports how long ago the timestamp was minted relative to at.
func Age(s string, at time.Time) (time.Duration, error) {
	t, err := Parse(s)
	if err != nil {
		return 0, err
	}
	return at.UTC().Sub(t), nil
}
