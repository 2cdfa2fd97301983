package content

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidDate = errors.New("invalid date")

var dateLayouts = []string{time.DateOnly, time.RFC3339, "2006-01-02T15:04", time.DateTime}

// ParseDate accepts a calendar date or an RFC 3339 timestamp and returns it
// in UTC.
func ParseDate(raw string) (time.Time, error) {
	v := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// ParseOptionalDate is ParseDate for optional fields: an empty value is nil.
func ParseOptionalDate(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := ParseDate(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// StartOfDay is the UTC midnight that begins t's day. Anything expiring
// before it has expired.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
