// Package timewindow evaluates recurring daily windows such as shifts and meal services.
// Windows may wrap past midnight; all arithmetic is done on the local wall clock.
package timewindow

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

// ErrEmptyWindow is returned for windows whose start equals their end.
var ErrEmptyWindow = errors.New("window start and end must differ")

// TimeOfDay is a wall-clock instant expressed as the offset from local midnight.
type TimeOfDay time.Duration

// Clock builds a TimeOfDay from hour and minute.
func Clock(hour, minute int) TimeOfDay {
	return TimeOfDay(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// Parse accepts "HH:MM" or "HH:MM:SS".
func Parse(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{"15:04:05", "15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return FromTime(t), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", raw)
}

// MustParse is Parse for constants and tests.
func MustParse(raw string) TimeOfDay {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// FromTime extracts the wall-clock portion of t in its own location.
func FromTime(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second)
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t)
}

// Add shifts the instant without normalising into a single day.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return TimeOfDay(time.Duration(t) + d)
}

// String renders HH:MM.
func (t TimeOfDay) String() string {
	d := time.Duration(t) % day
	if d < 0 {
		d += day
	}
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}

// Scan implements sql.Scanner. lib/pq hands TIME columns over as time.Time.
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = FromTime(v)
		return nil
	case []byte:
		return t.scanString(string(v))
	case string:
		return t.scanString(v)
	case nil:
		*t = 0
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

func (t *TimeOfDay) scanString(raw string) error {
	// TIME values may carry fractional seconds
	if idx := strings.IndexByte(raw, '.'); idx > 0 {
		raw = raw[:idx]
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Value implements driver.Valuer.
func (t TimeOfDay) Value() (driver.Value, error) {
	d := time.Duration(t)
	return fmt.Sprintf("%02d:%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second)), nil
}

// MarshalJSON renders "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts "HH:MM" or "HH:MM:SS".
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsWithinWindow reports whether current falls inside [start, end+tolerance].
// Overnight windows (start > end) are active from start until midnight and from
// midnight until end+tolerance. Empty windows never match.
func IsWithinWindow(current, start, end TimeOfDay, tolerance time.Duration) bool {
	if tolerance < 0 {
		tolerance = 0
	}
	closing := end.Add(tolerance)

	switch {
	case start < end:
		if current >= start && current <= closing {
			return true
		}
		if closing >= TimeOfDay(day) {
			return current <= closing.Add(-day)
		}
		return false
	case start > end:
		return current >= start || current <= closing
	default:
		return false
	}
}

// ValidateWindow rejects windows that cannot be evaluated.
func ValidateWindow(start, end TimeOfDay) error {
	if start < 0 || start >= TimeOfDay(day) || end < 0 || end >= TimeOfDay(day) {
		return fmt.Errorf("window bounds must lie within a single day")
	}
	if start == end {
		return ErrEmptyWindow
	}
	return nil
}

// LocalDate returns midnight of t's calendar date in loc.
func LocalDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// WallClock reads the current time in a fixed location.
type WallClock struct {
	Now      func() time.Time
	Location *time.Location
}

// NewWallClock returns a clock reading the system time in loc.
func NewWallClock(loc *time.Location) WallClock {
	if loc == nil {
		loc = time.Local
	}
	return WallClock{Now: time.Now, Location: loc}
}

// Current returns the local instant.
func (c WallClock) Current() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Today returns the local calendar date.
func (c WallClock) Today() time.Time {
	return LocalDate(c.Current(), c.Location)
}

// TimeOfDay returns the local wall-clock reading.
func (c WallClock) TimeOfDay() TimeOfDay {
	return FromTime(c.Current())
}

// DateString formats a local date the way the store expects it.
func DateString(t time.Time) string {
	return t.Format("2006-01-02")
}
