package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

type (
	// TimeRFC3339 aliases time.Time to add marshaling functions that url escape
	// and format a time in the RFC3339 format.
	TimeRFC3339 time.Time

	// A DurationMS is a duration encoded as an integer number of
	// milliseconds.
	DurationMS time.Duration
)

// TimeNow returns the current time as a TimeRFC3339.
func TimeNow() TimeRFC3339 {
	return TimeRFC3339(time.Now())
}

// IsZero reports whether t is the zero time.
func (t TimeRFC3339) IsZero() bool { return time.Time(t).IsZero() }

// String implements fmt.Stringer.
func (t TimeRFC3339) String() string {
	return url.QueryEscape((time.Time)(t).Format(time.RFC3339))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeRFC3339) UnmarshalText(b []byte) error {
	return (*time.Time)(t).UnmarshalText(b)
}

// MarshalJSON implements json.Marshaler.
func (t TimeRFC3339) MarshalJSON() ([]byte, error) {
	return []byte(`"` + (time.Time)(t).UTC().Format(time.RFC3339Nano) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *TimeRFC3339) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = TimeRFC3339{}
		return nil
	}
	return t.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (d DurationMS) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Duration(d).Milliseconds(), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *DurationMS) UnmarshalJSON(b []byte) error {
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*d = DurationMS(time.Duration(ms) * time.Millisecond)
	return nil
}
