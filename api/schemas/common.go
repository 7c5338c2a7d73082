package schemas

import (
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// -- Common Schemas --

// Duration is a time.Duration that travels over the wire as integer milliseconds,
// which is how scraper definitions express waits and scheduler intervals.
type Duration time.Duration

// Millis builds a Duration from a millisecond count.
func Millis(ms int64) Duration {
	return Duration(time.Duration(ms) * time.Millisecond)
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Milliseconds returns the duration as an integer millisecond count.
func (d Duration) Milliseconds() int64 { return time.Duration(d).Milliseconds() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(d.Milliseconds(), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler. Fractional milliseconds are accepted.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*d = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*d = Duration(time.Duration(f * float64(time.Millisecond)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.Milliseconds(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler with the same millisecond encoding as JSON.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var f float64
	if err := node.Decode(&f); err != nil {
		return err
	}
	*d = Duration(time.Duration(f * float64(time.Millisecond)))
	return nil
}
