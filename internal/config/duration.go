package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so it can be configured either as an integer
// number of nanoseconds or as a duration string ("30s", "5m"), matching the
// behavior boskos/common.Duration uses for its resource-lifecycle config.
// Ambiguous values are rejected rather than guessed.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var asInt int64
	if err := json.Unmarshal(b, &asInt); err == nil {
		d.Duration = time.Duration(asInt)
		return nil
	}

	var asString string
	if err := json.Unmarshal(b, &asString); err != nil {
		return fmt.Errorf("duration must be an integer of nanoseconds or a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", asString, err)
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var asString string
	if err := unmarshal(&asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return fmt.Errorf("invalid duration string %q: %w", asString, err)
		}
		d.Duration = parsed
		return nil
	}
	var asInt int64
	if err := unmarshal(&asInt); err != nil {
		return fmt.Errorf("duration must be an integer of nanoseconds or a duration string: %w", err)
	}
	d.Duration = time.Duration(asInt)
	return nil
}
