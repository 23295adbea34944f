package schema

import (
	"fmt"
	"math"
	"time"
)

// Default timer settings, applied when nothing valid is stored.
const (
	DefaultPomodoroDuration   = 25
	DefaultShortBreakDuration = 5
	DefaultLongBreakDuration  = 15
)

// Settings is the timer configuration record.
type Settings struct {
	PomodoroDuration   float64 `json:"pomodoroDuration"`
	ShortBreakDuration float64 `json:"shortBreakDuration"`
	LongBreakDuration  float64 `json:"longBreakDuration"`
	AutoStartBreak     bool    `json:"autoStartBreak"`
	AutoStartPomodoro  bool    `json:"autoStartPomodoro"`

	// LastUpdated is stamped on every local edit that should take part in a
	// merge. It is not compared when looking for divergence.
	LastUpdated string `json:"lastUpdated,omitempty"`
}

// DefaultSettings returns the settings of a fresh installation.
func DefaultSettings() Settings {
	return Settings{
		PomodoroDuration:   DefaultPomodoroDuration,
		ShortBreakDuration: DefaultShortBreakDuration,
		LongBreakDuration:  DefaultLongBreakDuration,
	}
}

// Validate checks that every duration is a positive finite number.
func (s Settings) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"pomodoroDuration", s.PomodoroDuration},
		{"shortBreakDuration", s.ShortBreakDuration},
		{"longBreakDuration", s.LongBreakDuration},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%s must be a finite number", f.name)
		}
		if f.value <= 0 {
			return fmt.Errorf("%s must be positive (got %v)", f.name, f.value)
		}
	}
	if s.LastUpdated != "" {
		if _, ok := ParseTimestamp(s.LastUpdated); !ok {
			return fmt.Errorf("lastUpdated is not an ISO-8601 timestamp: %q", s.LastUpdated)
		}
	}
	return nil
}

// SameFields reports whether the five mutable fields are equal.
// LastUpdated is ignored.
func (s Settings) SameFields(o Settings) bool {
	return s.PomodoroDuration == o.PomodoroDuration &&
		s.ShortBreakDuration == o.ShortBreakDuration &&
		s.LongBreakDuration == o.LongBreakDuration &&
		s.AutoStartBreak == o.AutoStartBreak &&
		s.AutoStartPomodoro == o.AutoStartPomodoro
}

// Stamped returns a copy with LastUpdated set to t.
func (s Settings) Stamped(t time.Time) Settings {
	s.LastUpdated = FormatTimestamp(t)
	return s
}

// UpdatedAt parses LastUpdated. ok is false when it is unset or malformed.
func (s Settings) UpdatedAt() (time.Time, bool) {
	if s.LastUpdated == "" {
		return time.Time{}, false
	}
	return ParseTimestamp(s.LastUpdated)
}

// Pomodoro returns the focus interval as a time.Duration.
func (s Settings) Pomodoro() time.Duration { return Minutes(s.PomodoroDuration) }

// ShortBreak returns the short break interval as a time.Duration.
func (s Settings) ShortBreak() time.Duration { return Minutes(s.ShortBreakDuration) }

// LongBreak returns the long break interval as a time.Duration.
func (s Settings) LongBreak() time.Duration { return Minutes(s.LongBreakDuration) }

// Minutes converts a stored minute value to a duration. Fractions below one
// minute become sub-minute durations, rounded to the second.
func Minutes(v float64) time.Duration {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	d := time.Duration(v * float64(time.Minute))
	if v < 1 {
		return d.Round(time.Second)
	}
	return d
}

// Patch returns a patch that sets every mutable field to the values in s.
func (s Settings) Patch() SettingsPatch {
	p := SettingsPatch{
		PomodoroDuration:   &s.PomodoroDuration,
		ShortBreakDuration: &s.ShortBreakDuration,
		LongBreakDuration:  &s.LongBreakDuration,
		AutoStartBreak:     &s.AutoStartBreak,
		AutoStartPomodoro:  &s.AutoStartPomodoro,
	}
	if s.LastUpdated != "" {
		p.LastUpdated = &s.LastUpdated
	}
	return p
}

// SettingsPatch is a partial settings update. Nil fields are left as they are.
type SettingsPatch struct {
	PomodoroDuration   *float64 `json:"pomodoroDuration,omitempty"`
	ShortBreakDuration *float64 `json:"shortBreakDuration,omitempty"`
	LongBreakDuration  *float64 `json:"longBreakDuration,omitempty"`
	AutoStartBreak     *bool    `json:"autoStartBreak,omitempty"`
	AutoStartPomodoro  *bool    `json:"autoStartPomodoro,omitempty"`
	LastUpdated        *string  `json:"lastUpdated,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p SettingsPatch) IsEmpty() bool {
	return p.PomodoroDuration == nil && p.ShortBreakDuration == nil &&
		p.LongBreakDuration == nil && p.AutoStartBreak == nil &&
		p.AutoStartPomodoro == nil && p.LastUpdated == nil
}

// Apply returns s with the patch applied. The result is validated.
func (p SettingsPatch) Apply(s Settings) (Settings, error) {
	if p.PomodoroDuration != nil {
		s.PomodoroDuration = *p.PomodoroDuration
	}
	if p.ShortBreakDuration != nil {
		s.ShortBreakDuration = *p.ShortBreakDuration
	}
	if p.LongBreakDuration != nil {
		s.LongBreakDuration = *p.LongBreakDuration
	}
	if p.AutoStartBreak != nil {
		s.AutoStartBreak = *p.AutoStartBreak
	}
	if p.AutoStartPomodoro != nil {
		s.AutoStartPomodoro = *p.AutoStartPomodoro
	}
	if p.LastUpdated != nil {
		s.LastUpdated = *p.LastUpdated
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
