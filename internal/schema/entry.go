package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 form written for new timestamps:
// UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Entry is one completed work session.
type Entry struct {
	Timestamp        string  `json:"timestamp"`
	PomodoroDuration float64 `json:"pomodoroDuration"`

	// ID is the identity assigned by the account API once the entry has
	// been stored remotely. Local-only entries have none. It plays no part
	// in deduplication.
	ID string `json:"_id,omitempty"`
}

// NewEntry creates an entry for a session completed at t.
func NewEntry(t time.Time, minutes float64) Entry {
	return Entry{
		Timestamp:        FormatTimestamp(t),
		PomodoroDuration: minutes,
	}
}

// Validate checks the basic shape of an entry.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.Timestamp) == "" {
		return fmt.Errorf("timestamp is required")
	}
	if math.IsNaN(e.PomodoroDuration) || math.IsInf(e.PomodoroDuration, 0) {
		return fmt.Errorf("pomodoroDuration must be a finite number")
	}
	return nil
}

// Key returns the deduplication identity of the entry.
func (e Entry) Key() string {
	return CanonicalTimestamp(e.Timestamp)
}

// Synced reports whether the account API has assigned an identity.
func (e Entry) Synced() bool {
	return e.ID != ""
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an RFC 3339 timestamp with optional fractional
// seconds.
func ParseTimestamp(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// CanonicalTimestamp normalizes s so that equal instants compare equal as
// strings. Strings that do not parse are returned unchanged and only match
// themselves.
func CanonicalTimestamp(s string) string {
	t, ok := ParseTimestamp(s)
	if !ok {
		return s
	}
	return FormatTimestamp(t)
}

// wireEntry uses pointers so missing and mistyped fields can be told apart
// from zero values.
type wireEntry struct {
	Timestamp        *string         `json:"timestamp"`
	PomodoroDuration *float64        `json:"pomodoroDuration"`
	ID               json.RawMessage `json:"_id,omitempty"`
}

// ParseEntries decodes a JSON array of entries, dropping any element that
// is not a well-formed entry. dropped counts the discarded elements. An
// error is returned only when data is not a JSON array.
func ParseEntries(data []byte) (entries []Entry, dropped int, err error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("entries are not a JSON array: %w", err)
	}

	entries = make([]Entry, 0, len(raw))
	for _, item := range raw {
		e, ok := parseEntry(item)
		if !ok {
			dropped++
			continue
		}
		entries = append(entries, e)
	}
	return entries, dropped, nil
}

func parseEntry(item json.RawMessage) (Entry, bool) {
	var w wireEntry
	if err := json.Unmarshal(item, &w); err != nil {
		return Entry{}, false
	}
	if w.Timestamp == nil || w.PomodoroDuration == nil {
		return Entry{}, false
	}
	e := Entry{
		Timestamp:        *w.Timestamp,
		PomodoroDuration: *w.PomodoroDuration,
		ID:               rawID(w.ID),
	}
	if e.Validate() != nil {
		return Entry{}, false
	}
	return e, true
}

// rawID accepts string and numeric server identities.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// ValidEntries returns the entries that pass Validate.
func ValidEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Validate() == nil {
			out = append(out, e)
		}
	}
	return out
}

// Unsynced returns the entries without a server identity.
func Unsynced(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if !e.Synced() {
			out = append(out, e)
		}
	}
	return out
}

// TotalMinutes sums the durations of entries.
func TotalMinutes(entries []Entry) float64 {
	var total float64
	for _, e := range entries {
		total += e.PomodoroDuration
	}
	return total
}

// FormatMinutes renders a minute total as "1h 5m" or "45m".
func FormatMinutes(minutes float64) string {
	m := int(math.Round(minutes))
	if h := m / 60; h > 0 {
		return strconv.Itoa(h) + "h " + strconv.Itoa(m%60) + "m"
	}
	return strconv.Itoa(m) + "m"
}
