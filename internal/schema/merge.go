package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotState tracks one of the two merge decisions.
type SlotState string

const (
	// SlotNone means the slot was never opened: no divergence was found.
	SlotNone SlotState = "none"
	// SlotOpen means a decision is outstanding.
	SlotOpen SlotState = "open"
	// SlotResolved means the operator merged, skipped or replaced.
	SlotResolved SlotState = "resolved"
)

// MergeState is stored under the merge-pending key while a merge decision
// is outstanding.
type MergeState struct {
	// ID identifies one merge generation. A sync-down that completes a
	// merge only clears the flag if the generation still matches.
	ID        string    `json:"id"`
	StartedAt string    `json:"startedAt"`
	Settings  SlotState `json:"settings"`
	Entries   SlotState `json:"entries"`

	// Discarded lists the canonical timestamps of local-only entries the
	// operator chose to skip. Completing the merge drops exactly these;
	// other unsynced local entries survive it.
	Discarded []string `json:"discarded,omitempty"`
}

// NewMergeState starts a merge generation with both slots undecided.
// Detection narrows them to open or none.
func NewMergeState(now time.Time) MergeState {
	return MergeState{
		ID:        uuid.NewString(),
		StartedAt: FormatTimestamp(now),
		Settings:  SlotOpen,
		Entries:   SlotOpen,
	}
}

// Validate checks the stored state.
func (m MergeState) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	for name, s := range map[string]SlotState{"settings": m.Settings, "entries": m.Entries} {
		switch s {
		case SlotNone, SlotOpen, SlotResolved:
		default:
			return fmt.Errorf("%s slot has unknown state %q", name, s)
		}
	}
	return nil
}

// Done reports whether no decision is outstanding.
func (m MergeState) Done() bool {
	return m.Settings != SlotOpen && m.Entries != SlotOpen
}
