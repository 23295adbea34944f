// Package events carries sync state transitions to whoever is interested.
//
// The reconciliation packages publish to a Bus; the CLI, the daemon and the
// websocket Server subscribe. Publishing never blocks: a subscriber whose
// buffer is full misses the event.
package events

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// Type identifies an event.
type Type string

const (
	// TypeAuthenticated is published after a successful login.
	TypeAuthenticated Type = "authenticated"

	// TypeConnectivityChanged is published when the account API becomes
	// reachable or unreachable.
	TypeConnectivityChanged Type = "connectivity_changed"

	// TypeDecisionRequired is published when local and account data
	// diverge and a merge decision is outstanding.
	TypeDecisionRequired Type = "decision_required"

	// TypeMergeResolved is published when every merge decision is resolved
	// and the local copy has been refreshed.
	TypeMergeResolved Type = "merge_resolved"

	// TypeSyncedDown is published when the local copy was replaced by the
	// account's.
	TypeSyncedDown Type = "synced_down"

	// TypeSyncFailed is published when a sync step could not complete.
	TypeSyncFailed Type = "sync_failed"

	// TypeConnected is sent to a websocket client when it connects.
	TypeConnected Type = "connected"
)

// Event is one published transition.
type Event struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ConnectivityData accompanies TypeConnectivityChanged.
type ConnectivityData struct {
	Online bool `json:"online"`
}

// DecisionData accompanies TypeDecisionRequired.
type DecisionData struct {
	MergeID        string `json:"merge_id"`
	Settings       bool   `json:"settings"`
	Entries        bool   `json:"entries"`
	UniqueToLocal  int    `json:"unique_to_local"`
	UniqueToRemote int    `json:"unique_to_remote"`
}

// ResolvedData accompanies TypeMergeResolved.
type ResolvedData struct {
	MergeID string `json:"merge_id"`
	Entries int    `json:"entries"`
}

// SyncedDownData accompanies TypeSyncedDown.
type SyncedDownData struct {
	Entries int `json:"entries"`
}

// FailureData accompanies TypeSyncFailed.
type FailureData struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// New builds an event carrying data as its JSON payload.
func New(t Type, data any) Event {
	e := Event{Type: t, Timestamp: time.Now()}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return e
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Bus fans events out to subscribers. The zero value is not usable; a nil
// *Bus discards everything published to it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	logger *log.Logger
}

// NewBus creates an event bus. If logger is nil, a default logger writing to
// stderr is used.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe returns a channel receiving every event published from now on,
// and a function that ends the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers e to every subscriber with room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Printf("Warning: subscriber %d is full, dropping %s event", id, e.Type)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
