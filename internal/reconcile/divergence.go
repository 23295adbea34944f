package reconcile

import (
	"github.com/pomosync/pomosync/internal/schema"
)

// Relation classifies how a local copy relates to the account copy.
type Relation int

const (
	// Equal means there is nothing to reconcile.
	Equal Relation = iota
	// LocalAhead means only the local copy has changes.
	LocalAhead
	// RemoteAhead means only the account copy has changes.
	RemoteAhead
	// Diverged means both sides changed, or which side is newer is unknown.
	Diverged
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case LocalAhead:
		return "local-ahead"
	case RemoteAhead:
		return "remote-ahead"
	case Diverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// CompareSettings reports whether any of the five mutable fields differ.
// lastUpdated is not compared.
func CompareSettings(local, remote schema.Settings) bool {
	return !local.SameFields(remote)
}

// ClassifySettings relates two settings records using their lastUpdated
// stamps. The side with the strictly newer stamp is ahead; when either
// stamp is missing or both are equal the records are Diverged.
func ClassifySettings(local, remote schema.Settings) Relation {
	if !CompareSettings(local, remote) {
		return Equal
	}
	lt, lok := local.UpdatedAt()
	rt, rok := remote.UpdatedAt()
	switch {
	case !lok || !rok:
		return Diverged
	case lt.After(rt):
		return LocalAhead
	case rt.After(lt):
		return RemoteAhead
	default:
		return Diverged
	}
}

// EntryDiff is the result of comparing two session logs.
type EntryDiff struct {
	// UniqueToLocal holds the local entries whose canonical timestamp the
	// account does not have, in local order, each timestamp at most once.
	UniqueToLocal []schema.Entry

	// UniqueToRemote counts the account entries missing locally.
	UniqueToRemote int

	LocalCount  int
	RemoteCount int
}

// Relation classifies the diff.
func (d EntryDiff) Relation() Relation {
	local := len(d.UniqueToLocal) > 0
	remote := d.UniqueToRemote > 0
	switch {
	case local && remote:
		return Diverged
	case local:
		return LocalAhead
	case remote:
		return RemoteAhead
	default:
		return Equal
	}
}

// CompareEntries finds the local entries the account lacks. Identity is the
// canonical timestamp, not the server id. Malformed entries on either side
// are dropped before comparing and are not counted.
func CompareEntries(local, remote []schema.Entry) EntryDiff {
	local = schema.ValidEntries(local)
	remote = schema.ValidEntries(remote)

	remoteKeys := make(map[string]bool, len(remote))
	for _, e := range remote {
		remoteKeys[e.Key()] = true
	}

	diff := EntryDiff{
		UniqueToLocal: []schema.Entry{},
		LocalCount:    len(local),
		RemoteCount:   len(remote),
	}

	localKeys := make(map[string]bool, len(local))
	for _, e := range local {
		key := e.Key()
		if !remoteKeys[key] && !localKeys[key] {
			diff.UniqueToLocal = append(diff.UniqueToLocal, e)
		}
		localKeys[key] = true
	}

	for key := range remoteKeys {
		if !localKeys[key] {
			diff.UniqueToRemote++
		}
	}

	return diff
}

// Divergence is the full comparison of a local image and an account
// snapshot.
type Divergence struct {
	Settings       Relation
	SettingsDiffer bool
	Entries        EntryDiff
}

// Needed reports whether a merge decision should be opened: settings differ
// or the local copy has entries the account lacks. Entries only the account
// has are picked up by the sync-down and need no decision.
func (d Divergence) Needed() bool {
	return d.SettingsDiffer || len(d.Entries.UniqueToLocal) > 0
}

// Detect compares the local settings and entries against the account's.
func Detect(localSettings schema.Settings, localEntries []schema.Entry, remoteSettings schema.Settings, remoteEntries []schema.Entry) Divergence {
	return Divergence{
		Settings:       ClassifySettings(localSettings, remoteSettings),
		SettingsDiffer: CompareSettings(localSettings, remoteSettings),
		Entries:        CompareEntries(localEntries, remoteEntries),
	}
}
