// Package reconcile decides what to do when the local copy and the account
// copy disagree.
//
// The divergence functions are pure comparisons of two snapshots. The
// Coordinator runs the merge state machine:
//
//	Idle ──Begin──▶ PendingDecision ──Resolve*──▶ Resolving ──▶ PendingDecision | Idle
//
// While a merge generation is in progress the local store holds its
// MergeState under the merge-pending key. No sync-down overwrites the local
// copy while that key is present; the key is removed, together with a final
// sync-down, only after every opened slot is resolved.
package reconcile
