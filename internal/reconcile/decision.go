// Package reconcile resolves divergence between local task state and the
// remote calendar.
package reconcile

import "time"

// Decision is the conflict resolution outcome for a remote change against a
// linked local task. Keeping the policy as a single tagged value, computed
// from timestamp comparison alone, keeps it auditable and testable away from
// the reconciliation plumbing.
type Decision int

const (
	// RemoteWins applies the remote fields over the local task.
	RemoteWins Decision = iota
	// LocalWins pushes the local state back to the remote calendar.
	LocalWins
	// Conflict means both sides changed since the last successful sync and
	// the winner must be picked by Resolve.
	Conflict
)

func (d Decision) String() string {
	switch d {
	case RemoteWins:
		return "remote_wins"
	case LocalWins:
		return "local_wins"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Decide classifies a remote change against the local task's modification
// history. lastSync is the last successful sync instant for this user; a
// local task untouched since then simply takes the remote change.
func Decide(localModified, lastSync time.Time) Decision {
	if !localModified.After(lastSync) {
		return RemoteWins
	}
	return Conflict
}

// Resolve collapses a Conflict by last-writer-wins on modification
// timestamps. Equal timestamps resolve to the remote side, a deterministic
// tie-break.
func Resolve(d Decision, localModified, remoteModified time.Time) Decision {
	if d != Conflict {
		return d
	}
	if localModified.After(remoteModified) {
		return LocalWins
	}
	return RemoteWins
}
