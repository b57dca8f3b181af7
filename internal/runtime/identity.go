// Package runtime derives a stable identity for one occupancy of a pane
// by an agent process, and tracks when that occupancy has churned (the
// pane was reused by a different process) so the monitor can tell a
// restarted agent apart from a continuously running one.
package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrStale is returned by ValidateFreshness when the caller's expected
// runtime id no longer matches the pane's current occupancy.
var ErrStale = errors.New("runtime: pane occupancy is stale")

// Occupancy is the minimal prior-cycle state needed to detect pane churn.
type Occupancy struct {
	PaneEpoch int64
	PID       *int64
	EndedAt   *time.Time
}

// Identity describes one occupancy of a pane for hashing purposes.
type Identity struct {
	TargetID  string
	BootID    string
	PaneID    string
	PaneEpoch int64
	AgentKind string
	StartedAt time.Time
}

// DeriveID hashes an Identity into a stable, opaque runtime id.
func DeriveID(id Identity) string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%s|%d",
		id.TargetID, id.BootID, id.PaneID, id.PaneEpoch, id.AgentKind, id.StartedAt.UTC().UnixNano())
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

// ShouldIncrementEpoch reports whether an observed PID/boot id indicates
// the pane has been reoccupied by a different process than prev describes.
func ShouldIncrementEpoch(prev Occupancy, observedPID *int64) bool {
	if prev.EndedAt != nil {
		return true
	}
	if prev.PID != nil && observedPID != nil && *prev.PID != *observedPID {
		return true
	}
	if prev.PID == nil && observedPID != nil {
		return true
	}
	return false
}

// NextEpoch returns the pane epoch to use this cycle, incrementing when
// churn is detected and starting at 1 for a pane seen for the first time.
func NextEpoch(prev *Occupancy, observedPID *int64) int64 {
	if prev == nil {
		return 1
	}
	if ShouldIncrementEpoch(*prev, observedPID) {
		return prev.PaneEpoch + 1
	}
	return prev.PaneEpoch
}

// ValidateFreshness returns ErrStale when expectedRuntimeID is set and
// does not match currentRuntimeID.
func ValidateFreshness(expectedRuntimeID, currentRuntimeID string) error {
	if expectedRuntimeID == "" {
		return nil
	}
	if expectedRuntimeID != currentRuntimeID {
		return fmt.Errorf("%w: expected=%s current=%s", ErrStale, expectedRuntimeID, currentRuntimeID)
	}
	return nil
}
