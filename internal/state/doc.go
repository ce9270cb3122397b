// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/handoff/internal/types"

// Compile-time interface compliance checks.
var _ types.SnapshotStore = (*SnapshotFile)(nil)
