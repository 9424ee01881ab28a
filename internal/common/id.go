package common

import (
	"github.com/google/uuid"
)

// NewActivityID generates a unique activity entry ID
// Format: act_<uuid>
func NewActivityID() string {
	return "act_" + uuid.New().String()
}

// NewSnapshotID generates a unique pipeline snapshot ID
// Format: snap_<uuid>
func NewSnapshotID() string {
	return "snap_" + uuid.New().String()
}
