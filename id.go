package autotrail

import "github.com/google/uuid"

// newID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for run IDs (minted fresh on every Run transition) and for the
// default control-socket file name in DefaultConfig.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
