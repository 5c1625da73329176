package security

import "github.com/oklog/ulid/v2"

// NewEventID returns a lexically sortable identifier for audit events and persisted records
func NewEventID() string {
	return ulid.Make().String()
}
