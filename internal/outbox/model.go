package outbox

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Status values for an outbox record. Transitions: PENDING -> SENT ->
// ACKNOWLEDGED, or SENT -> PENDING when transport fails and the record is
// handed back for retry.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusSent         Status = "SENT"
	StatusAcknowledged Status = "ACKNOWLEDGED"
)

// Record is a queued change-notification for downstream sync. Position is a
// bigserial that preserves insertion order for the consumer.
type Record struct {
	ID         uuid.UUID
	EntityType string
	EntityKey  string
	Payload    []byte
	Status     Status
	Attempts   int
	Position   int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// namespace for deterministic record ids. Changing it would change every
// derived identifier, so it is fixed for the lifetime of the sync protocol.
var idNamespace = uuid.MustParse("f1c1a3a8-22ce-44a5-9f3f-1be6f2db9f04")

// DeterministicID derives the stable record id for an entity type and
// natural business key. The key string is NFC-normalized before hashing so
// clients producing different Unicode forms of the same key collapse to one
// identifier. The hash is uuid v5 (SHA-1) over "<type>:<key>"; consumers may
// rely on it being stable across process restarts.
func DeterministicID(entityType, naturalKey string) uuid.UUID {
	name := norm.NFC.String(entityType + ":" + naturalKey)
	return uuid.NewSHA1(idNamespace, []byte(name))
}
