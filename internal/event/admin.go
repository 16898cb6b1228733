package event

import (
	"time"

	"github.com/google/uuid"
)

// RelayerAction discriminates relayer whitelist mutations
type RelayerAction uint8

const (
	RelayerActionAdd RelayerAction = iota
	RelayerActionRemove
	RelayerActionSetRequired
)

func (a RelayerAction) String() string {
	switch a {
	case RelayerActionAdd:
		return "Add"
	case RelayerActionRemove:
		return "Remove"
	case RelayerActionSetRequired:
		return "SetRequired"
	default:
		return "Unknown"
	}
}

// RelayerUpdate mutates the relayer whitelist or quorum threshold.
// Only the configured admin identity may issue it.
type RelayerUpdate struct {
	RequestID          uuid.UUID // Idempotency key
	Action             RelayerAction
	Relayer            string // For Add/Remove
	RequiredSignatures uint8  // For SetRequired
	Admin              string
	AdminSeq           int64
	Timestamp          time.Time
}

func (r *RelayerUpdate) IdempotencyKey() string { return r.RequestID.String() }
func (r *RelayerUpdate) EventType() EventType   { return EventTypeRelayerUpdate }
func (r *RelayerUpdate) MarketIndex() *uint8    { return nil }
func (r *RelayerUpdate) SourceSequence() int64  { return r.AdminSeq }

// PauseSet pauses or resumes all mutating ledger operations.
type PauseSet struct {
	RequestID uuid.UUID // Idempotency key
	Paused    bool
	Admin     string
	AdminSeq  int64
	Timestamp time.Time
}

func (p *PauseSet) IdempotencyKey() string { return p.RequestID.String() }
func (p *PauseSet) EventType() EventType   { return EventTypePauseSet }
func (p *PauseSet) MarketIndex() *uint8    { return nil }
func (p *PauseSet) SourceSequence() int64  { return p.AdminSeq }

// AdminUpdate transfers the admin identity.
type AdminUpdate struct {
	RequestID uuid.UUID // Idempotency key
	NewAdmin  string
	Admin     string
	AdminSeq  int64
	Timestamp time.Time
}

func (a *AdminUpdate) IdempotencyKey() string { return a.RequestID.String() }
func (a *AdminUpdate) EventType() EventType   { return EventTypeAdminUpdate }
func (a *AdminUpdate) MarketIndex() *uint8    { return nil }
func (a *AdminUpdate) SourceSequence() int64  { return a.AdminSeq }
