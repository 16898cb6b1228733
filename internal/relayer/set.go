package relayer

import (
	"errors"
	"sort"
)

// MaxRelayers bounds the whitelist size.
const MaxRelayers = 5

var (
	ErrTooManyRelayers           = errors.New("relayer: whitelist full")
	ErrInvalidRequiredSignatures = errors.New("relayer: required signatures out of range")
	ErrUnknownRelayer            = errors.New("relayer: not in whitelist")
	ErrDuplicateRelayer          = errors.New("relayer: already in whitelist")
)

// Status marks a whitelist entry. Removed relayers are kept as Inactive
// so historical attestations remain attributable.
type Status uint8

const (
	StatusInactive Status = iota
	StatusActive
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusInactive:
		return "Inactive"
	default:
		return "Unknown"
	}
}

// Set is the relayer whitelist with its quorum threshold. Not safe for
// concurrent use; the core serializes all access.
type Set struct {
	members  map[string]Status
	required uint8
}

// NewSet builds a whitelist from the initial active relayers.
func NewSet(relayers []string, required uint8) (*Set, error) {
	if len(relayers) == 0 || len(relayers) > MaxRelayers {
		return nil, ErrTooManyRelayers
	}
	members := make(map[string]Status, len(relayers))
	for _, r := range relayers {
		if _, dup := members[r]; dup {
			return nil, ErrDuplicateRelayer
		}
		members[r] = StatusActive
	}
	if required == 0 || int(required) > len(members) {
		return nil, ErrInvalidRequiredSignatures
	}
	return &Set{members: members, required: required}, nil
}

// IsAuthorized reports whether the identity is an active relayer.
func (s *Set) IsAuthorized(relayer string) bool {
	return s.members[relayer] == StatusActive
}

// Required returns the quorum threshold.
func (s *Set) Required() uint8 { return s.required }

// HasQuorum reports whether count attestations meet the threshold.
func (s *Set) HasQuorum(count int) bool {
	return count >= int(s.required)
}

// ActiveCount returns the number of active relayers.
func (s *Set) ActiveCount() int {
	n := 0
	for _, st := range s.members {
		if st == StatusActive {
			n++
		}
	}
	return n
}

// Add activates a relayer identity, reusing an inactive slot if the
// identity was previously removed.
func (s *Set) Add(relayer string) error {
	if s.members[relayer] == StatusActive {
		return ErrDuplicateRelayer
	}
	if s.ActiveCount() >= MaxRelayers {
		return ErrTooManyRelayers
	}
	s.members[relayer] = StatusActive
	return nil
}

// Remove deactivates a relayer. The quorum threshold must remain
// satisfiable by the relayers left active.
func (s *Set) Remove(relayer string) error {
	if s.members[relayer] != StatusActive {
		return ErrUnknownRelayer
	}
	if s.ActiveCount()-1 < int(s.required) {
		return ErrInvalidRequiredSignatures
	}
	s.members[relayer] = StatusInactive
	return nil
}

// SetRequired changes the quorum threshold.
func (s *Set) SetRequired(required uint8) error {
	if required == 0 || int(required) > s.ActiveCount() {
		return ErrInvalidRequiredSignatures
	}
	s.required = required
	return nil
}

// Active returns the active relayer identities in sorted order so
// callers iterate deterministically.
func (s *Set) Active() []string {
	out := make([]string, 0, len(s.members))
	for r, st := range s.members {
		if st == StatusActive {
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot captures the full whitelist including inactive entries.
func (s *Set) Snapshot() (map[string]Status, uint8) {
	out := make(map[string]Status, len(s.members))
	for r, st := range s.members {
		out[r] = st
	}
	return out, s.required
}

// Restore rebuilds a Set from snapshot data without validation.
// Snapshots were validated when the mutations were first applied.
func Restore(members map[string]Status, required uint8) *Set {
	m := make(map[string]Status, len(members))
	for r, st := range members {
		m[r] = st
	}
	return &Set{members: m, required: required}
}
