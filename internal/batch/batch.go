package batch

import (
	"errors"
	"time"
)

// TTL is how long a submitted batch stays confirmable and executable.
const TTL = 60 * time.Second

var (
	ErrAlreadyExists      = errors.New("batch: id already submitted")
	ErrNotFound           = errors.New("batch: not found")
	ErrExpired            = errors.New("batch: expired")
	ErrAlreadyExecuted    = errors.New("batch: already executed")
	ErrDuplicateSignature = errors.New("batch: relayer already attested")
	ErrHashMismatch       = errors.New("batch: data hash mismatch")
)

// Attestation records one relayer vouching for a batch hash.
type Attestation struct {
	Relayer  string
	SignedAt time.Time
}

// TradeBatch is a pending or executed authorization record. The
// submitting relayer's attestation is counted like any other.
type TradeBatch struct {
	ID           uint64
	DataHash     [32]byte
	Attestations []Attestation
	Executed     bool
	Creator      string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// NewTradeBatch records a submission. The creator attests implicitly.
func NewTradeBatch(id uint64, hash [32]byte, creator string, now time.Time) *TradeBatch {
	return &TradeBatch{
		ID:           id,
		DataHash:     hash,
		Attestations: []Attestation{{Relayer: creator, SignedAt: now}},
		Creator:      creator,
		CreatedAt:    now,
		ExpiresAt:    now.Add(TTL),
	}
}

// HasAttested reports whether the relayer already signed this batch.
func (b *TradeBatch) HasAttested(relayer string) bool {
	for _, a := range b.Attestations {
		if a.Relayer == relayer {
			return true
		}
	}
	return false
}

// AddAttestation appends one relayer signature. Each relayer counts
// once regardless of how many times it confirms.
func (b *TradeBatch) AddAttestation(relayer string, now time.Time) error {
	if b.Executed {
		return ErrAlreadyExecuted
	}
	if b.IsExpired(now) {
		return ErrExpired
	}
	if b.HasAttested(relayer) {
		return ErrDuplicateSignature
	}
	b.Attestations = append(b.Attestations, Attestation{Relayer: relayer, SignedAt: now})
	return nil
}

// SignatureCount returns the number of distinct attestations.
func (b *TradeBatch) SignatureCount() int { return len(b.Attestations) }

// IsExpired reports whether the batch is past its TTL. Executed batches
// never expire; the executed flag is terminal.
func (b *TradeBatch) IsExpired(now time.Time) bool {
	return !b.Executed && now.After(b.ExpiresAt)
}

// MarkExecuted makes the batch terminal.
func (b *TradeBatch) MarkExecuted() error {
	if b.Executed {
		return ErrAlreadyExecuted
	}
	b.Executed = true
	return nil
}
