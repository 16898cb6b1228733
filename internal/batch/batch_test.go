package batch_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"BatchLedger/internal/batch"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

func TestComputeBatchHashDeterministic(t *testing.T) {
	data := []byte("payload")
	h1 := batch.ComputeBatchHash(7, 42, data)
	h2 := batch.ComputeBatchHash(7, 42, data)
	if h1 != h2 {
		t.Fatal("same inputs must produce the same hash")
	}
}

func TestComputeBatchHashDomainSeparation(t *testing.T) {
	data := []byte("payload")
	base := batch.ComputeBatchHash(7, 42, data)

	if batch.ComputeBatchHash(8, 42, data) == base {
		t.Fatal("different ledger id must change the hash")
	}
	if batch.ComputeBatchHash(7, 43, data) == base {
		t.Fatal("different batch id must change the hash")
	}
	if batch.ComputeBatchHash(7, 42, []byte("payloae")) == base {
		t.Fatal("different payload must change the hash")
	}
	// The raw hash of the payload must not collide with the prefixed one.
	if batch.ComputeHash(data) == base {
		t.Fatal("domain prefix must separate raw payload hashes")
	}
}

func TestVerifyBatchHash(t *testing.T) {
	data := []byte("trades")
	h := batch.ComputeBatchHash(1, 9, data)
	if !batch.VerifyBatchHash(h, 1, 9, data) {
		t.Fatal("correct hash must verify")
	}
	if batch.VerifyBatchHash(h, 1, 10, data) {
		t.Fatal("wrong batch id must not verify")
	}
	var zero [32]byte
	if batch.VerifyBatchHash(zero, 1, 9, data) {
		t.Fatal("zero hash must not verify")
	}
}

// ---------------------------------------------------------------------------
// Batch lifecycle
// ---------------------------------------------------------------------------

func TestSubmitCreatesImplicitAttestation(t *testing.T) {
	s := batch.NewStore()
	h := batch.ComputeHash([]byte("x"))
	b, err := s.Submit(1, h, "relayer-a", t0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if b.SignatureCount() != 1 {
		t.Fatalf("SignatureCount = %d, want 1", b.SignatureCount())
	}
	if !b.HasAttested("relayer-a") {
		t.Fatal("creator must attest implicitly")
	}
	if got := b.ExpiresAt.Sub(b.CreatedAt); got != batch.TTL {
		t.Fatalf("TTL window = %v, want %v", got, batch.TTL)
	}
}

func TestSubmitDuplicateID(t *testing.T) {
	s := batch.NewStore()
	h := batch.ComputeHash([]byte("x"))
	if _, err := s.Submit(1, h, "relayer-a", t0); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := s.Submit(1, h, "relayer-b", t0); !errors.Is(err, batch.ErrAlreadyExists) {
		t.Fatalf("duplicate Submit: got %v", err)
	}
	// Expiry does not free the id for reuse.
	late := t0.Add(batch.TTL + time.Minute)
	if _, err := s.Submit(1, h, "relayer-b", late); !errors.Is(err, batch.ErrAlreadyExists) {
		t.Fatalf("Submit after expiry: got %v", err)
	}
}

func TestAttestationRules(t *testing.T) {
	b := batch.NewTradeBatch(1, batch.ComputeHash([]byte("x")), "relayer-a", t0)

	if err := b.AddAttestation("relayer-a", t0); !errors.Is(err, batch.ErrDuplicateSignature) {
		t.Fatalf("creator re-attesting: got %v", err)
	}
	if err := b.AddAttestation("relayer-b", t0.Add(time.Second)); err != nil {
		t.Fatalf("AddAttestation: %v", err)
	}
	if err := b.AddAttestation("relayer-b", t0.Add(2*time.Second)); !errors.Is(err, batch.ErrDuplicateSignature) {
		t.Fatalf("double confirm: got %v", err)
	}
	if b.SignatureCount() != 2 {
		t.Fatalf("SignatureCount = %d, want 2", b.SignatureCount())
	}

	late := t0.Add(batch.TTL + time.Second)
	if err := b.AddAttestation("relayer-c", late); !errors.Is(err, batch.ErrExpired) {
		t.Fatalf("attest after TTL: got %v", err)
	}
}

func TestExecutedIsTerminal(t *testing.T) {
	b := batch.NewTradeBatch(1, batch.ComputeHash([]byte("x")), "relayer-a", t0)
	if err := b.MarkExecuted(); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}
	if err := b.MarkExecuted(); !errors.Is(err, batch.ErrAlreadyExecuted) {
		t.Fatalf("second MarkExecuted: got %v", err)
	}
	if err := b.AddAttestation("relayer-b", t0); !errors.Is(err, batch.ErrAlreadyExecuted) {
		t.Fatalf("attest executed batch: got %v", err)
	}
	// Executed batches never expire.
	if b.IsExpired(t0.Add(24 * time.Hour)) {
		t.Fatal("executed batch must not expire")
	}
}

// ---------------------------------------------------------------------------
// Store housekeeping
// ---------------------------------------------------------------------------

func TestPruneExpiredKeepsExecuted(t *testing.T) {
	s := batch.NewStore()
	h := batch.ComputeHash([]byte("x"))
	s.Submit(1, h, "relayer-a", t0)
	b2, _ := s.Submit(2, h, "relayer-a", t0)
	b2.MarkExecuted()

	pruned := s.PruneExpired(t0.Add(batch.TTL + time.Second))
	if len(pruned) != 1 || pruned[0] != 1 {
		t.Fatalf("pruned = %v, want [1]", pruned)
	}
	if _, err := s.Get(1); !errors.Is(err, batch.ErrNotFound) {
		t.Fatalf("pruned batch still resident: %v", err)
	}
	if _, err := s.Get(2); err != nil {
		t.Fatalf("executed batch must survive pruning: %v", err)
	}
}

func TestPrunedIDNeverReused(t *testing.T) {
	s := batch.NewStore()
	h := batch.ComputeHash([]byte("x"))
	if _, err := s.Submit(1, h, "relayer-a", t0); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pruned := s.PruneExpired(t0.Add(batch.TTL + time.Second))
	if len(pruned) != 1 || pruned[0] != 1 {
		t.Fatalf("pruned = %v, want [1]", pruned)
	}

	// The slot is gone but the id stays burned, even with a new hash.
	h2 := batch.ComputeHash([]byte("y"))
	if _, err := s.Submit(1, h2, "relayer-b", t0.Add(2*batch.TTL)); !errors.Is(err, batch.ErrAlreadyExists) {
		t.Fatalf("Submit of pruned id: got %v", err)
	}
	if got := s.Retired(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("Retired = %v, want [1]", got)
	}
}

func TestRestoreRetiredBlocksResubmission(t *testing.T) {
	s := batch.NewStore()
	s.RestoreRetired([]uint64{5, 9})
	h := batch.ComputeHash([]byte("x"))
	if _, err := s.Submit(5, h, "relayer-a", t0); !errors.Is(err, batch.ErrAlreadyExists) {
		t.Fatalf("Submit of restored retired id: got %v", err)
	}
	if _, err := s.Submit(6, h, "relayer-a", t0); err != nil {
		t.Fatalf("Submit of fresh id: %v", err)
	}
}

func TestAllOrderedByID(t *testing.T) {
	s := batch.NewStore()
	h := batch.ComputeHash([]byte("x"))
	for _, id := range []uint64{9, 3, 7} {
		if _, err := s.Submit(id, h, "relayer-a", t0); err != nil {
			t.Fatalf("Submit %d: %v", id, err)
		}
	}
	all := s.All()
	want := []uint64{3, 7, 9}
	for i, b := range all {
		if b.ID != want[i] {
			t.Fatalf("All[%d].ID = %d, want %d", i, b.ID, want[i])
		}
	}
	if !bytes.Equal(all[0].DataHash[:], h[:]) {
		t.Fatal("stored hash mismatch")
	}
}
