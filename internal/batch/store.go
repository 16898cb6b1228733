package batch

import (
	"sort"
	"time"
)

// Store holds batch authorization records in memory. Batch ids are
// never reused: executed records stay resident and pruned ids move to
// a retired set that Submit consults forever after. Not safe for
// concurrent use; the core serializes access.
type Store struct {
	batches map[uint64]*TradeBatch
	retired map[uint64]struct{}
}

func NewStore() *Store {
	return &Store{
		batches: make(map[uint64]*TradeBatch),
		retired: make(map[uint64]struct{}),
	}
}

// Submit registers a new batch id. Resubmitting an id fails even after
// the original expired and was pruned; expiry does not free the id.
func (s *Store) Submit(id uint64, hash [32]byte, creator string, now time.Time) (*TradeBatch, error) {
	if _, ok := s.batches[id]; ok {
		return nil, ErrAlreadyExists
	}
	if _, ok := s.retired[id]; ok {
		return nil, ErrAlreadyExists
	}
	b := NewTradeBatch(id, hash, creator, now)
	s.batches[id] = b
	return b, nil
}

// Get looks up a batch by id.
func (s *Store) Get(id uint64) (*TradeBatch, error) {
	b, ok := s.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Len returns the number of resident batches.
func (s *Store) Len() int { return len(s.batches) }

// PruneExpired drops unexecuted batches past their TTL and returns the
// pruned ids. Executed batches are kept as the record of authorization;
// pruned ids are retired so they can never be submitted again.
func (s *Store) PruneExpired(now time.Time) []uint64 {
	var pruned []uint64
	for id, b := range s.batches {
		if b.IsExpired(now) {
			delete(s.batches, id)
			s.retired[id] = struct{}{}
			pruned = append(pruned, id)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i] < pruned[j] })
	return pruned
}

// Retired returns the retired ids ordered for snapshots.
func (s *Store) Retired() []uint64 {
	out := make([]uint64, 0, len(s.retired))
	for id := range s.retired {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RestoreRetired reinserts retired ids during snapshot recovery.
func (s *Store) RestoreRetired(ids []uint64) {
	for _, id := range ids {
		s.retired[id] = struct{}{}
	}
}

// All returns resident batches ordered by id for snapshots.
func (s *Store) All() []*TradeBatch {
	out := make([]*TradeBatch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore reinserts a batch during snapshot recovery.
func (s *Store) Restore(b *TradeBatch) {
	s.batches[b.ID] = b
}
