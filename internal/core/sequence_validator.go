package core

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfOrder means a source sequence arrived below the expected
	// value without being a known duplicate.
	ErrOutOfOrder = errors.New("core: source sequence out of order")

	// ErrSequenceGap means a source sequence skipped ahead of the
	// expected value.
	ErrSequenceGap = errors.New("core: source sequence gap")
)

// SequenceMetrics counts ordering anomalies per partition.
type SequenceMetrics struct {
	Gaps       map[string]int64
	OutOfOrder map[string]int64
	PriceGaps  map[string]int64
}

// SequenceValidator enforces contiguous source sequences per partition.
// A partition is one upstream ordering domain: one relayer, one risk
// caller, the admin stream, or one market's price feed. Price feeds are
// the exception; they are latest-wins, so gaps are tolerated and stale
// updates are skipped rather than rejected.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
	metrics         SequenceMetrics
}

// NewSequenceValidator starts every partition at sequence 1.
func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics: SequenceMetrics{
			Gaps:       make(map[string]int64),
			OutOfOrder: make(map[string]int64),
			PriceGaps:  make(map[string]int64),
		},
	}
}

func (v *SequenceValidator) expected(partition string) int64 {
	if seq, ok := v.expectedNextSeq[partition]; ok {
		return seq
	}
	return 1
}

// ValidateSequence checks one source sequence against its partition and
// advances the expectation when it matches. isDuplicate lets a replayed
// event below the watermark pass so the dedup layer can drop it.
func (v *SequenceValidator) ValidateSequence(partition string, srcSeq int64, isDuplicate bool) error {
	want := v.expected(partition)
	switch {
	case srcSeq < want:
		if isDuplicate {
			return nil
		}
		v.metrics.OutOfOrder[partition]++
		return fmt.Errorf("%w: partition %s got %d want %d", ErrOutOfOrder, partition, srcSeq, want)
	case srcSeq > want:
		v.metrics.Gaps[partition]++
		return fmt.Errorf("%w: partition %s got %d want %d", ErrSequenceGap, partition, srcSeq, want)
	default:
		v.expectedNextSeq[partition] = want + 1
		return nil
	}
}

// ValidatePriceSequence reports whether a price update should apply.
// Stale sequences return false; gaps advance the watermark and count.
func (v *SequenceValidator) ValidatePriceSequence(partition string, srcSeq int64) bool {
	want := v.expected(partition)
	if srcSeq < want {
		return false
	}
	if srcSeq > want {
		v.metrics.PriceGaps[partition]++
	}
	v.expectedNextSeq[partition] = srcSeq + 1
	return true
}

// GetExpectedSequence returns the next sequence a partition will accept.
func (v *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return v.expected(partition)
}

// SetExpectedSequence overrides a partition watermark, used on restore.
func (v *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	v.expectedNextSeq[partition] = seq
}

// Partitions returns a copy of all watermarks for snapshotting.
func (v *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(v.expectedNextSeq))
	for k, s := range v.expectedNextSeq {
		out[k] = s
	}
	return out
}

// Metrics exposes the anomaly counters.
func (v *SequenceValidator) Metrics() *SequenceMetrics {
	return &v.metrics
}
