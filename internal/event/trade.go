package event

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Side represents position direction
type Side int32

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "Long"
	case SideShort:
		return "Short"
	default:
		return "Flat"
	}
}

// Sign returns +1 for long, -1 for short, 0 for flat.
func (s Side) Sign() int64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// Opposite returns the other trading side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return SideFlat
	}
}

// TradeKind discriminates entries in a trade batch
type TradeKind uint8

const (
	TradeKindOpen TradeKind = iota
	TradeKindClose
)

func (k TradeKind) String() string {
	if k == TradeKindClose {
		return "Close"
	}
	return "Open"
}

// TradeData is a single entry in an authorized trade batch.
// Leverage is only meaningful for opens; Size of zero on a close means
// "close the whole position".
type TradeData struct {
	User        uuid.UUID
	MarketIndex uint8
	Kind        TradeKind
	TradeSide   Side
	Size        int64 // e6
	Price       int64 // e6
	Leverage    uint8
}

// CanonicalBytes returns the deterministic wire encoding used for the
// batch content hash. Field order and widths are fixed; integers are
// little-endian.
func (t TradeData) CanonicalBytes() []byte {
	buf := make([]byte, 0, 16+1+1+1+8+8+1)
	buf = append(buf, t.User[:]...)
	buf = append(buf, t.MarketIndex)
	buf = append(buf, byte(t.Kind))
	buf = append(buf, byte(t.TradeSide))
	buf = appendInt64LE(buf, t.Size)
	buf = appendInt64LE(buf, t.Price)
	buf = append(buf, t.Leverage)
	return buf
}

// EncodeTrades concatenates the canonical encoding of each trade in list
// order. This is the payload bound by the batch content hash.
func EncodeTrades(trades []TradeData) []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(trades)))
	for _, t := range trades {
		buf = append(buf, t.CanonicalBytes()...)
	}
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(buf, uint64(v))
}
