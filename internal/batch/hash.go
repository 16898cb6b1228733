package batch

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
)

// DomainPrefix separates batch hashes from any other SHA-256 use of the
// same payload bytes.
const DomainPrefix = "1024_LEDGER_BATCH_V1"

// ComputeHash hashes an already-canonicalized trade payload.
func ComputeHash(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// ComputeBatchHash binds a payload to one ledger and one batch id:
// SHA256(prefix || ledger_id_le || batch_id_le || payload).
func ComputeBatchHash(ledgerID, batchID uint64, data []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(DomainPrefix))
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], ledgerID)
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], batchID)
	h.Write(buf[:])
	h.Write(data)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// VerifyBatchHash compares in constant time. Attested hashes are
// relayer-supplied, so the comparison must not leak a matching prefix
// length through timing.
func VerifyBatchHash(expected [32]byte, ledgerID, batchID uint64, data []byte) bool {
	actual := ComputeBatchHash(ledgerID, batchID, data)
	return subtle.ConstantTimeCompare(expected[:], actual[:]) == 1
}
