package badger

import (
	"encoding/binary"

	"github.com/poiesic/riskdedup/core"
)

// Key prefixes for different data types. IDs are written big-endian so
// lexicographic key order matches numeric ID order.
const (
	recordPrefix        = "rec:"
	recordKindPrefix    = "reck:"
	recordPendingPrefix = "recp:"
	recordIDSeq         = "recseq"
)

// makeRecordKey generates the primary key for a record.
// Format: prefix:id
func makeRecordKey(id core.ID) []byte {
	buf := make([]byte, len(recordPrefix)+8)
	offset := copy(buf, recordPrefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// makeKindPrefix generates the iteration prefix for an index scoped to one kind.
// Format: prefix:kind
func makeKindPrefix(prefix string, kind core.RecordKind) []byte {
	buf := make([]byte, len(prefix)+1)
	offset := copy(buf, prefix)
	buf[offset] = byte(kind)
	return buf
}

// makeIndexKey generates a composite key for the kind and pending indices.
// Format: prefix:kind:id
func makeIndexKey(prefix string, kind core.RecordKind, id core.ID) []byte {
	buf := make([]byte, len(prefix)+1+8)
	offset := copy(buf, prefix)
	buf[offset] = byte(kind)
	binary.BigEndian.PutUint64(buf[offset+1:], uint64(id))
	return buf
}

// idFromIndexKey extracts the trailing record ID from an index key.
func idFromIndexKey(key []byte) core.ID {
	if len(key) < 8 {
		return 0
	}
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}
