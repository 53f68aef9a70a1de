package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/lodestone/core"
)

// Key prefixes for different data types.
// Collection names never contain ':', so "<prefix>:<name>:" is unambiguous.
const (
	collectionPrefix   = "col"
	recordPrefix       = "rec"
	recordIDSeq        = "recseq"
	watermarkPrefix    = "wm"
	watermarkSeq       = "wmseq"
	snapshotManifest   = "snapm"
	snapshotChunk      = "snapc"
	snapshotChunkBytes = 512 << 10
)

// makeCollectionKey generates a key for a collection config by name.
func makeCollectionKey(name string) []byte {
	return []byte(fmt.Sprintf("%s:%s", collectionPrefix, name))
}

// makeRecordPrefix generates the prefix shared by all records of a collection.
func makeRecordPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s:", recordPrefix, collection))
}

// makeRecordKey generates a key for a record.
// Format: prefix:collection:id with the ID in BigEndian so iteration follows ID order.
func makeRecordKey(collection string, id core.ID) []byte {
	prefix := makeRecordPrefix(collection)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], uint64(id))
	return buf
}

// recordIDFromKey extracts the ID from a record key.
func recordIDFromKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func makeRecordSeqName(collection string) string {
	return fmt.Sprintf("%s:%s", recordIDSeq, collection)
}

func makeWatermarkKey(collection string) []byte {
	return []byte(fmt.Sprintf("%s:%s", watermarkPrefix, collection))
}

func makeWatermarkSeqName(collection string) string {
	return fmt.Sprintf("%s:%s", watermarkSeq, collection)
}

// makeSnapshotManifestKey generates the key of the published manifest for an index kind.
func makeSnapshotManifestKey(collection, kind string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s", snapshotManifest, collection, kind))
}

// makeSnapshotChunkPrefix generates the prefix of all chunks of one snapshot generation.
// Format: prefix:collection:kind:generation
func makeSnapshotChunkPrefix(collection, kind string, generation uint64) []byte {
	prefix := fmt.Sprintf("%s:%s:%s:", snapshotChunk, collection, kind)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[offset:], generation)
	return buf
}

// makeSnapshotChunkKey generates the key of a single chunk.
// Format: prefix:collection:kind:generation:chunk
func makeSnapshotChunkKey(collection, kind string, generation uint64, chunk int) []byte {
	prefix := makeSnapshotChunkPrefix(collection, kind, generation)
	buf := make([]byte, len(prefix)+4)
	offset := copy(buf, prefix)
	binary.BigEndian.PutUint32(buf[offset:], uint32(chunk))
	return buf
}
