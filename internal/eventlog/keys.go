package eventlog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - log/{topic}/{part_be4}/m
// - log/{topic}/{part_be4}/e/{seq_be8}
// - cursor/{topic}/{group}/{part_be4}

var (
	sep        = byte('/')
	logPrefix  = []byte("log/")
	curPrefix  = []byte("cursor/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func partitionPrefix(topic string, partition uint32) []byte {
	k := make([]byte, 0, len(logPrefix)+len(topic)+24)
	k = append(k, logPrefix...)
	k = append(k, topic...)
	k = append(k, sep)
	k = appendBE4(k, partition)
	return k
}

// KeyLogMeta builds the partition metadata key.
func KeyLogMeta(topic string, partition uint32) []byte {
	return append(partitionPrefix(topic, partition), metaSuffix...)
}

// KeyLogEntry builds the entry key with a big-endian sequence for proper ordering.
func KeyLogEntry(topic string, partition uint32, seq uint64) []byte {
	k := append(partitionPrefix(topic, partition), entrySeg...)
	return appendBE8(k, seq)
}

// KeyCursor builds the durable cursor key for a group and partition.
func KeyCursor(topic, group string, partition uint32) []byte {
	k := make([]byte, 0, len(curPrefix)+len(topic)+len(group)+8)
	k = append(k, curPrefix...)
	k = append(k, topic...)
	k = append(k, sep)
	k = append(k, group...)
	k = append(k, sep)
	return appendBE4(k, partition)
}

// seqFromEntryKey extracts the trailing sequence of an entry key.
func seqFromEntryKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
