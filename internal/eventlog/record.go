package eventlog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Stored entries are framed as
//
//	version(1) | uvarint(len(header)) | header | payload | crc32c(version..payload)
//
// The header carries stream metadata such as the publish time; the payload is
// opaque to the log.
const recordVersion = 1

var (
	errShortRecord   = errors.New("eventlog: record too short")
	errRecordVersion = errors.New("eventlog: unknown record version")
	errRecordCRC     = errors.New("eventlog: record checksum mismatch")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Record is one decoded log entry body.
type Record struct {
	Header  []byte
	Payload []byte
}

func encodeRecord(header, payload []byte) []byte {
	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = append(out, recordVersion)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
}

// decodeRecord validates the frame and copies header and payload out of b,
// which may be owned by a Pebble iterator.
func decodeRecord(b []byte) (Record, error) {
	if len(b) < 1+1+4 {
		return Record{}, errShortRecord
	}
	body, sum := b[:len(b)-4], binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(body, castagnoli) != sum {
		return Record{}, errRecordCRC
	}
	if body[0] != recordVersion {
		return Record{}, errRecordVersion
	}
	hlen, n := binary.Uvarint(body[1:])
	if n <= 0 || uint64(len(body)-1-n) < hlen {
		return Record{}, errShortRecord
	}
	start := 1 + n
	end := start + int(hlen)
	return Record{
		Header:  append([]byte(nil), body[start:end]...),
		Payload: append([]byte(nil), body[end:]...),
	}, nil
}
