package eventlog

import (
	"encoding/binary"

	"github.com/cockroachdb/pebble"
)

// Token encodes a position as seq (8 bytes big-endian).
type Token [8]byte

// TokenFromSeq builds a Token for seq.
func TokenFromSeq(seq uint64) Token {
	var t Token
	binary.BigEndian.PutUint64(t[:], seq)
	return t
}

func (t Token) Seq() uint64 { return binary.BigEndian.Uint64(t[:]) }

type ReadOptions struct {
	Start   Token // if zero, begin from the first entry
	Limit   int
	Reverse bool
}

type Item struct {
	Seq     uint64
	Header  []byte
	Payload []byte
}

// Read returns up to Limit items starting at Start (inclusive). Reverse scans
// descending. The returned token is the position of the next unread entry, or
// zero when the scan reached the end.
func (l *Log) Read(opts ReadOptions) ([]Item, Token) {
	startSeq := opts.Start.Seq()
	startKey := KeyLogEntry(l.topic, l.part, startSeq)
	low := KeyLogEntry(l.topic, l.part, 0)
	hi := KeyLogEntry(l.topic, l.part, ^uint64(0))

	items := make([]Item, 0, max(1, opts.Limit))
	var next Token
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: append(hi, 0x00)})
	if err != nil {
		return items, next
	}
	defer iter.Close()

	var valid bool
	switch {
	case opts.Reverse && startSeq == 0:
		valid = iter.Last()
	case opts.Reverse:
		valid = iter.SeekLT(startKey)
	case startSeq == 0:
		valid = iter.First()
	default:
		valid = iter.SeekGE(startKey)
	}

	for valid && (opts.Limit == 0 || len(items) < opts.Limit) {
		seq := seqFromEntryKey(iter.Key())
		if dec, err := decodeRecord(iter.Value()); err == nil {
			items = append(items, Item{Seq: seq, Header: dec.Header, Payload: dec.Payload})
		}
		if opts.Reverse {
			valid = iter.Prev()
		} else {
			valid = iter.Next()
		}
	}
	if valid {
		next = TokenFromSeq(seqFromEntryKey(iter.Key()))
	}
	return items, next
}
