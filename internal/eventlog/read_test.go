package eventlog

import (
	"context"
	"fmt"
	"testing"
)

// seedLog appends n booking payloads numbered from 1.
func seedLog(t *testing.T, n int) *Log {
	t.Helper()
	_, l := newTestLog(t)
	recs := make([]AppendRecord, n)
	for i := range recs {
		recs[i] = AppendRecord{Payload: []byte(fmt.Sprintf(`{"bookingId":"%d"}`, i+1))}
	}
	if _, err := l.Append(context.Background(), recs); err != nil {
		t.Fatalf("append: %v", err)
	}
	return l
}

func seqsOf(items []Item) []uint64 {
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.Seq
	}
	return out
}

func TestRead(t *testing.T) {
	tests := []struct {
		name     string
		opts     ReadOptions
		wantSeqs string
		wantNext uint64
	}{
		{name: "from start", opts: ReadOptions{Limit: 3}, wantSeqs: "[1 2 3]", wantNext: 4},
		{name: "from token", opts: ReadOptions{Start: TokenFromSeq(4), Limit: 3}, wantSeqs: "[4 5]", wantNext: 0},
		{name: "unbounded", opts: ReadOptions{}, wantSeqs: "[1 2 3 4 5]", wantNext: 0},
		{name: "newest first", opts: ReadOptions{Reverse: true, Limit: 2}, wantSeqs: "[5 4]", wantNext: 3},
		{name: "reverse from token", opts: ReadOptions{Reverse: true, Start: TokenFromSeq(3)}, wantSeqs: "[2 1]", wantNext: 0},
		{name: "past the end", opts: ReadOptions{Start: TokenFromSeq(9)}, wantSeqs: "[]", wantNext: 0},
	}
	l := seedLog(t, 5)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, next := l.Read(tt.opts)
			if got := fmt.Sprint(seqsOf(items)); got != tt.wantSeqs {
				t.Fatalf("seqs %s, want %s", got, tt.wantSeqs)
			}
			if next.Seq() != tt.wantNext {
				t.Fatalf("next %d, want %d", next.Seq(), tt.wantNext)
			}
		})
	}
}

func TestReadPagesThroughLog(t *testing.T) {
	l := seedLog(t, 7)
	var all []Item
	opts := ReadOptions{Limit: 3}
	for {
		items, next := l.Read(opts)
		all = append(all, items...)
		if next.Seq() == 0 {
			break
		}
		opts.Start = next
	}
	if len(all) != 7 || string(all[6].Payload) != `{"bookingId":"7"}` {
		t.Fatalf("paged %d items: %+v", len(all), seqsOf(all))
	}
}
