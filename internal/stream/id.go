package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatID renders the message identifier "<partition>-<seq>".
func FormatID(partition uint32, seq uint64) string {
	return strconv.FormatUint(uint64(partition), 10) + "-" + strconv.FormatUint(seq, 10)
}

// ParseID is the inverse of FormatID.
func ParseID(id string) (uint32, uint64, error) {
	p, s, ok := strings.Cut(id, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	part, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil || seq == 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return uint32(part), seq, nil
}
