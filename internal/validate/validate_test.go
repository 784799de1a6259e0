package validate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange(t *testing.T) {
	s, e, err := DateRange("2025-01-01", "2025-01-03")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", s.Format("2006-01-02"))
	assert.Equal(t, "2025-01-03", e.Format("2006-01-02"))

	_, _, err = DateRange("2025-01-01", "2025-01-01")
	assert.NoError(t, err, "single day range is valid")

	_, _, err = DateRange("2025-01-03", "2025-01-01")
	var ve *Error
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "endDate", ve.Field)

	_, _, err = DateRange("", "2025-01-01")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "startDate", ve.Field)

	_, _, err = DateRange("2025-01-01", "01/03/2025")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "endDate", ve.Field)
}

func TestRoomID(t *testing.T) {
	got, err := RoomID("  deluxe-101 ")
	require.NoError(t, err)
	assert.Equal(t, "deluxe-101", got)

	for _, bad := range []string{"", "   ", "a/b"} {
		_, err := RoomID(bad)
		assert.True(t, IsValidation(err), bad)
	}
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", &Error{Field: "x", Reason: "y"})))
	assert.False(t, IsValidation(fmt.Errorf("plain")))
}
