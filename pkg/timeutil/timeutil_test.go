package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateOf_UsesUTC(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	// 02:00 in Almaty on March 11 is still March 10 in UTC.
	local := time.Date(2024, 3, 11, 2, 0, 0, 0, almaty)

	assert.Equal(t, Date(2024, 3, 10), DateOf(local))
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	b := time.Date(2024, 3, 11, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysBetween(a, b))
	assert.Equal(t, -1, DaysBetween(b, a))
	assert.Equal(t, 0, DaysBetween(a, a.Add(-time.Hour)))
	assert.Equal(t, 366, DaysBetween(Date(2024, 1, 1), Date(2025, 1, 1)))
}

func TestStartOfWeek(t *testing.T) {
	// 2024-03-10 is a Sunday.
	assert.Equal(t, Date(2024, 3, 4), StartOfWeek(time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t, Date(2024, 3, 11), StartOfWeek(Date(2024, 3, 11)))
}

func TestFormatParseDate(t *testing.T) {
	d, err := ParseDate("2024-03-10")
	require.NoError(t, err)
	assert.Equal(t, Date(2024, 3, 10), d)
	assert.Equal(t, "2024-03-10", FormatDate(d))
	assert.Equal(t, "", FormatDate(time.Time{}))
}
