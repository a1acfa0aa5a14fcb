package gentime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	ts := time.Date(2024, 3, 5, 13, 45, 9, 0, time.UTC)
	require.Equal(t, "20240305134509Z", Format(ts))
}

func TestFormatConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 3, 5, 14, 45, 9, 0, loc)
	require.Equal(t, "20240305134509Z", Format(ts))
}

func TestFormatSourceDate(t *testing.T) {
	ts := time.Date(1990, 7, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "1990-07-01 00:00:00.0", FormatSourceDate(ts))
}
