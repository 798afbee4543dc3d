package timestamp

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructExample(t *testing.T) {
	start, err := Parse("2026-02-06T00:56:43.185+05:30")
	require.NoError(t, err)

	got := Reconstruct(start, 5000, 12.340, start.Location())
	assert.Equal(t, "2026-02-06T00:57:00.525+05:30", got)
}

func TestAbsoluteIsDeterministic(t *testing.T) {
	loc := time.FixedZone("", 5*3600+30*60)
	start := time.Date(2026, 2, 5, 19, 26, 43, 185_000_000, time.UTC)

	a := Absolute(start, 5000, 12.340, loc)
	b := Absolute(start, 5000, 12.340, loc)
	assert.True(t, a.Equal(b))
	assert.Equal(t, "2026-02-06T00:57:00.525+05:30", Format(a))
}

func TestAbsoluteRoundsToMillisecond(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		seg  float64
		want string
	}{
		{"exact", 1.5, "2026-01-01T00:00:01.500+00:00"},
		{"round down", 0.0004, "2026-01-01T00:00:00.000+00:00"},
		{"round up", 0.0006, "2026-01-01T00:00:00.001+00:00"},
		{"float noise", 0.1 + 0.2, "2026-01-01T00:00:00.300+00:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Reconstruct(start, 0, tc.seg, time.UTC))
		})
	}
}

func TestAbsoluteConvertsZone(t *testing.T) {
	start := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	assert.Equal(t, "2026-02-05T19:00:01.000-05:00", Reconstruct(start, 1000, 0, ny))
	assert.Equal(t, "2026-02-06T00:00:01.000+00:00", Reconstruct(start, 1000, 0, nil))
}

func TestParse(t *testing.T) {
	_, err := Parse("2026-02-06T00:56:43Z")
	assert.NoError(t, err)

	_, err = Parse("yesterday")
	assert.Error(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(1500), OffsetMs(start, start.Add(1500*time.Millisecond)))
}
