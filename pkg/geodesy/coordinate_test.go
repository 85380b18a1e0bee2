package geodesy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapLongitude(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int32
	}{
		{"already in range", 10 * degScale, 10 * degScale},
		{"exactly 180", int64(180) * degScale, -int64(180) * degScale},
		{"just over 180", int64(180)*degScale + 1, -int64(180)*degScale + 1},
		{"just under -180", -int64(180)*degScale - 1, int64(180)*degScale - 1},
		{"many turns positive", 5*fullTurn + 10, 10},
		{"many turns negative", -5*fullTurn - 10, -10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapLongitude(tt.in)
			assert.GreaterOrEqual(t, int64(got), -halfTurn)
			assert.Less(t, int64(got), halfTurn)
			assert.Equal(t, int64(0), ((int64(got)-tt.in)%fullTurn+fullTurn)%fullTurn)
		})
	}
}

func TestLimitLatitude(t *testing.T) {
	assert.Equal(t, int32(90*degScale), LimitLatitude(int32(90*degScale)))
	assert.Equal(t, int32(80*degScale), LimitLatitude(int32(100*degScale)))
	assert.Equal(t, int32(-80*degScale), LimitLatitude(int32(-100*degScale)))
}

func TestDiffLongitude(t *testing.T) {
	assert.Equal(t, int32(10*degScale), DiffLongitude(int32(0), int32(10*degScale)))

	// Crossing the antimeridian: 179.9999 -> -179.9999 should be a small positive step.
	a := int32(179.9999 * degScale)
	b := int32(-179.9999 * degScale)
	d := DiffLongitude(a, b)
	assert.InDelta(t, 0.0002, float64(d)/degScale, 1e-6)
}

func TestOffsetRoundTrip(t *testing.T) {
	lats := []float64{-80, -45, -10, 0, 10, 45, 80}
	lons := []float64{-179, -90, 0, 90, 179}

	for _, lat := range lats {
		for _, lon := range lons {
			c := FromDegrees(lat, lon)
			for _, d := range []float64{0, 100, 1000, 100000} {
				out := Offset(Offset(c, d, 0), -d, 0)
				nlat, _ := out.Degrees()
				olat, _ := c.Degrees()
				assert.InDelta(t, olat, nlat, 1e-5, "north round trip at (%v,%v) d=%v", lat, lon, d)

				out2 := Offset(Offset(c, 0, d), 0, -d)
				_, nlon := out2.Degrees()
				_, olon := c.Degrees()
				// Near the poles east offsets of large magnitude wrap unpredictably; skip there.
				if math.Abs(lat) < 80 {
					assert.InDelta(t, olon, nlon, 1e-3, "east round trip at (%v,%v) d=%v", lat, lon, d)
				}
			}
		}
	}
}

func TestWrapAroundAntimeridian(t *testing.T) {
	c := FromDegrees(0, 179.9999)
	out := Offset(c, 0, 200)
	_, lon := out.Degrees()
	require.Less(t, lon, 0.0)
}

func TestLongitudeScale(t *testing.T) {
	assert.InDelta(t, 1.0, LongitudeScale(0), 1e-6)
	assert.Less(t, LongitudeScale(int32(60*degScale)), 1.0)
	assert.GreaterOrEqual(t, LongitudeScale(int32(90*degScale)), minLngScl)
}
