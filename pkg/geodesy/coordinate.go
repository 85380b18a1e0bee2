// Package geodesy implements fixed-point latitude/longitude arithmetic
// compatible with the offline terrain file format: coordinates are stored
// as signed 32-bit integers in units of 1e-7 degrees, and all offset and
// distance math mirrors the scaling the files were generated with.
package geodesy

import "math"

// scaleFactor is meters per 1e-7 degree of latitude (10^-7 * pi/180 * 6378137 m,
// the WGS-84 equatorial radius; earthRadiusM is not used to derive it).
const (
	scaleFactor    = 0.011131884502145034
	scaleFactorInv = 1.0 / scaleFactor
	earthRadiusM   = 6371000.0

	degScale  = 1e7
	fullTurn  = int64(360) * degScale
	halfTurn  = int64(180) * degScale
	maxLat    = int64(90) * degScale
	minLngScl = 0.01
)

// Coordinate is a (latitude, longitude) pair in units of 1e-7 degrees.
type Coordinate struct {
	LatE7 int32
	LonE7 int32
}

// FromDegrees converts floating point degrees into a fixed-point Coordinate,
// clamping latitude and wrapping longitude the same way the file generator does.
func FromDegrees(latDeg, lonDeg float64) Coordinate {
	return Coordinate{
		LatE7: LimitLatitude(int32(latDeg * degScale)),
		LonE7: WrapLongitude(int64(lonDeg * degScale)),
	}
}

// Degrees returns the coordinate as floating point degrees.
func (c Coordinate) Degrees() (latDeg, lonDeg float64) {
	return float64(c.LatE7) / degScale, float64(c.LonE7) / degScale
}

// LongitudeScale returns the cosine compression of east-west distance at the
// given latitude, floored to avoid blow-up near the poles.
func LongitudeScale(latE7 int32) float64 {
	s := math.Cos(float64(latE7) / degScale * math.Pi / 180.0)
	if s < minLngScl {
		return minLngScl
	}
	return s
}

// WrapLongitude normalizes a longitude (in 1e-7 degree units, as int64 to allow
// values outside the valid range before wrapping) into [-180e7, 180e7).
func WrapLongitude(lonE7 int64) int32 {
	for lonE7 >= halfTurn {
		lonE7 -= fullTurn
	}
	for lonE7 < -halfTurn {
		lonE7 += fullTurn
	}
	return int32(lonE7)
}

// LimitLatitude reflects a latitude over the poles into [-90e7, 90e7].
func LimitLatitude(latE7 int32) int32 {
	lat := int64(latE7)
	if lat > maxLat {
		return int32(2*maxLat - lat)
	}
	if lat < -maxLat {
		return int32(-2*maxLat - lat)
	}
	return latE7
}

// DiffLongitude returns b-a in 1e-7 degrees, taking the shorter way around the
// antimeridian.
func DiffLongitude(a, b int32) int32 {
	if (a >= 0 && b >= 0) || (a <= 0 && b <= 0) {
		return b - a
	}
	dlng := int64(b) - int64(a)
	if dlng > halfTurn {
		return int32(dlng - fullTurn)
	}
	if dlng < -halfTurn {
		return int32(dlng + fullTurn)
	}
	return int32(dlng)
}

// NorthEast returns the (north, east) distance in meters from a to b.
func NorthEast(a, b Coordinate) (northM, eastM float64) {
	northM = float64(b.LatE7-a.LatE7) * scaleFactor
	midLat := (a.LatE7 + b.LatE7) / 2
	eastM = float64(DiffLongitude(a.LonE7, b.LonE7)) * scaleFactor * LongitudeScale(midLat)
	return northM, eastM
}

// Offset returns the coordinate obtained by moving (northM, eastM) meters from c.
func Offset(c Coordinate, northM, eastM float64) Coordinate {
	dlat := northM * scaleFactorInv
	newLatE7 := int64(c.LatE7) + int64(dlat)
	dlon := (eastM * scaleFactorInv) / LongitudeScale(int32(float64(c.LatE7)+dlat/2))
	newLonE7 := int64(c.LonE7) + int64(dlon)

	return Coordinate{
		LatE7: LimitLatitude(int32(newLatE7)),
		LonE7: WrapLongitude(newLonE7),
	}
}

// DistanceM returns the straight-line ground distance in meters between a and b,
// using the same north/east decomposition as the rest of this package (flat-earth
// over the segment, consistent with the file generator's own precomputed offsets).
func DistanceM(a, b Coordinate) float64 {
	n, e := NorthEast(a, b)
	return math.Hypot(n, e)
}
