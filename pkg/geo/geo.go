// Package geo provides coordinate types and great-circle math for the tour engine.
package geo

import "math"

// EarthRadiusMeters is the mean earth radius used for haversine distance.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Valid reports whether the coordinate is within WGS84 bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// IsZero reports whether the coordinate is the zero value.
// Near-zero coordinates off the west-African coast are almost always
// a broken fix rather than a real position.
func (c Coordinate) IsZero() bool {
	return math.Abs(c.Lat) < 1e-6 && math.Abs(c.Lon) < 1e-6
}

// Distance returns the haversine distance between two coordinates in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Bearing returns the initial great-circle bearing from a to b in degrees [0, 360).
func Bearing(a, b Coordinate) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLon := radians(b.Lon - a.Lon)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := degrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// Offset returns the coordinate reached by travelling dist meters from c
// along the given bearing (degrees). Used by simulations and tests.
func Offset(c Coordinate, dist, bearing float64) Coordinate {
	lat1 := radians(c.Lat)
	lon1 := radians(c.Lon)
	brg := radians(bearing)
	d := dist / EarthRadiusMeters

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brg))
	lon2 := lon1 + math.Atan2(
		math.Sin(brg)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2),
	)

	return Coordinate{Lat: degrees(lat2), Lon: degrees(lon2)}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
