package tracking

import (
	"math"

	"delivery-sync/internal/domain"
)

const earthRadiusKm = 6371.0

// longHopKm is the path length above which linear lat/lng interpolation
// visibly diverges from the true path and great-circle blending takes over.
const longHopKm = 50.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// haversineKm returns the great-circle distance between two points.
func haversineKm(a, b domain.Coordinates) float64 {
	latA, latB := toRadians(a.Lat), toRadians(b.Lat)
	dLat := latB - latA
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// interpolate returns the point at fraction t (0..1) along the path from a
// to b: linear for short hops, great-circle for long ones.
func interpolate(a, b domain.Coordinates, t float64) domain.Coordinates {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	if haversineKm(a, b) < longHopKm {
		return domain.Coordinates{
			Lat: a.Lat + (b.Lat-a.Lat)*t,
			Lng: a.Lng + (b.Lng-a.Lng)*t,
		}
	}
	return slerp(a, b, t)
}

// slerp blends along the great circle through a and b using the standard
// spherical linear interpolation of the unit position vectors.
func slerp(a, b domain.Coordinates, t float64) domain.Coordinates {
	latA, lngA := toRadians(a.Lat), toRadians(a.Lng)
	latB, lngB := toRadians(b.Lat), toRadians(b.Lng)

	ax := math.Cos(latA) * math.Cos(lngA)
	ay := math.Cos(latA) * math.Sin(lngA)
	az := math.Sin(latA)
	bx := math.Cos(latB) * math.Cos(lngB)
	by := math.Cos(latB) * math.Sin(lngB)
	bz := math.Sin(latB)

	dot := ax*bx + ay*by + az*bz
	dot = math.Max(-1, math.Min(1, dot))
	omega := math.Acos(dot)
	if omega < 1e-9 {
		return b
	}

	sinOmega := math.Sin(omega)
	fa := math.Sin((1-t)*omega) / sinOmega
	fb := math.Sin(t*omega) / sinOmega

	x := fa*ax + fb*bx
	y := fa*ay + fb*by
	z := fa*az + fb*bz

	return domain.Coordinates{
		Lat: toDegrees(math.Atan2(z, math.Sqrt(x*x+y*y))),
		Lng: toDegrees(math.Atan2(y, x)),
	}
}
