package protocol

import "math"

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vector3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// PlanarFinite reports whether the ground-plane components are finite.
func (v Vector3) PlanarFinite() bool {
	return isFinite(v.X) && isFinite(v.Z)
}

// PlanarDistance is the distance between v and o on the x/z plane.
// Altitude is ignored.
func (v Vector3) PlanarDistance(o Vector3) float64 {
	dx := v.X - o.X
	dz := v.Z - o.Z
	return math.Sqrt(dx*dx + dz*dz)
}

// VectorInput is a client supplied vector. Missing components decode as NaN
// so they fail the finite checks instead of silently becoming zero.
type VectorInput struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	Z *float64 `json:"z"`
}

func (v VectorInput) Vector() Vector3 {
	return Vector3{X: orNaN(v.X), Y: orNaN(v.Y), Z: orNaN(v.Z)}
}

func orNaN(f *float64) float64 {
	if f == nil {
		return math.NaN()
	}
	return *f
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
