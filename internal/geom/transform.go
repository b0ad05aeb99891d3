// Package geom provides the rigid-transform math shared by the pose pipeline.
package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Transform is a rigid transform between two reference frames: a translation
// in meters and a unit orientation quaternion (w + xi + yj + zk).
type Transform struct {
	Translation [3]float64
	Orientation quat.Number
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Orientation: quat.Number{Real: 1}}
}

// Normalize returns the transform with its orientation scaled to unit length.
// A zero orientation normalizes to the identity orientation.
func (t Transform) Normalize() Transform {
	n := quat.Abs(t.Orientation)
	if n == 0 {
		t.Orientation = quat.Number{Real: 1}
		return t
	}
	t.Orientation = quat.Scale(1/n, t.Orientation)
	return t
}

// Compose returns a∘b: the transform mapping a point through b, then a.
func Compose(a, b Transform) Transform {
	return Transform{
		Translation: add(a.Translation, a.RotateVector(b.Translation)),
		Orientation: quat.Mul(a.Orientation, b.Orientation),
	}
}

// RotateVector rotates v by the transform's orientation.
func (t Transform) RotateVector(v [3]float64) [3]float64 {
	q := t.Normalize().Orientation
	p := quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return [3]float64{r.Imag, r.Jmag, r.Kmag}
}

// RotationAngle returns the magnitude of the rotation in radians, in [0, π].
func (t Transform) RotationAngle() float64 {
	q := t.Normalize().Orientation
	w := math.Abs(q.Real)
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w)
}

// String renders the transform at fixed precision for diagnostic display.
func (t Transform) String() string {
	return fmt.Sprintf("t: [%.3f, %.3f, %.3f] q: [%.3f, %.3f, %.3f, %.3f]",
		t.Translation[0], t.Translation[1], t.Translation[2],
		t.Orientation.Imag, t.Orientation.Jmag, t.Orientation.Kmag, t.Orientation.Real)
}

func add(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}
