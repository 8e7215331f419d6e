package geom

import (
	"fmt"
	"math"

	"github.com/chazu/voxgraph/pkg/geomerr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Transform is a row-major 4x4 affine matrix. The bottom row is always
// (0, 0, 0, 1) for transforms built with the constructors in this package.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translate returns a translation by v.
func Translate(v r3.Vec) Transform {
	t := Identity()
	t[3], t[7], t[11] = v.X, v.Y, v.Z
	return t
}

// Scale returns a non-uniform scale about the origin.
func Scale(v r3.Vec) Transform {
	t := Identity()
	t[0], t[5], t[10] = v.X, v.Y, v.Z
	return t
}

// RotateX returns a rotation of rad radians about the X axis.
func RotateX(rad float64) Transform {
	s, c := math.Sincos(rad)
	t := Identity()
	t[5], t[6] = c, -s
	t[9], t[10] = s, c
	return t
}

// RotateY returns a rotation of rad radians about the Y axis.
func RotateY(rad float64) Transform {
	s, c := math.Sincos(rad)
	t := Identity()
	t[0], t[2] = c, s
	t[8], t[10] = -s, c
	return t
}

// RotateZ returns a rotation of rad radians about the Z axis.
func RotateZ(rad float64) Transform {
	s, c := math.Sincos(rad)
	t := Identity()
	t[0], t[1] = c, -s
	t[4], t[5] = s, c
	return t
}

// RotateEuler rotates by the given angles in degrees, X first, then Y,
// then Z.
func RotateEuler(deg r3.Vec) Transform {
	const toRad = math.Pi / 180
	return RotateZ(deg.Z * toRad).Mul(RotateY(deg.Y * toRad)).Mul(RotateX(deg.X * toRad))
}

// Compose builds scale, then rotation (degrees), then translation.
func Compose(translate, rotateDeg, scale r3.Vec) Transform {
	return Translate(translate).Mul(RotateEuler(rotateDeg)).Mul(Scale(scale))
}

// Mul returns t*o, the transform that applies o first and then t.
func (t Transform) Mul(o Transform) Transform {
	var r Transform
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += t[row*4+k] * o[k*4+col]
			}
			r[row*4+col] = sum
		}
	}
	return r
}

// Apply maps a point.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: t[0]*p.X + t[1]*p.Y + t[2]*p.Z + t[3],
		Y: t[4]*p.X + t[5]*p.Y + t[6]*p.Z + t[7],
		Z: t[8]*p.X + t[9]*p.Y + t[10]*p.Z + t[11],
	}
}

// ApplyVector maps a direction, ignoring translation.
func (t Transform) ApplyVector(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: t[0]*v.X + t[1]*v.Y + t[2]*v.Z,
		Y: t[4]*v.X + t[5]*v.Y + t[6]*v.Z,
		Z: t[8]*v.X + t[9]*v.Y + t[10]*v.Z,
	}
}

func (t Transform) linear() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	})
}

// Determinant of the linear 3x3 part. Negative values mirror space.
func (t Transform) Determinant() float64 {
	return mat.Det(t.linear())
}

// IsAffine reports whether the bottom row is (0, 0, 0, 1) and every entry
// is finite.
func (t Transform) IsAffine() bool {
	for _, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return t[12] == 0 && t[13] == 0 && t[14] == 0 && t[15] == 1
}

// Singular reports whether the linear part collapses space. The
// determinant is compared against the product of the column lengths, so
// uniformly tiny or huge scales are not mistaken for degenerate ones.
func (t Transform) Singular() bool {
	lin := t.linear()
	det := math.Abs(mat.Det(lin))
	bound := 1.0
	for col := 0; col < 3; col++ {
		bound *= mat.Norm(lin.ColView(col), 2)
	}
	return det == 0 || det <= DefaultTolerance.Rel*bound
}

// Inverse returns the inverse transform, or ErrInvalidParameters when the
// matrix is singular.
func (t Transform) Inverse() (Transform, error) {
	if t.Singular() {
		return Transform{}, fmt.Errorf("geom: inverse: %w", geomerr.Invalidf("singular transform"))
	}
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(4, 4, append([]float64(nil), t[:]...))); err != nil {
		return Transform{}, fmt.Errorf("geom: inverse: %w", geomerr.Invalidf("%v", err))
	}
	var r Transform
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			r[row*4+col] = inv.At(row, col)
		}
	}
	return r, nil
}

// NormalMatrix returns the inverse-transpose of the linear part as a
// transform with zero translation, for mapping surface normals.
func (t Transform) NormalMatrix() (Transform, error) {
	if t.Singular() {
		return Transform{}, fmt.Errorf("geom: normal matrix: %w", geomerr.Invalidf("singular transform"))
	}
	var inv mat.Dense
	if err := inv.Inverse(t.linear()); err != nil {
		return Transform{}, fmt.Errorf("geom: normal matrix: %w", geomerr.Invalidf("%v", err))
	}
	r := Identity()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			r[row*4+col] = inv.At(col, row)
		}
	}
	return r, nil
}
