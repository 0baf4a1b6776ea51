package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
	Dirty    bool
}

func NewTransform() *Transform {
	return &Transform{
		Position: mgl32.Vec3{0, 0, 0},
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
		Dirty:    true,
	}
}

func (t *Transform) SetPosition(p mgl32.Vec3) {
	t.Position = p
	t.Dirty = true
}

func (t *Transform) SetRotation(q mgl32.Quat) {
	t.Rotation = q
	t.Dirty = true
}

func (t *Transform) SetScale(s mgl32.Vec3) {
	t.Scale = s
	t.Dirty = true
}

func (t *Transform) ObjectToWorld() mgl32.Mat4 {
	// M = T * R * S
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

func (t *Transform) WorldToObject() mgl32.Mat4 {
	// inv(M) = inv(S) * inv(R) * inv(T)
	invScale := mgl32.Scale3D(1.0/t.Scale.X(), 1.0/t.Scale.Y(), 1.0/t.Scale.Z())
	invRotate := t.Rotation.Conjugate().Mat4()
	invTranslate := mgl32.Translate3D(-t.Position.X(), -t.Position.Y(), -t.Position.Z())

	return invScale.Mul4(invRotate).Mul4(invTranslate)
}

// MaxScale is the largest absolute scale factor, used to grow bounding sphere radii.
func (t *Transform) MaxScale() float32 {
	return MaxScale(t.ObjectToWorld())
}

// MaxScale returns the length of the longest basis column of m.
func MaxScale(m mgl32.Mat4) float32 {
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()
	return max(sx, sy, sz)
}

// IsUniformScale reports whether the basis columns of m have equal length, i.e.
// m preserves angles. Normal cones only survive such transforms.
func IsUniformScale(m mgl32.Mat4) bool {
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()
	eps := 1e-4 * max(sx, sy, sz)
	return mgl32.Abs(sx-sy) <= eps && mgl32.Abs(sy-sz) <= eps
}
