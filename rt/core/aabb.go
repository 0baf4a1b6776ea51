package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned box in the local space of its owner.
// World placement is always supplied separately as a transform.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// NewAABB returns the box spanning min and max; no ordering is enforced.
func NewAABB(min, max mgl32.Vec3) AABB {
	return AABB{Min: min, Max: max}
}

// EmptyAABB returns an inverted box that any Expand call will overwrite.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

// AABBFromPoints returns the tightest box around points, or an empty box for none.
func AABBFromPoints(points []mgl32.Vec3) AABB {
	b := EmptyAABB()
	for _, p := range points {
		b = b.Expand(p)
	}
	return b
}

func (b AABB) IsEmpty() bool {
	return b.Min.X() > b.Max.X() || b.Min.Y() > b.Max.Y() || b.Min.Z() > b.Max.Z()
}

func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b AABB) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Extents returns the half size.
func (b AABB) Extents() mgl32.Vec3 {
	return b.Size().Mul(0.5)
}

func (b AABB) Expand(p mgl32.Vec3) AABB {
	return AABB{
		Min: mgl32.Vec3{min(b.Min.X(), p.X()), min(b.Min.Y(), p.Y()), min(b.Min.Z(), p.Z())},
		Max: mgl32.Vec3{max(b.Max.X(), p.X()), max(b.Max.Y(), p.Y()), max(b.Max.Z(), p.Z())},
	}
}

func (b AABB) Union(o AABB) AABB {
	if o.IsEmpty() {
		return b
	}
	return b.Expand(o.Min).Expand(o.Max)
}

// Corners enumerates {min.x,max.x} x {min.y,max.y} x {min.z,max.z} with x varying fastest.
func (b AABB) Corners() [8]mgl32.Vec3 {
	return [8]mgl32.Vec3{
		{b.Min.X(), b.Min.Y(), b.Min.Z()},
		{b.Max.X(), b.Min.Y(), b.Min.Z()},
		{b.Min.X(), b.Max.Y(), b.Min.Z()},
		{b.Max.X(), b.Max.Y(), b.Min.Z()},
		{b.Min.X(), b.Min.Y(), b.Max.Z()},
		{b.Max.X(), b.Min.Y(), b.Max.Z()},
		{b.Min.X(), b.Max.Y(), b.Max.Z()},
		{b.Max.X(), b.Max.Y(), b.Max.Z()},
	}
}

// Transform returns the world AABB enclosing the 8 corners after m is applied.
// With rotation or non-uniform scale the result is larger than the original box.
func (b AABB) Transform(m mgl32.Mat4) AABB {
	if b.IsEmpty() {
		return b
	}
	out := EmptyAABB()
	for _, c := range b.Corners() {
		out = out.Expand(m.Mul4x1(c.Vec4(1.0)).Vec3())
	}
	return out
}

func (b AABB) ContainsPoint(p mgl32.Vec3) bool {
	return p.X() >= b.Min.X() && p.X() <= b.Max.X() &&
		p.Y() >= b.Min.Y() && p.Y() <= b.Max.Y() &&
		p.Z() >= b.Min.Z() && p.Z() <= b.Max.Z()
}

// Pair returns the box in the [2]Vec3 form consumed by the BVH builder.
func (b AABB) Pair() [2]mgl32.Vec3 {
	return [2]mgl32.Vec3{b.Min, b.Max}
}
