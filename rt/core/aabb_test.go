package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestAABBDerived(t *testing.T) {
	b := NewAABB(mgl32.Vec3{-1, 0, 2}, mgl32.Vec3{3, 4, 6})

	assert.Equal(t, mgl32.Vec3{1, 2, 4}, b.Center())
	assert.Equal(t, mgl32.Vec3{2, 2, 2}, b.Extents())
	assert.True(t, b.ContainsPoint(mgl32.Vec3{0, 1, 3}))
	assert.False(t, b.ContainsPoint(mgl32.Vec3{0, 5, 3}))
}

func TestAABBCornersEnumerateAllCombinations(t *testing.T) {
	b := NewAABB(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 2, 3})
	seen := map[mgl32.Vec3]bool{}
	for _, c := range b.Corners() {
		seen[c] = true
	}
	assert.Len(t, seen, 8)
	assert.True(t, seen[mgl32.Vec3{1, 2, 3}])
	assert.True(t, seen[mgl32.Vec3{0, 2, 0}])
}

func TestEmptyAABB(t *testing.T) {
	e := EmptyAABB()
	assert.True(t, e.IsEmpty())

	b := e.Expand(mgl32.Vec3{1, 1, 1})
	assert.False(t, b.IsEmpty())
	assert.Equal(t, b.Min, b.Max)

	assert.Equal(t, b, b.Union(EmptyAABB()))
	assert.True(t, AABBFromPoints(nil).IsEmpty())
	assert.True(t, e.Transform(mgl32.Translate3D(1, 2, 3)).IsEmpty())
}

func TestAABBTransformRotationGrows(t *testing.T) {
	b := NewAABB(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	rot := mgl32.HomogRotate3DZ(mgl32.DegToRad(45))

	w := b.Transform(rot)
	assert.InDelta(t, 1.41421, w.Max.X(), 1e-4)
	assert.InDelta(t, -1.41421, w.Min.Y(), 1e-4)
	assert.InDelta(t, 1, w.Max.Z(), 1e-5)

	moved := b.Transform(mgl32.Translate3D(10, 0, 0))
	assert.Equal(t, mgl32.Vec3{9, -1, -1}, moved.Min)
}

func TestMaxScale(t *testing.T) {
	tr := NewTransform()
	tr.Scale = mgl32.Vec3{1, 3, 2}
	tr.Rotation = mgl32.QuatRotate(mgl32.DegToRad(30), mgl32.Vec3{0, 0, 1})
	assert.InDelta(t, 3, tr.MaxScale(), 1e-5)
}

func TestIsUniformScale(t *testing.T) {
	tr := NewTransform()
	tr.Position = mgl32.Vec3{5, -2, 7}
	tr.Rotation = mgl32.QuatRotate(mgl32.DegToRad(45), mgl32.Vec3{1, 1, 0}.Normalize())
	tr.Scale = mgl32.Vec3{2, 2, 2}
	assert.True(t, IsUniformScale(tr.ObjectToWorld()))

	tr.Scale = mgl32.Vec3{2, 2, 2.5}
	assert.False(t, IsUniformScale(tr.ObjectToWorld()))
}
