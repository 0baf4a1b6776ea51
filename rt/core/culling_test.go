package core

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lookDownNegZ is a camera at origin looking down -Z.
// Perspective: 90 deg FOV, Aspect 1.0, Near 1, Far 100
func lookDownNegZ() mgl32.Mat4 {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1.0, 1.0, 100.0)
	view := mgl32.LookAtV(
		mgl32.Vec3{0, 0, 0},  // Eye
		mgl32.Vec3{0, 0, -1}, // Center
		mgl32.Vec3{0, 1, 0},  // Up
	)
	return proj.Mul4(view)
}

func mustFrustum(t *testing.T, vp mgl32.Mat4) *Frustum {
	t.Helper()
	f, err := NewFrustum(vp)
	require.NoError(t, err)
	return f
}

func TestFrustumCulling(t *testing.T) {
	f := mustFrustum(t, lookDownNegZ())

	tests := []struct {
		name     string
		aabbMin  mgl32.Vec3
		aabbMax  mgl32.Vec3
		expected bool
	}{
		{
			name:     "Inside (center)",
			aabbMin:  mgl32.Vec3{-1, -1, -10},
			aabbMax:  mgl32.Vec3{1, 1, -5},
			expected: true,
		},
		{
			name:     "Outside (Left)",
			aabbMin:  mgl32.Vec3{-20, -1, -10},
			aabbMax:  mgl32.Vec3{-15, 1, -5},
			expected: false,
		},
		{
			name:     "Outside (Right)",
			aabbMin:  mgl32.Vec3{15, -1, -10},
			aabbMax:  mgl32.Vec3{20, 1, -5},
			expected: false,
		},
		{
			name:     "Outside (Behind/Near)",
			aabbMin:  mgl32.Vec3{-1, -1, 2},
			aabbMax:  mgl32.Vec3{1, 1, 5},
			expected: false,
		},
		{
			name:     "Outside (Far)",
			aabbMin:  mgl32.Vec3{-1, -1, -200},
			aabbMax:  mgl32.Vec3{1, 1, -150},
			expected: false,
		},
		{
			name:     "Intersecting (Left Plane)",
			aabbMin:  mgl32.Vec3{-15, -1, -10}, // Left edge is at roughly -10 (tan(45)*10)
			aabbMax:  mgl32.Vec3{-5, 1, -5},
			expected: true,
		},
		{
			name:     "Encompassing (Huge box)",
			aabbMin:  mgl32.Vec3{-1000, -1000, -1000},
			aabbMax:  mgl32.Vec3{1000, 1000, 1000},
			expected: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			box := NewAABB(tc.aabbMin, tc.aabbMax)
			visible := f.IsAABBInside(box, mgl32.Ident4())
			if visible != tc.expected {
				t.Errorf("expected %v, got %v", tc.expected, visible)
				for i, p := range f.Planes {
					dist := p.Dot(box.Center().Vec4(1.0))
					t.Logf("  P%d: %v, Dist(Center)=%f", i, p, dist)
				}
			}
		})
	}
}

func TestFrustumPointSign(t *testing.T) {
	proj := mgl32.Perspective(mgl32.DegToRad(60), 16.0/9.0, 0.1, 100.0)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := mustFrustum(t, proj.Mul4(view))

	front := mgl32.Vec3{0, 0, -1}
	behind := mgl32.Vec3{0, 0, 1}

	assert.True(t, f.IsAABBInside(NewAABB(front, front), mgl32.Ident4()), "point in front of the camera")
	assert.False(t, f.IsAABBInside(NewAABB(behind, behind), mgl32.Ident4()), "point behind the camera")
}

func TestFrustumOrthoCorners(t *testing.T) {
	f := mustFrustum(t, mgl32.Ortho(-1, 1, -1, 1, -1, 1))
	require.True(t, f.CornersValid())

	bounds := f.CornerBounds()
	for a := 0; a < 3; a++ {
		assert.InDelta(t, -1, bounds.Min[a], 1e-4)
		assert.InDelta(t, 1, bounds.Max[a], 1e-4)
	}
}

func TestFrustumCornerOrder(t *testing.T) {
	f := mustFrustum(t, lookDownNegZ())

	nbl := f.Corners[CornerNearBottomLeft]
	ntr := f.Corners[CornerNearTopRight]
	fbl := f.Corners[CornerFarBottomLeft]
	ftl := f.Corners[CornerFarTopLeft]

	assert.InDelta(t, -1, nbl.Z(), 1e-3)
	assert.InDelta(t, -100, fbl.Z(), 0.5)
	assert.Less(t, nbl.X(), ntr.X())
	assert.Less(t, nbl.Y(), ntr.Y())
	assert.Less(t, fbl.Y(), ftl.Y())
	// 90 degree FOV: the far half-width equals the far distance.
	assert.InDelta(t, -100, fbl.X(), 0.5)
}

// Test extracting from an orthographic view looking down -Z.
func TestFrustumOrtho(t *testing.T) {
	proj := mgl32.Ortho(-10, 10, -10, 10, 0, 20)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	f := mustFrustum(t, proj.Mul4(view))

	// AABB at 0,0,-5 should be inside
	if !f.IsAABBInside(NewAABB(mgl32.Vec3{-1, -1, -6}, mgl32.Vec3{1, 1, -4}), mgl32.Ident4()) {
		t.Error("Ortho: AABB should be inside")
	}

	// Near=0 => Z=0. Far=20 => Z=-20. So -25 is beyond far plane.
	if f.IsAABBInside(NewAABB(mgl32.Vec3{-1, -1, -26}, mgl32.Vec3{1, 1, -24}), mgl32.Ident4()) {
		t.Error("Ortho: AABB at -25 should be outside (Far=20 => Z=-20)")
	}
}

func TestPlaneTestRejectsFarRight(t *testing.T) {
	f := mustFrustum(t, lookDownNegZ())

	box := NewAABB(mgl32.Vec3{500, -1, -10}, mgl32.Vec3{510, 1, -5})
	assert.Equal(t, PlaneRight, f.ExcludingPlane(box, mgl32.Ident4()))
	assert.False(t, f.IsAABBInside(box, mgl32.Ident4()))
}

func TestCornerTestRejectsStraddlingBox(t *testing.T) {
	f := mustFrustum(t, lookDownNegZ())

	// Left of the far corners (x >= -100 everywhere in the frustum) while having
	// at least one corner inside every single plane.
	box := NewAABB(mgl32.Vec3{-200, -10, -300}, mgl32.Vec3{-110, 10, -50})

	require.Equal(t, -1, f.ExcludingPlane(box, mgl32.Ident4()), "plane phase alone must not reject this box")
	assert.False(t, f.IsAABBInside(box, mgl32.Ident4()), "corner phase must reject it")
}

func TestWorldTransformIsApplied(t *testing.T) {
	f := mustFrustum(t, lookDownNegZ())

	local := NewAABB(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})

	inFront := mgl32.Translate3D(0, 0, -10)
	behind := mgl32.Translate3D(0, 0, 10)
	assert.True(t, f.IsAABBInside(local, inFront))
	assert.False(t, f.IsAABBInside(local, behind))

	// Rotating a long thin box out of the right plane.
	thin := NewAABB(mgl32.Vec3{0, -0.1, -0.1}, mgl32.Vec3{50, 0.1, 0.1})
	tr := NewTransform()
	tr.Position = mgl32.Vec3{0, 0, -20}
	assert.True(t, f.IsAABBInside(thin, tr.ObjectToWorld()))

	tr.Position = mgl32.Vec3{30, 0, -20}
	assert.False(t, f.IsAABBInside(thin, tr.ObjectToWorld()))
	tr.Rotation = mgl32.QuatRotate(mgl32.DegToRad(180), mgl32.Vec3{0, 1, 0})
	assert.True(t, f.IsAABBInside(thin, tr.ObjectToWorld()))
}

func TestSingularViewProjection(t *testing.T) {
	f := &Frustum{}
	err := f.RecreateFrustum(mgl32.Mat4{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSingularViewProjection))
	assert.False(t, f.CornersValid())

	// A rank-deficient matrix: every point maps to the same clip position.
	flat := mgl32.Scale3D(1, 1, 0)
	err = f.RecreateFrustum(flat)
	assert.ErrorIs(t, err, ErrSingularViewProjection)

	// A valid rebuild restores the corners.
	require.NoError(t, f.RecreateFrustum(lookDownNegZ()))
	assert.True(t, f.CornersValid())
	for _, c := range f.Corners {
		assert.False(t, math.IsNaN(float64(c.X())))
	}
}

func TestSingularFrustumStillRunsPlanePhase(t *testing.T) {
	f := mustFrustum(t, lookDownNegZ())
	straddling := NewAABB(mgl32.Vec3{-200, -10, -300}, mgl32.Vec3{-110, 10, -50})

	// Corners from a failed rebuild are not used.
	f.cornersValid = false
	assert.True(t, f.IsAABBInside(straddling, mgl32.Ident4()))
	assert.False(t, f.IsAABBInside(NewAABB(mgl32.Vec3{500, -1, -10}, mgl32.Vec3{510, 1, -5}), mgl32.Ident4()))
}

func TestSphereAndPoint(t *testing.T) {
	f := mustFrustum(t, lookDownNegZ())

	assert.True(t, f.ContainsPoint(mgl32.Vec3{0, 0, -50}))
	assert.False(t, f.ContainsPoint(mgl32.Vec3{0, 0, -150}))

	assert.True(t, f.IsSphereInside(mgl32.Vec3{0, 0, -50}, 1))
	assert.True(t, f.IsSphereInside(mgl32.Vec3{0, 0, -0.5}, 1), "straddles the near plane")
	assert.False(t, f.IsSphereInside(mgl32.Vec3{0, 0, 5}, 1))
	assert.False(t, f.IsSphereInside(mgl32.Vec3{60, 0, -50}, 5))
}
