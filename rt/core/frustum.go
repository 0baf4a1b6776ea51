package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrSingularViewProjection is returned when the view-projection matrix cannot be
// inverted, so the frustum corners cannot be reconstructed for this frame.
var ErrSingularViewProjection = errors.New("view-projection matrix is not invertible")

// Plane indices.
const (
	PlaneLeft = iota
	PlaneRight
	PlaneBottom
	PlaneTop
	PlaneNear
	PlaneFar
)

// Corner indices.
const (
	CornerNearBottomLeft = iota
	CornerNearBottomRight
	CornerNearTopRight
	CornerNearTopLeft
	CornerFarBottomLeft
	CornerFarBottomRight
	CornerFarTopRight
	CornerFarTopLeft
)

// ndcCorners is the canonical clip cube in corner index order (GL depth -1..1).
var ndcCorners = [8]mgl32.Vec4{
	{-1, -1, -1, 1},
	{1, -1, -1, 1},
	{1, 1, -1, 1},
	{-1, 1, -1, 1},
	{-1, -1, 1, 1},
	{1, -1, 1, 1},
	{1, 1, 1, 1},
	{-1, 1, 1, 1},
}

// Frustum holds the clip planes and world-space corners for the matrix passed to the
// most recent RecreateFrustum call. Planes are Ax+By+Cz+D with normals pointing inside.
//
// A Frustum is read-only during visibility queries; rebuilding it while queries are
// running is a data race.
type Frustum struct {
	Planes  [6]mgl32.Vec4
	Corners [8]mgl32.Vec3

	cornersValid bool
}

// NewFrustum builds a frustum from vp. The frustum is returned even when the corners
// could not be reconstructed; the error reports that case.
func NewFrustum(vp mgl32.Mat4) (*Frustum, error) {
	f := &Frustum{}
	err := f.RecreateFrustum(vp)
	return f, err
}

// RecreateFrustum extracts the 6 planes with the Gribb-Hartmann method and rebuilds
// the 8 corners through the inverse of vp.
// Plane extraction cannot fail. A singular vp leaves the corners invalid and
// returns ErrSingularViewProjection; IsAABBInside then only runs the plane phase.
func (f *Frustum) RecreateFrustum(vp mgl32.Mat4) error {
	f.extractPlanes(vp)

	if err := f.computeCorners(vp); err != nil {
		f.cornersValid = false
		return err
	}
	f.cornersValid = true
	return nil
}

func (f *Frustum) extractPlanes(vp mgl32.Mat4) {
	row3 := vp.Row(3)
	for axis := 0; axis < 3; axis++ {
		row := vp.Row(axis)
		f.Planes[axis*2] = row3.Add(row)
		f.Planes[axis*2+1] = row3.Sub(row)
	}

	// Normalizing keeps the sign, and gives true distances for the sphere test.
	for i := range f.Planes {
		p := f.Planes[i]
		length := p.Vec3().Len()
		if length > 0 {
			f.Planes[i] = p.Mul(1.0 / length)
		}
	}
}

func (f *Frustum) computeCorners(vp mgl32.Mat4) error {
	det := vp.Det()
	if det == 0 || !isFinite(det) {
		return fmt.Errorf("frustum corners (det=%g): %w", det, ErrSingularViewProjection)
	}

	inv := vp.Inv()
	for i, ndc := range ndcCorners {
		p := inv.Mul4x1(ndc)
		if p.W() == 0 || !isFinite(p.W()) {
			return fmt.Errorf("frustum corner %d has w=%g: %w", i, p.W(), ErrSingularViewProjection)
		}
		c := p.Vec3().Mul(1.0 / p.W())
		if !isFinite(c.X()) || !isFinite(c.Y()) || !isFinite(c.Z()) {
			return fmt.Errorf("frustum corner %d is not finite: %w", i, ErrSingularViewProjection)
		}
		f.Corners[i] = c
	}
	return nil
}

// CornersValid reports whether the last RecreateFrustum produced usable corners.
func (f *Frustum) CornersValid() bool {
	return f.cornersValid
}

// IsAABBInside reports whether the local-space box, placed in the world by world,
// may be visible. The test is conservative: a true result means visible or possibly
// visible, a false result means certainly outside.
func (f *Frustum) IsAABBInside(box AABB, world mgl32.Mat4) bool {
	var pts [8]mgl32.Vec3
	transformCorners(box, world, &pts)

	if f.excludingPlane(&pts) >= 0 {
		return false
	}
	if f.cornersValid && f.cornersOutside(&pts) {
		return false
	}
	return true
}

// ExcludingPlane returns the index of the first plane that has every corner of the
// placed box on its outside, or -1 if no single plane rejects it.
func (f *Frustum) ExcludingPlane(box AABB, world mgl32.Mat4) int {
	var pts [8]mgl32.Vec3
	transformCorners(box, world, &pts)
	return f.excludingPlane(&pts)
}

func (f *Frustum) excludingPlane(pts *[8]mgl32.Vec3) int {
	for i := 0; i < 6; i++ {
		plane := f.Planes[i]
		outside := 0
		for _, p := range pts {
			if planeDistance(plane, p) < 0 {
				outside++
			}
		}
		if outside == 8 {
			return i
		}
	}
	return -1
}

// cornersOutside catches boxes that straddle every plane yet sit outside the frustum,
// which happens when the frustum is small relative to the box.
func (f *Frustum) cornersOutside(pts *[8]mgl32.Vec3) bool {
	boxMin := pts[0]
	boxMax := pts[0]
	for _, p := range pts[1:] {
		for a := 0; a < 3; a++ {
			boxMin[a] = min(boxMin[a], p[a])
			boxMax[a] = max(boxMax[a], p[a])
		}
	}

	for a := 0; a < 3; a++ {
		above, below := 0, 0
		for _, c := range f.Corners {
			if c[a] > boxMax[a] {
				above++
			}
			if c[a] < boxMin[a] {
				below++
			}
		}
		if above == 8 || below == 8 {
			return true
		}
	}
	return false
}

// IsSphereInside tests a world-space sphere against the normalized planes.
func (f *Frustum) IsSphereInside(center mgl32.Vec3, radius float32) bool {
	for i := 0; i < 6; i++ {
		if planeDistance(f.Planes[i], center) < -radius {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether p is on the inner side of all six planes.
func (f *Frustum) ContainsPoint(p mgl32.Vec3) bool {
	for i := 0; i < 6; i++ {
		if planeDistance(f.Planes[i], p) < 0 {
			return false
		}
	}
	return true
}

// CornerBounds returns the world AABB of the frustum corners.
func (f *Frustum) CornerBounds() AABB {
	return AABBFromPoints(f.Corners[:])
}

func planeDistance(plane mgl32.Vec4, p mgl32.Vec3) float32 {
	return plane[0]*p[0] + plane[1]*p[1] + plane[2]*p[2] + plane[3]
}

func transformCorners(box AABB, world mgl32.Mat4, out *[8]mgl32.Vec3) {
	corners := box.Corners()
	for i, c := range corners {
		out[i] = world.Mul4x1(c.Vec4(1.0)).Vec3()
	}
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
