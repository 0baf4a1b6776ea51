package meshlet

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Normal cones wider than this (about 168 degrees) are not worth testing.
const minConeDot = 0.1

// Bounds carries the culling volumes of one meshlet.
//
// The backface test is dot(normalize(ConeApex-camera), ConeAxis) >= ConeCutoff.
// ConeCutoff is the sine of the widest angle between ConeAxis and a triangle
// normal; a cutoff of 1 disables the cone test.
type Bounds struct {
	Center mgl32.Vec3
	Radius float32

	ConeApex   mgl32.Vec3
	ConeAxis   mgl32.Vec3
	ConeCutoff float32

	// 8-bit SNORM copies for compact GPU storage; the cutoff is rounded up so the
	// quantized test stays conservative.
	ConeAxisS8   [3]int8
	ConeCutoffS8 int8
}

// ConeEnabled reports whether the normal cone is narrow enough to cull with.
func (b Bounds) ConeEnabled() bool {
	return b.ConeCutoff < 1
}

// IsBackfacing reports whether every triangle of the meshlet faces away from a
// perspective camera at cameraPos.
func (b Bounds) IsBackfacing(cameraPos mgl32.Vec3) bool {
	if !b.ConeEnabled() {
		return false
	}
	dir := b.ConeApex.Sub(cameraPos)
	l := dir.Len()
	if l == 0 {
		return false
	}
	return dir.Dot(b.ConeAxis) >= b.ConeCutoff*l
}

// ComputeBounds derives the sphere and cone of one meshlet from its local vertex
// remap and local triangle bytes.
func ComputeBounds(positions []mgl32.Vec3, vertices []uint32, triangles []uint8) Bounds {
	points := make([]mgl32.Vec3, len(vertices))
	for i, v := range vertices {
		points[i] = positions[v]
	}

	var b Bounds
	b.Center, b.Radius = BoundingSphere(points)
	b.ConeCutoff = 1
	b.ConeCutoffS8 = 127

	triCount := len(triangles) / 3
	normals := make([]mgl32.Vec3, 0, triCount)
	corners := make([]mgl32.Vec3, 0, triCount)
	var sum mgl32.Vec3
	for t := 0; t < triCount; t++ {
		p0 := points[triangles[t*3]]
		p1 := points[triangles[t*3+1]]
		p2 := points[triangles[t*3+2]]

		n := p1.Sub(p0).Cross(p2.Sub(p0))
		l := n.Len()
		if l == 0 {
			continue
		}
		n = n.Mul(1.0 / l)
		normals = append(normals, n)
		corners = append(corners, p0)
		sum = sum.Add(n)
	}

	axisLen := sum.Len()
	if len(normals) == 0 || axisLen == 0 {
		return b
	}
	axis := sum.Mul(1.0 / axisLen)

	minDot := float32(1)
	for _, n := range normals {
		minDot = min(minDot, n.Dot(axis))
	}
	if minDot <= minConeDot {
		return b
	}

	// The apex is the point on center-t*axis that lies behind every triangle plane.
	maxT := float32(0)
	for i, n := range normals {
		dc := b.Center.Sub(corners[i]).Dot(n)
		dn := axis.Dot(n)
		t := dc / dn
		maxT = max(maxT, t)
	}

	b.ConeApex = b.Center.Sub(axis.Mul(maxT))
	b.ConeAxis = axis
	b.ConeCutoff = float32(math.Sqrt(float64(1 - minDot*minDot)))

	var axisErr float32
	for a := 0; a < 3; a++ {
		b.ConeAxisS8[a] = quantizeSnorm8(axis[a])
		axisErr += float32(math.Abs(float64(float32(b.ConeAxisS8[a])/127 - axis[a])))
	}
	cutoff := int(127*(b.ConeCutoff+axisErr) + 1)
	if cutoff > 127 {
		cutoff = 127
	}
	b.ConeCutoffS8 = int8(cutoff)
	return b
}

func quantizeSnorm8(v float32) int8 {
	v = max(-1, min(1, v))
	r := math.Round(float64(v) * 127)
	return int8(r)
}

// BoundingSphere returns a sphere containing every point. It keeps the smaller of a
// Ritter sphere and a sphere around the box center, then widens the radius to the
// farthest point so float rounding never leaves a point outside.
func BoundingSphere(points []mgl32.Vec3) (mgl32.Vec3, float32) {
	if len(points) == 0 {
		return mgl32.Vec3{}, 0
	}

	center, radius := ritterSphere(points)

	inf := float32(math.Inf(1))
	lo := mgl32.Vec3{inf, inf, inf}
	hi := mgl32.Vec3{-inf, -inf, -inf}
	for _, p := range points {
		for a := 0; a < 3; a++ {
			lo[a] = min(lo[a], p[a])
			hi[a] = max(hi[a], p[a])
		}
	}
	boxCenter := lo.Add(hi).Mul(0.5)
	boxRadius := farthest(points, boxCenter)

	if boxRadius <= radius {
		center, radius = boxCenter, boxRadius
	}
	return center, max(radius, farthest(points, center))
}

func ritterSphere(points []mgl32.Vec3) (mgl32.Vec3, float32) {
	// Extreme points along each axis.
	var pmin, pmax [3]int
	for i, p := range points {
		for a := 0; a < 3; a++ {
			if p[a] < points[pmin[a]][a] {
				pmin[a] = i
			}
			if p[a] > points[pmax[a]][a] {
				pmax[a] = i
			}
		}
	}

	// Start from the widest of the three pairs.
	spread := float32(-1)
	axis := 0
	for a := 0; a < 3; a++ {
		d := points[pmax[a]].Sub(points[pmin[a]])
		if l := d.Dot(d); l > spread {
			spread = l
			axis = a
		}
	}

	p1 := points[pmin[axis]]
	p2 := points[pmax[axis]]
	center := p1.Add(p2).Mul(0.5)
	radius := float32(math.Sqrt(float64(spread))) / 2

	// Grow to cover points left outside.
	for _, p := range points {
		d := p.Sub(center).Len()
		if d > radius {
			k := (d - radius) * 0.5 / d
			center = center.Add(p.Sub(center).Mul(k))
			radius = (radius + d) * 0.5
		}
	}
	return center, radius
}

func farthest(points []mgl32.Vec3, center mgl32.Vec3) float32 {
	var r float32
	for _, p := range points {
		r = max(r, p.Sub(center).Len())
	}
	return r
}
