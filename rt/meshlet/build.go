package meshlet

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const unusedLocal = 0xff

// adjacency lists the live triangles around each vertex. Emitted triangles are
// swap-removed, so counts[v] is the number of triangles still waiting for v.
type adjacency struct {
	counts  []uint32
	offsets []uint32
	data    []uint32
}

func buildAdjacency(indices []uint32, vertexCount int) adjacency {
	adj := adjacency{
		counts:  make([]uint32, vertexCount),
		offsets: make([]uint32, vertexCount),
		data:    make([]uint32, len(indices)),
	}
	for _, v := range indices {
		adj.counts[v]++
	}
	off := uint32(0)
	for v, c := range adj.counts {
		adj.offsets[v] = off
		off += c
	}

	fill := make([]uint32, vertexCount)
	copy(fill, adj.offsets)
	for i, v := range indices {
		adj.data[fill[v]] = uint32(i / 3)
		fill[v]++
	}
	return adj
}

func (a *adjacency) triangles(v uint32) []uint32 {
	off := a.offsets[v]
	return a.data[off : off+a.counts[v]]
}

func (a *adjacency) remove(v, tri uint32) {
	list := a.triangles(v)
	for i, t := range list {
		if t == tri {
			list[i] = list[len(list)-1]
			a.counts[v]--
			return
		}
	}
}

// cone accumulates centroids and unit normals of the current meshlet.
type cone struct {
	centroidSum mgl32.Vec3
	normalSum   mgl32.Vec3
	count       int
}

func (c *cone) add(centroid, normal mgl32.Vec3) {
	c.centroidSum = c.centroidSum.Add(centroid)
	c.normalSum = c.normalSum.Add(normal)
	c.count++
}

func (c *cone) center() mgl32.Vec3 {
	if c.count == 0 {
		return mgl32.Vec3{}
	}
	return c.centroidSum.Mul(1.0 / float32(c.count))
}

func (c *cone) axis() mgl32.Vec3 {
	l := c.normalSum.Len()
	if l == 0 {
		return mgl32.Vec3{}
	}
	return c.normalSum.Mul(1.0 / l)
}

type clusterer struct {
	maxVertices  int
	maxTriangles int
	coneWeight   float32

	indices []uint32
	adj     adjacency
	kd      *kdTree

	centroids      []mgl32.Vec3
	normals        []mgl32.Vec3
	expectedRadius float32

	used []uint8 // local index of each global vertex in the current meshlet

	curVertices  []uint32
	curTriangles []uint8
	curCone      cone
	seed         mgl32.Vec3
	placed       int

	out *Result
}

func newClusterer(b *Builder, positions []mgl32.Vec3, indices []uint32) *clusterer {
	triCount := len(indices) / 3
	bound := BuildBound(len(indices), b.MaxVertices, b.MaxTriangles)

	c := &clusterer{
		maxVertices:  b.MaxVertices,
		maxTriangles: b.MaxTriangles,
		coneWeight:   b.ConeWeight,
		indices:      indices,
		adj:          buildAdjacency(indices, len(positions)),
		centroids:    make([]mgl32.Vec3, triCount),
		normals:      make([]mgl32.Vec3, triCount),
		used:         make([]uint8, len(positions)),
		curVertices:  make([]uint32, 0, b.MaxVertices),
		curTriangles: make([]uint8, 0, b.MaxTriangles*3),
		out: &Result{
			Meshlets:  make([]Meshlet, 0, bound),
			Vertices:  make([]uint32, 0, bound*b.MaxVertices),
			Triangles: make([]uint8, 0, bound*((b.MaxTriangles*3+3)&^3)),
		},
	}
	for i := range c.used {
		c.used[i] = unusedLocal
	}

	var areaSum float64
	for t := 0; t < triCount; t++ {
		p0 := positions[indices[t*3]]
		p1 := positions[indices[t*3+1]]
		p2 := positions[indices[t*3+2]]

		c.centroids[t] = p0.Add(p1).Add(p2).Mul(1.0 / 3.0)

		n := p1.Sub(p0).Cross(p2.Sub(p0))
		l := n.Len()
		if l > 0 {
			c.normals[t] = n.Mul(1.0 / l)
		}
		areaSum += float64(l) * 0.5
	}

	// A meshlet full of average triangles, laid flat, is roughly a disc of this radius.
	avgArea := areaSum / float64(triCount)
	c.expectedRadius = float32(math.Sqrt(avgArea*float64(b.MaxTriangles)) * 0.5)
	if c.expectedRadius <= 0 || math.IsNaN(float64(c.expectedRadius)) {
		c.expectedRadius = 1
	}

	c.kd = newKdTree(c.centroids)
	c.seed = c.centroids[0]
	return c
}

func (c *clusterer) run() (*Result, error) {
	for {
		tri := -1
		if len(c.curTriangles) > 0 {
			tri = c.bestNeighbor()
		}
		if tri < 0 {
			// No connected candidate: continue with the spatially closest triangle.
			pos := c.seed
			if c.curCone.count > 0 {
				pos = c.curCone.center()
			}
			tri = c.kd.nearest(pos)
			if tri < 0 {
				break
			}
		}
		c.appendTriangle(tri)
	}
	c.flush()

	if total := len(c.indices) / 3; c.placed != total {
		return nil, fmt.Errorf("%d of %d triangles placed: %w", c.placed, total, ErrIncomplete)
	}

	c.out.Meshlets = shrink(c.out.Meshlets)
	c.out.Vertices = shrink(c.out.Vertices)
	c.out.Triangles = shrink(c.out.Triangles)
	return c.out, nil
}

// bestNeighbor picks the next triangle among those sharing a vertex with the
// current meshlet. Fewer new vertices wins first; ties go to the lowest score.
func (c *clusterer) bestNeighbor() int {
	best := -1
	bestPriority := math.MaxInt
	bestScore := float32(math.Inf(1))

	center := c.curCone.center()
	axis := c.curCone.axis()

	for _, v := range c.curVertices {
		for _, t := range c.adj.triangles(v) {
			a, b, d := c.indices[t*3], c.indices[t*3+1], c.indices[t*3+2]

			extra := c.newVertices(a, b, d)
			priority := extra
			if extra != 0 {
				// Triangles that are the last user of a vertex are expensive to
				// pick up later in a fresh meshlet.
				if c.adj.counts[a] == 1 || c.adj.counts[b] == 1 || c.adj.counts[d] == 1 {
					priority = 0
				}
				priority++
			}
			if priority > bestPriority {
				continue
			}

			distance := c.centroids[t].Sub(center).Len()
			spread := c.normals[t].Dot(axis)
			score := meshletScore(distance, spread, c.coneWeight, c.expectedRadius)

			if priority < bestPriority || score < bestScore {
				best = int(t)
				bestPriority = priority
				bestScore = score
			}
		}
	}
	return best
}

func meshletScore(distance, spread, coneWeight, expectedRadius float32) float32 {
	coneTerm := 1 - spread*coneWeight
	if coneTerm < 1e-3 {
		coneTerm = 1e-3
	}
	return (1 + distance/expectedRadius*(1-coneWeight)) * coneTerm
}

// newVertices counts the distinct vertices of a triangle not yet in the meshlet.
func (c *clusterer) newVertices(a, b, d uint32) int {
	n := 0
	if c.used[a] == unusedLocal {
		n++
	}
	if b != a && c.used[b] == unusedLocal {
		n++
	}
	if d != a && d != b && c.used[d] == unusedLocal {
		n++
	}
	return n
}

func (c *clusterer) appendTriangle(tri int) {
	a, b, d := c.indices[tri*3], c.indices[tri*3+1], c.indices[tri*3+2]

	if len(c.curVertices)+c.newVertices(a, b, d) > c.maxVertices ||
		len(c.curTriangles)/3 >= c.maxTriangles {
		c.flush()
	}

	for _, v := range [3]uint32{a, b, d} {
		if c.used[v] == unusedLocal {
			c.used[v] = uint8(len(c.curVertices))
			c.curVertices = append(c.curVertices, v)
		}
		c.curTriangles = append(c.curTriangles, c.used[v])
	}
	c.curCone.add(c.centroids[tri], c.normals[tri])
	c.placed++

	c.kd.remove(tri)
	c.adj.remove(a, uint32(tri))
	c.adj.remove(b, uint32(tri))
	c.adj.remove(d, uint32(tri))
}

// flush writes the current meshlet to the output and resets the working state.
func (c *clusterer) flush() {
	if len(c.curTriangles) == 0 {
		return
	}

	out := c.out
	out.Meshlets = append(out.Meshlets, Meshlet{
		VertexOffset:   uint32(len(out.Vertices)),
		TriangleOffset: uint32(len(out.Triangles)),
		VertexCount:    uint32(len(c.curVertices)),
		TriangleCount:  uint32(len(c.curTriangles) / 3),
	})
	out.Vertices = append(out.Vertices, c.curVertices...)
	out.Triangles = append(out.Triangles, c.curTriangles...)
	for len(out.Triangles)%4 != 0 {
		out.Triangles = append(out.Triangles, 0)
	}

	for _, v := range c.curVertices {
		c.used[v] = unusedLocal
	}
	c.seed = c.curCone.center()
	c.curVertices = c.curVertices[:0]
	c.curTriangles = c.curTriangles[:0]
	c.curCone = cone{}
}
