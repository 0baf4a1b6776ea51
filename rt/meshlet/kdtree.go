package meshlet

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

const kdLeafSize = 8

type kdNode struct {
	axis   int // -1 for leaves
	split  float32
	left   int32
	right  int32
	parent int32
	first  int32 // leaves: range into kdTree.items
	count  int32
	alive  int32 // live items in this subtree
}

// kdTree indexes triangle centroids for nearest-live-triangle queries.
// Removed triangles are subtracted from every ancestor, so empty subtrees are
// skipped without scanning them.
type kdTree struct {
	points  []mgl32.Vec3
	items   []int32
	leafOf  []int32
	removed []bool
	nodes   []kdNode
}

func newKdTree(points []mgl32.Vec3) *kdTree {
	t := &kdTree{
		points:  points,
		items:   make([]int32, len(points)),
		leafOf:  make([]int32, len(points)),
		removed: make([]bool, len(points)),
		nodes:   make([]kdNode, 0, 2*len(points)/kdLeafSize+1),
	}
	for i := range t.items {
		t.items[i] = int32(i)
	}
	if len(points) > 0 {
		t.build(0, len(points), -1)
	}
	return t
}

func (t *kdTree) build(first, last int, parent int32) int32 {
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, kdNode{axis: -1, left: -1, right: -1, parent: parent, alive: int32(last - first)})

	items := t.items[first:last]
	if len(items) <= kdLeafSize {
		t.nodes[idx].first = int32(first)
		t.nodes[idx].count = int32(len(items))
		for _, it := range items {
			t.leafOf[it] = idx
		}
		return idx
	}

	inf := float32(math.Inf(1))
	minB := mgl32.Vec3{inf, inf, inf}
	maxB := mgl32.Vec3{-inf, -inf, -inf}
	for _, it := range items {
		p := t.points[it]
		for a := 0; a < 3; a++ {
			minB[a] = min(minB[a], p[a])
			maxB[a] = max(maxB[a], p[a])
		}
	}
	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	sort.Slice(items, func(i, j int) bool {
		return t.points[items[i]][axis] < t.points[items[j]][axis]
	})

	mid := len(items) / 2
	t.nodes[idx].axis = axis
	t.nodes[idx].split = t.points[items[mid]][axis]

	left := t.build(first, first+mid, idx)
	right := t.build(first+mid, last, idx)
	t.nodes[idx].left = left
	t.nodes[idx].right = right
	return idx
}

func (t *kdTree) remove(item int) {
	if t.removed[item] {
		return
	}
	t.removed[item] = true
	for n := t.leafOf[item]; n >= 0; n = t.nodes[n].parent {
		t.nodes[n].alive--
	}
}

// nearest returns the live item closest to p, or -1 when all are removed.
func (t *kdTree) nearest(p mgl32.Vec3) int {
	if len(t.nodes) == 0 {
		return -1
	}
	best := -1
	bestDist := float32(math.Inf(1))
	t.search(0, p, &best, &bestDist)
	return best
}

func (t *kdTree) search(n int32, p mgl32.Vec3, best *int, bestDist *float32) {
	node := &t.nodes[n]
	if node.alive == 0 {
		return
	}

	if node.axis < 0 {
		for _, it := range t.items[node.first : node.first+node.count] {
			if t.removed[it] {
				continue
			}
			d := t.points[it].Sub(p)
			dist := d.Dot(d)
			if dist < *bestDist || (dist == *bestDist && int(it) < *best) {
				*best = int(it)
				*bestDist = dist
			}
		}
		return
	}

	delta := p[node.axis] - node.split
	near, far := node.left, node.right
	if delta > 0 {
		near, far = node.right, node.left
	}
	t.search(near, p, best, bestDist)
	if delta*delta <= *bestDist {
		t.search(far, p, best, bestDist)
	}
}
