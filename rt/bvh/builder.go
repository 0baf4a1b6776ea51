package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// NodeSize is the byte size of one node in the storage buffer.
//
//	struct BVHNode {
//	   aabb_min : vec4<f32>; (16)
//	   aabb_max : vec4<f32>; (16)
//	   left : i32; (4)
//	   right : i32; (4)
//	   leaf_first : i32; (4)
//	   leaf_count : i32; (4)
//	   padding : i32[4]; (16)
//	}; -> 64 bytes
const NodeSize = 64

// Node is a BVH node. Leaves have Left == Right == -1 and reference LeafCount
// consecutive entries of the builder's item order starting at LeafFirst.
type Node struct {
	Min       mgl32.Vec3
	Max       mgl32.Vec3
	Left      int32
	Right     int32
	LeafFirst int32
	LeafCount int32
}

func (n *Node) IsLeaf() bool {
	return n.Left < 0 && n.Right < 0
}

func (n *Node) ToBytes() []byte {
	buf := make([]byte, NodeSize)
	n.put(buf)
	return buf
}

func (n *Node) put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(n.Min.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(n.Min.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(n.Min.Z()))
	binary.LittleEndian.PutUint32(buf[12:16], 0)

	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(n.Max.X()))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(n.Max.Y()))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(n.Max.Z()))
	binary.LittleEndian.PutUint32(buf[28:32], 0)

	binary.LittleEndian.PutUint32(buf[32:36], uint32(n.Left))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(n.Right))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(n.LeafFirst))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(n.LeafCount))
}

// NodeFromBytes decodes one node written by ToBytes.
func NodeFromBytes(buf []byte) Node {
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	i := func(off int) int32 {
		return int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return Node{
		Min:       mgl32.Vec3{f(0), f(4), f(8)},
		Max:       mgl32.Vec3{f(16), f(20), f(24)},
		Left:      i(32),
		Right:     i(36),
		LeafFirst: i(40),
		LeafCount: i(44),
	}
}

type item struct {
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Centroid mgl32.Vec3
	Index    int
}

// Builder builds a median-split BVH over boxes. Leaves hold at most LeafSize items;
// zero means one item per leaf.
type Builder struct {
	LeafSize int
}

// Build returns the serialized nodes. An empty input still yields one empty root node.
func (b *Builder) Build(aabbs [][2]mgl32.Vec3) []byte {
	nodes, _ := b.BuildNodes(aabbs)
	if len(nodes) == 0 {
		empty := Node{Left: -1, Right: -1, LeafFirst: -1}
		return empty.ToBytes()
	}
	return Serialize(nodes)
}

// BuildNodes returns the nodes and the item order the leaves index into:
// leaf entry k refers to aabbs[order[k]].
func (b *Builder) BuildNodes(aabbs [][2]mgl32.Vec3) ([]Node, []int) {
	if len(aabbs) == 0 {
		return nil, nil
	}

	items := make([]item, len(aabbs))
	for i, bounds := range aabbs {
		items[i] = item{
			Min:      bounds[0],
			Max:      bounds[1],
			Centroid: bounds[0].Add(bounds[1]).Mul(0.5),
			Index:    i,
		}
	}

	nodes := make([]Node, 0, 2*len(items))
	b.recursiveBuild(items, 0, &nodes)

	order := make([]int, len(items))
	for i, it := range items {
		order[i] = it.Index
	}
	return nodes, order
}

func Serialize(nodes []Node) []byte {
	out := make([]byte, len(nodes)*NodeSize)
	for i := range nodes {
		nodes[i].put(out[i*NodeSize : (i+1)*NodeSize])
	}
	return out
}

func (b *Builder) recursiveBuild(items []item, first int, nodes *[]Node) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, Node{Left: -1, Right: -1, LeafFirst: -1, LeafCount: 0})

	inf := float32(math.Inf(1))
	minB := mgl32.Vec3{inf, inf, inf}
	maxB := mgl32.Vec3{-inf, -inf, -inf}
	for _, it := range items {
		minB = mgl32.Vec3{min(minB.X(), it.Min.X()), min(minB.Y(), it.Min.Y()), min(minB.Z(), it.Min.Z())}
		maxB = mgl32.Vec3{max(maxB.X(), it.Max.X()), max(maxB.Y(), it.Max.Y()), max(maxB.Z(), it.Max.Z())}
	}

	(*nodes)[idx].Min = minB
	(*nodes)[idx].Max = maxB

	leafSize := max(b.LeafSize, 1)
	if len(items) <= leafSize {
		(*nodes)[idx].LeafFirst = int32(first)
		(*nodes)[idx].LeafCount = int32(len(items))
		return idx
	}

	// Split on the longest axis of the node bounds.
	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Centroid[axis] < items[j].Centroid[axis]
	})

	mid := len(items) / 2
	left := b.recursiveBuild(items[:mid], first, nodes)
	right := b.recursiveBuild(items[mid:], first+mid, nodes)
	(*nodes)[idx].Left = left
	(*nodes)[idx].Right = right

	return idx
}

// Visit walks the tree from the root. accept decides whether to descend into a node;
// leaf is called with the leaf range for every accepted leaf.
func Visit(nodes []Node, accept func(n *Node) bool, leaf func(first, count int)) {
	if len(nodes) == 0 {
		return
	}
	stack := make([]int32, 0, 64)
	stack = append(stack, 0)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &nodes[i]
		if !accept(n) {
			continue
		}
		if n.IsLeaf() {
			leaf(int(n.LeafFirst), int(n.LeafCount))
			continue
		}
		stack = append(stack, n.Right, n.Left)
	}
}
