package meshlet

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	MaxVertices  = 64
	MaxTriangles = 124
	// ConeWeight trades cluster compactness (0) against tight normal cones (1).
	ConeWeight = 0.5

	// Local vertex indices are stored in one byte.
	maxVerticesLimit  = 255
	maxTrianglesLimit = 512
)

var (
	ErrIndexCount      = errors.New("index count is not a multiple of 3")
	ErrIndexOutOfRange = errors.New("index out of range of the vertex buffer")
	ErrInvalidLimits   = errors.New("invalid meshlet limits")
	ErrNonFinite       = errors.New("vertex position is not finite")
	ErrIncomplete      = errors.New("triangles left out of every meshlet")
	ErrStride          = errors.New("invalid vertex stride")
)

// Meshlet references a range of Result.Vertices and Result.Triangles.
// TriangleOffset is always a multiple of 4.
type Meshlet struct {
	VertexOffset   uint32
	TriangleOffset uint32
	VertexCount    uint32
	TriangleCount  uint32
}

// Result is the output of a build. Vertices maps local to global vertex indices;
// Triangles holds 3 local indices per triangle, padded to 4 bytes per meshlet.
// Bounds[i] belongs to Meshlets[i].
type Result struct {
	Meshlets  []Meshlet
	Vertices  []uint32
	Triangles []uint8
	Bounds    []Bounds
}

func (r *Result) MeshletVertices(i int) []uint32 {
	m := r.Meshlets[i]
	return r.Vertices[m.VertexOffset : m.VertexOffset+m.VertexCount]
}

func (r *Result) MeshletTriangles(i int) []uint8 {
	m := r.Meshlets[i]
	return r.Triangles[m.TriangleOffset : m.TriangleOffset+m.TriangleCount*3]
}

func (r *Result) TriangleCount() int {
	n := 0
	for _, m := range r.Meshlets {
		n += int(m.TriangleCount)
	}
	return n
}

// GlobalTriangle returns the source vertex indices of triangle t of meshlet i.
func (r *Result) GlobalTriangle(i, t int) [3]uint32 {
	verts := r.MeshletVertices(i)
	tris := r.MeshletTriangles(i)
	return [3]uint32{verts[tris[t*3]], verts[tris[t*3+1]], verts[tris[t*3+2]]}
}

// Builder partitions triangle meshes into meshlets. The zero value is not usable;
// start from NewBuilder.
type Builder struct {
	MaxVertices  int
	MaxTriangles int
	ConeWeight   float32
}

func NewBuilder() *Builder {
	return &Builder{
		MaxVertices:  MaxVertices,
		MaxTriangles: MaxTriangles,
		ConeWeight:   ConeWeight,
	}
}

func (b *Builder) Validate() error {
	if b.MaxVertices < 3 || b.MaxVertices > maxVerticesLimit {
		return fmt.Errorf("max vertices %d not in [3, %d]: %w", b.MaxVertices, maxVerticesLimit, ErrInvalidLimits)
	}
	if b.MaxTriangles < 1 || b.MaxTriangles > maxTrianglesLimit {
		return fmt.Errorf("max triangles %d not in [1, %d]: %w", b.MaxTriangles, maxTrianglesLimit, ErrInvalidLimits)
	}
	if b.ConeWeight < 0 || b.ConeWeight > 1 {
		return fmt.Errorf("cone weight %g not in [0, 1]: %w", b.ConeWeight, ErrInvalidLimits)
	}
	return nil
}

// BuildBound is an upper bound on the meshlet count for indexCount indices.
// A meshlet is only closed once it can not take a further triangle, so each closed
// meshlet holds at least maxVertices-2 vertices or maxTriangles triangles.
func BuildBound(indexCount, maxVertices, maxTriangles int) int {
	if indexCount <= 0 || maxVertices < 3 || maxTriangles < 1 {
		return 0
	}
	conservative := maxVertices - 2
	byVertices := (indexCount + conservative - 1) / conservative
	byTriangles := (indexCount/3 + maxTriangles - 1) / maxTriangles
	return max(byVertices, byTriangles)
}

// Build validates the input and partitions it. Zero triangles yield an empty
// result without error.
func (b *Builder) Build(positions []mgl32.Vec3, indices []uint32) (*Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateIndices(indices, len(positions)); err != nil {
		return nil, err
	}
	if err := ValidatePositions(positions, indices); err != nil {
		return nil, err
	}
	if len(indices) == 0 {
		return &Result{}, nil
	}

	res, err := newClusterer(b, positions, indices).run()
	if err != nil {
		return nil, err
	}

	res.Bounds = make([]Bounds, len(res.Meshlets))
	for i := range res.Meshlets {
		res.Bounds[i] = ComputeBounds(positions, res.MeshletVertices(i), res.MeshletTriangles(i))
	}
	return res, nil
}

// ValidateIndices checks the caller contract before any clustering work.
func ValidateIndices(indices []uint32, vertexCount int) error {
	if len(indices)%3 != 0 {
		return fmt.Errorf("%d indices: %w", len(indices), ErrIndexCount)
	}
	for i, idx := range indices {
		if int64(idx) >= int64(vertexCount) {
			return fmt.Errorf("indices[%d] = %d with %d vertices: %w", i, idx, vertexCount, ErrIndexOutOfRange)
		}
	}
	return nil
}

// ValidatePositions rejects NaN and infinite coordinates on every vertex the
// indices reference. Unreferenced vertices are not inspected.
func ValidatePositions(positions []mgl32.Vec3, indices []uint32) error {
	for i, idx := range indices {
		p := positions[idx]
		for a := 0; a < 3; a++ {
			v := float64(p[a])
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("indices[%d] = %d at %v: %w", i, idx, p, ErrNonFinite)
			}
		}
	}
	return nil
}

// PositionsFromFloats reads positions from an interleaved float vertex buffer.
// stride is the number of floats per vertex; the position is the first three.
func PositionsFromFloats(vertexData []float32, stride int) ([]mgl32.Vec3, error) {
	if stride < 3 {
		return nil, fmt.Errorf("stride %d is smaller than a position: %w", stride, ErrStride)
	}
	if len(vertexData)%stride != 0 {
		return nil, fmt.Errorf("%d floats is not a multiple of stride %d: %w", len(vertexData), stride, ErrStride)
	}
	n := len(vertexData) / stride
	positions := make([]mgl32.Vec3, n)
	for i := range positions {
		v := vertexData[i*stride:]
		positions[i] = mgl32.Vec3{v[0], v[1], v[2]}
	}
	return positions, nil
}

// GenerateMeshlets builds meshlets with the default limits from a dense vertex
// buffer and a 32-bit index buffer.
func GenerateMeshlets(vertexData []float32, stride int, indices []uint32) (*Result, error) {
	positions, err := PositionsFromFloats(vertexData, stride)
	if err != nil {
		return nil, err
	}
	return NewBuilder().Build(positions, indices)
}

// shrink drops the unused tail of an upper-bound allocation.
func shrink[T any](s []T) []T {
	if cap(s) == len(s) {
		return s
	}
	return slices.Clone(s)
}
