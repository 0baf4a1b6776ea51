package meshlet

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitCube is [0,1]^3 with outward facing triangles.
func unitCube() ([]mgl32.Vec3, []uint32) {
	positions := []mgl32.Vec3{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
	}
	indices := []uint32{
		0, 2, 1, 0, 3, 2, // -Z
		4, 5, 6, 4, 6, 7, // +Z
		0, 1, 5, 0, 5, 4, // -Y
		3, 6, 2, 3, 7, 6, // +Y
		0, 4, 7, 0, 7, 3, // -X
		1, 2, 6, 1, 6, 5, // +X
	}
	return positions, indices
}

// torus builds a closed torus with jittered vertices and shuffled triangle order.
func torus(rng *rand.Rand, rings, sides int) ([]mgl32.Vec3, []uint32) {
	const major, minor = 3.0, 1.0
	positions := make([]mgl32.Vec3, 0, rings*sides)
	for i := 0; i < rings; i++ {
		u := 2 * math.Pi * float64(i) / float64(rings)
		for j := 0; j < sides; j++ {
			v := 2 * math.Pi * float64(j) / float64(sides)
			r := minor * (1 + 0.1*(rng.Float64()-0.5))
			positions = append(positions, mgl32.Vec3{
				float32((major + r*math.Cos(v)) * math.Cos(u)),
				float32((major + r*math.Cos(v)) * math.Sin(u)),
				float32(r * math.Sin(v)),
			})
		}
	}

	var tris [][3]uint32
	for i := 0; i < rings; i++ {
		for j := 0; j < sides; j++ {
			a := uint32(i*sides + j)
			b := uint32(((i+1)%rings)*sides + j)
			c := uint32(((i+1)%rings)*sides + (j+1)%sides)
			d := uint32(i*sides + (j+1)%sides)
			tris = append(tris, [3]uint32{a, b, c}, [3]uint32{a, c, d})
		}
	}
	rng.Shuffle(len(tris), func(i, j int) { tris[i], tris[j] = tris[j], tris[i] })

	indices := make([]uint32, 0, len(tris)*3)
	for _, t := range tris {
		indices = append(indices, t[0], t[1], t[2])
	}
	return positions, indices
}

// grid builds an n x n vertex plane at z=0 facing +Z.
func grid(n int) ([]mgl32.Vec3, []uint32) {
	var positions []mgl32.Vec3
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			positions = append(positions, mgl32.Vec3{float32(x), float32(y), 0})
		}
	}
	var indices []uint32
	for y := 0; y < n-1; y++ {
		for x := 0; x < n-1; x++ {
			a := uint32(y*n + x)
			b := a + 1
			c := a + uint32(n) + 1
			d := a + uint32(n)
			indices = append(indices, a, b, c, a, c, d)
		}
	}
	return positions, indices
}

// checkPartition verifies coverage, caps, compaction and alignment.
func checkPartition(t *testing.T, res *Result, indices []uint32, maxV, maxT int) {
	t.Helper()

	want := map[[3]uint32]int{}
	for i := 0; i < len(indices); i += 3 {
		want[[3]uint32{indices[i], indices[i+1], indices[i+2]}]++
	}

	got := map[[3]uint32]int{}
	for i, m := range res.Meshlets {
		require.LessOrEqual(t, int(m.VertexCount), maxV, "meshlet %d vertex cap", i)
		require.LessOrEqual(t, int(m.TriangleCount), maxT, "meshlet %d triangle cap", i)
		require.NotZero(t, m.TriangleCount, "meshlet %d is empty", i)
		require.Zero(t, m.TriangleOffset%4, "meshlet %d triangle offset alignment", i)

		referenced := make([]bool, m.VertexCount)
		tris := res.MeshletTriangles(i)
		for _, l := range tris {
			require.Less(t, uint32(l), m.VertexCount, "meshlet %d local index", i)
			referenced[l] = true
		}
		for l, ok := range referenced {
			assert.Truef(t, ok, "meshlet %d local vertex %d is not referenced", i, l)
		}

		unique := map[uint32]bool{}
		for _, v := range res.MeshletVertices(i) {
			assert.Falsef(t, unique[v], "meshlet %d remaps vertex %d twice", i, v)
			unique[v] = true
		}

		for tri := 0; tri < int(m.TriangleCount); tri++ {
			got[res.GlobalTriangle(i, tri)]++
		}
	}

	assert.Equal(t, len(indices)/3, res.TriangleCount())
	assert.Equal(t, want, got)
	assert.Len(t, res.Bounds, len(res.Meshlets))
}

func TestUnitCubeSingleMeshlet(t *testing.T) {
	positions, indices := unitCube()

	res, err := NewBuilder().Build(positions, indices)
	require.NoError(t, err)
	require.Len(t, res.Meshlets, 1)

	m := res.Meshlets[0]
	assert.Equal(t, uint32(12), m.TriangleCount)
	assert.Equal(t, uint32(8), m.VertexCount)

	b := res.Bounds[0]
	assert.InDelta(t, 0.5, b.Center.X(), 1e-3)
	assert.InDelta(t, 0.5, b.Center.Y(), 1e-3)
	assert.InDelta(t, 0.5, b.Center.Z(), 1e-3)
	assert.InDelta(t, math.Sqrt(3)/2, b.Radius, 1e-3)

	// Normals point every way; the cone is useless.
	assert.False(t, b.ConeEnabled())
	checkPartition(t, res, indices, MaxVertices, MaxTriangles)
}

func TestCoverageAndCaps(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		rng := rand.New(rand.NewSource(seed))
		positions, indices := torus(rng, 24+int(seed%5), 16)
		require.Greater(t, len(indices)/3, MaxTriangles)

		res, err := NewBuilder().Build(positions, indices)
		require.NoError(t, err)
		require.Greater(t, len(res.Meshlets), 1)
		assert.LessOrEqual(t, len(res.Meshlets), BuildBound(len(indices), MaxVertices, MaxTriangles))
		checkPartition(t, res, indices, MaxVertices, MaxTriangles)
	}
}

func TestCoverageWithSmallLimits(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	positions, indices := torus(rng, 20, 12)

	b := &Builder{MaxVertices: 10, MaxTriangles: 8, ConeWeight: 0.25}
	res, err := b.Build(positions, indices)
	require.NoError(t, err)
	checkPartition(t, res, indices, 10, 8)
}

func TestBoundingSphereContainsMeshletVertices(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	positions, indices := torus(rng, 32, 20)

	res, err := NewBuilder().Build(positions, indices)
	require.NoError(t, err)

	const eps = 1e-4
	for i, b := range res.Bounds {
		for _, v := range res.MeshletVertices(i) {
			d := positions[v].Sub(b.Center).Len()
			assert.LessOrEqualf(t, d, b.Radius+eps, "meshlet %d vertex %d outside its sphere", i, v)
		}
	}
}

func TestEmptyMesh(t *testing.T) {
	res, err := NewBuilder().Build(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Meshlets)
	assert.Zero(t, cap(res.Vertices))
	assert.Zero(t, cap(res.Triangles))
	assert.Zero(t, BuildBound(0, MaxVertices, MaxTriangles))

	// Vertices without triangles are still an empty mesh.
	res, err = NewBuilder().Build([]mgl32.Vec3{{1, 2, 3}}, []uint32{})
	require.NoError(t, err)
	assert.Empty(t, res.Meshlets)
}

func TestSmallMeshFitsOneMeshlet(t *testing.T) {
	positions, indices := grid(7) // 49 vertices, 72 triangles

	res, err := NewBuilder().Build(positions, indices)
	require.NoError(t, err)
	require.Len(t, res.Meshlets, 1)
	assert.Equal(t, uint32(72), res.Meshlets[0].TriangleCount)
	assert.Equal(t, uint32(49), res.Meshlets[0].VertexCount)
}

func TestInputValidation(t *testing.T) {
	positions, indices := unitCube()

	_, err := NewBuilder().Build(positions, indices[:len(indices)-1])
	assert.True(t, errors.Is(err, ErrIndexCount))

	bad := append([]uint32{}, indices...)
	bad[5] = 8
	_, err = NewBuilder().Build(positions, bad)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for _, p := range []mgl32.Vec3{{nan, 0, 0}, {0, inf, 0}, {0, 0, -inf}} {
		broken := append([]mgl32.Vec3{}, positions...)
		broken[6] = p
		_, err = NewBuilder().Build(broken, indices)
		assert.ErrorIs(t, err, ErrNonFinite)
	}

	// Unreferenced vertices are not inspected.
	extra := append(append([]mgl32.Vec3{}, positions...), mgl32.Vec3{nan, nan, nan})
	res, err := NewBuilder().Build(extra, indices)
	require.NoError(t, err)
	assert.Equal(t, len(indices)/3, res.TriangleCount())

	for _, b := range []*Builder{
		{MaxVertices: 2, MaxTriangles: 124, ConeWeight: 0.5},
		{MaxVertices: 256, MaxTriangles: 124, ConeWeight: 0.5},
		{MaxVertices: 64, MaxTriangles: 0, ConeWeight: 0.5},
		{MaxVertices: 64, MaxTriangles: 124, ConeWeight: 1.5},
		{},
	} {
		_, err := b.Build(positions, indices)
		assert.ErrorIs(t, err, ErrInvalidLimits)
	}
}

func TestClustererReportsUnplacedTriangles(t *testing.T) {
	// Two disjoint triangles; the second has no reachable centroid.
	positions := []mgl32.Vec3{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0},
		{float32(math.NaN()), 0, 0}, {5, 0, 0}, {5, 1, 0},
	}
	indices := []uint32{0, 1, 2, 3, 4, 5}

	_, err := newClusterer(NewBuilder(), positions, indices).run()
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = NewBuilder().Build(positions, indices)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestDegenerateTrianglesAreKept(t *testing.T) {
	positions, indices := unitCube()
	indices = append(indices, 0, 0, 1, 2, 2, 2)

	res, err := NewBuilder().Build(positions, indices)
	require.NoError(t, err)
	checkPartition(t, res, indices, MaxVertices, MaxTriangles)
}

func TestGenerateMeshletsFromInterleavedVertices(t *testing.T) {
	positions, indices := unitCube()

	// position, normal, uv
	const stride = 8
	data := make([]float32, 0, len(positions)*stride)
	for _, p := range positions {
		data = append(data, p.X(), p.Y(), p.Z(), 0, 0, 1, 0.5, 0.5)
	}

	res, err := GenerateMeshlets(data, stride, indices)
	require.NoError(t, err)
	require.Len(t, res.Meshlets, 1)
	assert.InDelta(t, 0.5, res.Bounds[0].Center.Z(), 1e-3)

	_, err = GenerateMeshlets(data[:len(data)-1], stride, indices)
	assert.ErrorIs(t, err, ErrStride)
	_, err = GenerateMeshlets(data, 2, indices)
	assert.ErrorIs(t, err, ErrStride)
}

func TestBuildIsDeterministic(t *testing.T) {
	positions, indices := torus(rand.New(rand.NewSource(5)), 18, 10)

	a, err := NewBuilder().Build(positions, indices)
	require.NoError(t, err)
	b, err := NewBuilder().Build(positions, indices)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildBound(t *testing.T) {
	assert.Equal(t, 1, BuildBound(36, 64, 124))
	// 3000 indices: ceil(3000/62) = 49 beats ceil(1000/124) = 9.
	assert.Equal(t, 49, BuildBound(3000, 64, 124))
	assert.Equal(t, 0, BuildBound(3, 2, 124))
}

func TestFlatPatchHasTightCone(t *testing.T) {
	positions, indices := grid(5)

	res, err := NewBuilder().Build(positions, indices)
	require.NoError(t, err)
	require.Len(t, res.Meshlets, 1)

	b := res.Bounds[0]
	require.True(t, b.ConeEnabled())
	assert.InDelta(t, 1, b.ConeAxis.Z(), 1e-5)
	assert.InDelta(t, 0, b.ConeCutoff, 1e-3)
	assert.Equal(t, [3]int8{0, 0, 127}, b.ConeAxisS8)

	assert.True(t, b.IsBackfacing(mgl32.Vec3{2, 2, -10}), "camera under the patch")
	assert.False(t, b.IsBackfacing(mgl32.Vec3{2, 2, 10}), "camera above the patch")
}
