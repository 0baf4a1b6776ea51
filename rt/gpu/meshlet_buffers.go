package gpu

import (
	"github.com/gekko3d/meshcull/rt/meshlet"

	"github.com/cogentcore/webgpu/wgpu"
)

// MeshletBuffers holds the storage buffers of one uploaded mesh.
//
// Binding layout used by the cluster culling pass:
//
//	@binding(0) meshlets  : array<Meshlet>
//	@binding(1) bounds    : array<MeshletBounds>
//	@binding(2) vertices  : array<u32>
//	@binding(3) triangles : array<u32> (packed u8 triples)
//	@binding(4) bvh_nodes : array<BVHNode>
type MeshletBuffers struct {
	Device *wgpu.Device

	Meshlets  *wgpu.Buffer
	Bounds    *wgpu.Buffer
	Vertices  *wgpu.Buffer
	Triangles *wgpu.Buffer
	BVHNodes  *wgpu.Buffer

	Count int
}

// UploadMeshlets creates storage buffers for packed and bvhBytes. On failure every
// buffer created so far is released.
func UploadMeshlets(device *wgpu.Device, packed meshlet.Packed, bvhBytes []byte) (*MeshletBuffers, error) {
	b := &MeshletBuffers{Device: device}
	if err := b.Update(packed, bvhBytes); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// Update rewrites the buffers, growing any that are too small.
func (b *MeshletBuffers) Update(packed meshlet.Packed, bvhBytes []byte) error {
	targets := []struct {
		name string
		buf  **wgpu.Buffer
		data []byte
	}{
		{"MeshletDescriptors", &b.Meshlets, packed.Meshlets},
		{"MeshletBounds", &b.Bounds, packed.Bounds},
		{"MeshletVertices", &b.Vertices, packed.Vertices},
		{"MeshletTriangles", &b.Triangles, packed.Triangles},
		{"MeshletBVHNodes", &b.BVHNodes, bvhBytes},
	}
	for _, t := range targets {
		if _, err := ensureBuffer(b.Device, t.name, t.buf, t.data, wgpu.BufferUsageStorage); err != nil {
			return err
		}
	}
	b.Count = packed.Count
	return nil
}

func (b *MeshletBuffers) Release() {
	for _, buf := range []**wgpu.Buffer{&b.Meshlets, &b.Bounds, &b.Vertices, &b.Triangles, &b.BVHNodes} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	b.Count = 0
}
