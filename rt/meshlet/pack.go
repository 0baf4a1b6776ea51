package meshlet

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Matches WGSL
//
//	struct Meshlet {
//	   vertex_offset : u32;
//	   triangle_offset : u32;
//	   vertex_count : u32;
//	   triangle_count : u32;
//	}; -> 16 bytes
//
//	struct MeshletBounds {
//	   center_radius : vec4<f32>;  (16)
//	   cone_apex : vec4<f32>;      (16) w unused
//	   cone_axis_cutoff : vec4<f32>; (16)
//	   cone_s8 : u32;              (4) axis.xyz, cutoff as snorm8
//	   padding : u32[3];           (12)
//	}; -> 64 bytes
const (
	DescriptorSize = 16
	BoundsSize     = 64
)

// Packed is the little-endian byte form of a Result, ready for storage buffers.
// The triangle stream is already 4-byte aligned per meshlet.
type Packed struct {
	Count     int
	Meshlets  []byte
	Bounds    []byte
	Vertices  []byte
	Triangles []byte
}

func Pack(r *Result) Packed {
	p := Packed{
		Count:     len(r.Meshlets),
		Meshlets:  make([]byte, len(r.Meshlets)*DescriptorSize),
		Bounds:    make([]byte, len(r.Bounds)*BoundsSize),
		Vertices:  make([]byte, len(r.Vertices)*4),
		Triangles: make([]byte, (len(r.Triangles)+3)&^3),
	}

	for i, m := range r.Meshlets {
		buf := p.Meshlets[i*DescriptorSize:]
		binary.LittleEndian.PutUint32(buf[0:4], m.VertexOffset)
		binary.LittleEndian.PutUint32(buf[4:8], m.TriangleOffset)
		binary.LittleEndian.PutUint32(buf[8:12], m.VertexCount)
		binary.LittleEndian.PutUint32(buf[12:16], m.TriangleCount)
	}

	for i, b := range r.Bounds {
		buf := p.Bounds[i*BoundsSize:]
		putVec4(buf[0:16], b.Center, b.Radius)
		putVec4(buf[16:32], b.ConeApex, 0)
		putVec4(buf[32:48], b.ConeAxis, b.ConeCutoff)
		buf[48] = byte(b.ConeAxisS8[0])
		buf[49] = byte(b.ConeAxisS8[1])
		buf[50] = byte(b.ConeAxisS8[2])
		buf[51] = byte(b.ConeCutoffS8)
	}

	for i, v := range r.Vertices {
		binary.LittleEndian.PutUint32(p.Vertices[i*4:i*4+4], v)
	}
	copy(p.Triangles, r.Triangles)
	return p
}

// UnpackBounds decodes one bounds record written by Pack.
func UnpackBounds(buf []byte) Bounds {
	var b Bounds
	b.Center, b.Radius = getVec4(buf[0:16])
	b.ConeApex, _ = getVec4(buf[16:32])
	b.ConeAxis, b.ConeCutoff = getVec4(buf[32:48])
	b.ConeAxisS8 = [3]int8{int8(buf[48]), int8(buf[49]), int8(buf[50])}
	b.ConeCutoffS8 = int8(buf[51])
	return b
}

func putVec4(buf []byte, v mgl32.Vec3, w float32) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v.Z()))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(w))
}

func getVec4(buf []byte) (mgl32.Vec3, float32) {
	f := func(off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return mgl32.Vec3{f(0), f(4), f(8)}, f(12)
}
