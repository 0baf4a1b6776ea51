package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gekko3d/meshcull/rt/core"

	"github.com/cogentcore/webgpu/wgpu"
)

// FrustumSize is the byte size of the packed frustum uniform.
//
//	struct Frustum {
//	   planes : array<vec4<f32>, 6>;   -- 96
//	   corners : array<vec4<f32>, 8>;  -- 224 (w = 1 when valid, 0 otherwise)
//	}; -> 224 bytes
const FrustumSize = 224

// PackFrustum writes planes then corners as little-endian vec4s.
func PackFrustum(f *core.Frustum) []byte {
	buf := make([]byte, FrustumSize)

	put := func(offset int, x, y, z, w float32) {
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(x))
		binary.LittleEndian.PutUint32(buf[offset+4:], math.Float32bits(y))
		binary.LittleEndian.PutUint32(buf[offset+8:], math.Float32bits(z))
		binary.LittleEndian.PutUint32(buf[offset+12:], math.Float32bits(w))
	}

	for i, p := range f.Planes {
		put(i*16, p.X(), p.Y(), p.Z(), p.W())
	}

	valid := float32(0)
	if f.CornersValid() {
		valid = 1
	}
	for i, c := range f.Corners {
		put(96+i*16, c.X(), c.Y(), c.Z(), valid)
	}
	return buf
}

// FrustumUniform keeps one uniform buffer holding the current frustum.
type FrustumUniform struct {
	Device *wgpu.Device
	Buffer *wgpu.Buffer
}

func NewFrustumUniform(device *wgpu.Device) *FrustumUniform {
	return &FrustumUniform{Device: device}
}

// Update uploads f, creating the buffer on first use. It reports whether the
// buffer was recreated, in which case bind groups referencing it are stale.
func (u *FrustumUniform) Update(f *core.Frustum) (bool, error) {
	return ensureBuffer(u.Device, "Frustum", &u.Buffer, PackFrustum(f), wgpu.BufferUsageUniform)
}

func (u *FrustumUniform) Release() {
	if u.Buffer != nil {
		u.Buffer.Release()
		u.Buffer = nil
	}
}

// ensureBuffer grows buf to fit data and writes data at offset 0.
func ensureBuffer(device *wgpu.Device, name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage) (bool, error) {
	neededSize := alignedSize(len(data))

	current := *buf
	recreated := false
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
		}
		newBuf, err := device.CreateBuffer(&wgpu.BufferDescriptor{
			Label:            name,
			Size:             neededSize,
			Usage:            usage | wgpu.BufferUsageCopyDst,
			MappedAtCreation: false,
		})
		if err != nil {
			*buf = nil
			return false, fmt.Errorf("failed to create %s buffer: %w", name, err)
		}
		*buf = newBuf
		recreated = true
	}

	if len(data) > 0 {
		device.GetQueue().WriteBuffer(*buf, 0, data)
	}
	return recreated, nil
}

// alignedSize rounds n up to the 4-byte copy alignment, never below 4.
func alignedSize(n int) uint64 {
	size := uint64(n)
	if size%4 != 0 {
		size += 4 - size%4
	}
	if size == 0 {
		size = 4
	}
	return size
}
