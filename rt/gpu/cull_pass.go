package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gekko3d/meshcull/rt/core"
	"github.com/gekko3d/meshcull/rt/shaders"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// CullParamsSize matches
//
//	struct CullParams {
//	   world : mat4x4<f32>;       -- 64
//	   camera_local : vec4<f32>;  -- 80
//	   scale : f32;               -- 84
//	   meshlet_count : u32;       -- 88
//	   backface : u32;            -- 92
//	   _pad : u32;
//	}; -> 96 bytes
const CullParamsSize = 96

const cullWorkgroupSize = 64

var ErrFrustumNotUploaded = errors.New("frustum uniform not uploaded")

// CullParams describes one mesh instance for the cluster culling pass.
type CullParams struct {
	World        mgl32.Mat4
	CameraLocal  mgl32.Vec3
	Scale        float32
	MeshletCount uint32
	Backface     bool
}

// NewCullParams derives the instance parameters from its world transform. The
// cone test is switched off for transforms that do not preserve angles.
func NewCullParams(world mgl32.Mat4, cameraPos mgl32.Vec3, meshletCount int, backface bool) CullParams {
	p := CullParams{
		World:        world,
		Scale:        core.MaxScale(world),
		MeshletCount: uint32(meshletCount),
		Backface:     backface && core.IsUniformScale(world),
	}
	if p.Backface {
		p.CameraLocal = mgl32.TransformCoordinate(cameraPos, world.Inv())
	}
	return p
}

func (p CullParams) Bytes() []byte {
	buf := make([]byte, CullParamsSize)
	for i, v := range p.World {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(buf[64:], math.Float32bits(p.CameraLocal.X()))
	binary.LittleEndian.PutUint32(buf[68:], math.Float32bits(p.CameraLocal.Y()))
	binary.LittleEndian.PutUint32(buf[72:], math.Float32bits(p.CameraLocal.Z()))
	binary.LittleEndian.PutUint32(buf[76:], 0)
	binary.LittleEndian.PutUint32(buf[80:], math.Float32bits(p.Scale))
	binary.LittleEndian.PutUint32(buf[84:], p.MeshletCount)
	if p.Backface {
		binary.LittleEndian.PutUint32(buf[88:], 1)
	}
	return buf
}

// VisibleListSize is the byte size of the output list for count meshlets: a u32
// counter followed by one u32 index per meshlet.
func VisibleListSize(count int) int {
	return 4 + 4*count
}

// ClusterCullPass runs cluster_cull.wgsl over one mesh instance.
type ClusterCullPass struct {
	Device   *wgpu.Device
	Pipeline *wgpu.ComputePipeline

	ParamsBuf  *wgpu.Buffer
	VisibleBuf *wgpu.Buffer
}

func NewClusterCullPass(device *wgpu.Device) (*ClusterCullPass, error) {
	module, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Cluster Cull CS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.ClusterCullWGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster cull shader: %w", err)
	}
	defer module.Release()

	// Layout auto
	pipeline, err := device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "Cluster Cull Pipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster cull pipeline: %w", err)
	}
	return &ClusterCullPass{Device: device, Pipeline: pipeline}, nil
}

// Encode records the culling dispatch for one instance. The visible list is reset
// on the queue before the pass runs; read it back from VisibleBuf afterwards.
func (p *ClusterCullPass) Encode(encoder *wgpu.CommandEncoder, frustum *FrustumUniform, meshlets *MeshletBuffers, params CullParams) error {
	if frustum.Buffer == nil {
		return fmt.Errorf("cluster cull: %w", ErrFrustumNotUploaded)
	}
	if params.MeshletCount == 0 {
		return nil
	}

	if _, err := ensureBuffer(p.Device, "CullParams", &p.ParamsBuf, params.Bytes(), wgpu.BufferUsageUniform); err != nil {
		return err
	}
	list := make([]byte, VisibleListSize(int(params.MeshletCount)))
	if _, err := ensureBuffer(p.Device, "VisibleMeshlets", &p.VisibleBuf, list, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc); err != nil {
		return err
	}

	bg0, err := p.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Cluster Cull Frame",
		Layout: p.Pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: frustum.Buffer, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: p.ParamsBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create cluster cull bind group 0: %w", err)
	}
	defer bg0.Release()

	bg1, err := p.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Cluster Cull Mesh",
		Layout: p.Pipeline.GetBindGroupLayout(1),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: meshlets.Bounds, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: p.VisibleBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create cluster cull bind group 1: %w", err)
	}
	defer bg1.Release()

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(p.Pipeline)
	pass.SetBindGroup(0, bg0, nil)
	pass.SetBindGroup(1, bg1, nil)
	pass.DispatchWorkgroups((params.MeshletCount+cullWorkgroupSize-1)/cullWorkgroupSize, 1, 1)
	pass.End()
	return nil
}

func (p *ClusterCullPass) Release() {
	for _, buf := range []**wgpu.Buffer{&p.ParamsBuf, &p.VisibleBuf} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	if p.Pipeline != nil {
		p.Pipeline.Release()
		p.Pipeline = nil
	}
}
