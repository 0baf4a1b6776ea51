package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// GpuState is a device without a surface, enough for compute culling and
// buffer uploads.
type GpuState struct {
	Adapter *wgpu.Adapter
	Device  *wgpu.Device
	Queue   *wgpu.Queue
}

func NewHeadlessState() (*GpuState, error) {
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Culling Device",
	})
	if err != nil {
		adapter.Release()
		return nil, fmt.Errorf("failed to request device: %w", err)
	}

	return &GpuState{
		Adapter: adapter,
		Device:  device,
		Queue:   device.GetQueue(),
	}, nil
}

// Submit records fn into a fresh encoder and submits the result.
func (s *GpuState) Submit(fn func(encoder *wgpu.CommandEncoder) error) error {
	encoder, err := s.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("failed to create command encoder: %w", err)
	}
	defer encoder.Release()

	if err := fn(encoder); err != nil {
		return err
	}
	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("failed to finish command buffer: %w", err)
	}
	defer cmdBuf.Release()

	s.Queue.Submit(cmdBuf)
	return nil
}

func (s *GpuState) Release() {
	if s.Queue != nil {
		s.Queue.Release()
		s.Queue = nil
	}
	if s.Device != nil {
		s.Device.Release()
		s.Device = nil
	}
	if s.Adapter != nil {
		s.Adapter.Release()
		s.Adapter = nil
	}
}
