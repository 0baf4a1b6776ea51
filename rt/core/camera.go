package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type CameraState struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32

	FovY   float32 // radians
	Aspect float32
	Near   float32
	Far    float32

	Orthographic    bool
	OrthoHalfHeight float32
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position:        mgl32.Vec3{0, 2, 20},
		FovY:            mgl32.DegToRad(60),
		Aspect:          16.0 / 9.0,
		Near:            0.1,
		Far:             1000.0,
		OrthoHalfHeight: 10,
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	// Z-up: Forward in XY plane, Z for pitch
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	// Z-up: Right in XY plane
	return mgl32.Vec3{
		float32(-math.Sin(float64(c.Yaw))),
		float32(math.Cos(float64(c.Yaw))),
		0,
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	forward := c.GetForward()
	eye := c.Position
	target := eye.Add(forward)
	up := mgl32.Vec3{0, 0, 1} // Z-up
	return mgl32.LookAtV(eye, target, up)
}

func (c *CameraState) GetProjectionMatrix() mgl32.Mat4 {
	if c.Orthographic {
		h := c.OrthoHalfHeight
		w := h * c.Aspect
		return mgl32.Ortho(-w, w, -h, h, c.Near, c.Far)
	}
	return mgl32.Perspective(c.FovY, c.Aspect, c.Near, c.Far)
}

// ViewProjection is the matrix handed to Frustum.RecreateFrustum each frame.
func (c *CameraState) ViewProjection() mgl32.Mat4 {
	return c.GetProjectionMatrix().Mul4(c.GetViewMatrix())
}
