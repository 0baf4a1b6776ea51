package core

import (
	"github.com/gekko3d/meshcull/rt/bvh"

	"github.com/go-gl/mathgl/mgl32"
)

// SceneObject is one cullable object: a transform and a local-space box.
type SceneObject struct {
	Transform *Transform
	LocalAABB AABB
	WorldAABB *AABB // nil when LocalAABB is empty

	localDirty bool
}

func NewSceneObject(local AABB) *SceneObject {
	return &SceneObject{
		Transform:  NewTransform(),
		LocalAABB:  local,
		localDirty: true,
	}
}

func (obj *SceneObject) GetWorldTransform() mgl32.Mat4 {
	return obj.Transform.ObjectToWorld()
}

func (obj *SceneObject) GetLocalBounds() AABB {
	return obj.LocalAABB
}

// SetLocalAABB replaces the bounds after the source geometry changed.
func (obj *SceneObject) SetLocalAABB(b AABB) {
	obj.LocalAABB = b
	obj.localDirty = true
}

func (obj *SceneObject) UpdateWorldAABB() bool {
	if !obj.localDirty && !obj.Transform.Dirty && obj.WorldAABB != nil {
		return false
	}

	if obj.LocalAABB.IsEmpty() {
		obj.WorldAABB = nil
	} else {
		w := obj.LocalAABB.Transform(obj.Transform.ObjectToWorld())
		obj.WorldAABB = &w
	}

	obj.localDirty = false
	obj.Transform.Dirty = false
	return true
}

type Scene struct {
	Objects []*SceneObject
	// VisibleObjects is ordered to match the BVH leaf ranges.
	VisibleObjects []*SceneObject
	BVHNodesBytes  []byte

	lastVisible []*SceneObject
}

func NewScene() *Scene {
	return &Scene{
		Objects: []*SceneObject{},
	}
}

func (s *Scene) AddObject(obj *SceneObject) {
	s.Objects = append(s.Objects, obj)
}

func (s *Scene) RemoveObject(obj *SceneObject) {
	for i, o := range s.Objects {
		if o == obj {
			s.Objects = append(s.Objects[:i], s.Objects[i+1:]...)
			return
		}
	}
}

// Commit refreshes world bounds, culls against f and rebuilds the BVH over the
// visible objects when the visible set or any bounds changed.
func (s *Scene) Commit(f *Frustum) {
	anyChanged := false
	for _, obj := range s.Objects {
		if obj.UpdateWorldAABB() {
			anyChanged = true
		}
	}

	s.VisibleObjects = s.VisibleObjects[:0] // Clear but keep capacity
	for _, obj := range s.Objects {
		if obj.WorldAABB == nil {
			continue
		}
		if f.IsAABBInside(obj.LocalAABB, obj.Transform.ObjectToWorld()) {
			s.VisibleObjects = append(s.VisibleObjects, obj)
		}
	}

	if !anyChanged && len(s.BVHNodesBytes) > 0 && sameSet(s.lastVisible, s.VisibleObjects) {
		s.VisibleObjects = append(s.VisibleObjects[:0], s.lastVisible...)
		return
	}

	aabbs := make([][2]mgl32.Vec3, len(s.VisibleObjects))
	for i, obj := range s.VisibleObjects {
		aabbs[i] = obj.WorldAABB.Pair()
	}

	builder := &bvh.Builder{}
	nodes, order := builder.BuildNodes(aabbs)
	if len(nodes) == 0 {
		s.BVHNodesBytes = builder.Build(nil) // Empty BVH
	} else {
		s.BVHNodesBytes = bvh.Serialize(nodes)
		ordered := make([]*SceneObject, len(order))
		for k, idx := range order {
			ordered[k] = s.VisibleObjects[idx]
		}
		copy(s.VisibleObjects, ordered)
	}
	s.lastVisible = append(s.lastVisible[:0], s.VisibleObjects...)
}

func sameSet(a, b []*SceneObject) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[*SceneObject]struct{}, len(a))
	for _, o := range a {
		seen[o] = struct{}{}
	}
	for _, o := range b {
		if _, ok := seen[o]; !ok {
			return false
		}
	}
	return true
}
