package meshcull

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gekko3d/meshcull/rt/bvh"
	"github.com/gekko3d/meshcull/rt/core"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"
)

var ErrNoFrustum = errors.New("visibility: BeginFrame has not been called")

// Renderable is anything with local bounds placed in the world by a transform.
type Renderable interface {
	GetWorldTransform() mgl32.Mat4
	GetLocalBounds() core.AABB
}

type CullStats struct {
	Frame           uint64
	Tested          int
	Visible         int
	ClustersTested  int
	ClustersVisible int
}

// VisibilitySystem owns the frame frustum. BeginFrame is the single writer;
// Cull and VisibleMeshlets may run concurrently between frames.
type VisibilitySystem struct {
	mu      sync.RWMutex
	frustum core.Frustum
	ready   bool
	frame   uint64

	cfg    CullingConfig
	logger Logger

	tested          atomic.Int64
	visible         atomic.Int64
	clustersTested  atomic.Int64
	clustersVisible atomic.Int64
}

func NewVisibilitySystem(cfg CullingConfig, logger Logger) *VisibilitySystem {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().Culling.ChunkSize
	}
	return &VisibilitySystem{
		cfg:    cfg,
		logger: orNop(logger),
	}
}

// BeginFrame rebuilds the frustum and resets the statistics. A singular matrix is
// returned as an error, but the planes are still usable and culling proceeds with
// the plane test only.
func (v *VisibilitySystem) BeginFrame(vp mgl32.Mat4) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.frame++
	v.tested.Store(0)
	v.visible.Store(0)
	v.clustersTested.Store(0)
	v.clustersVisible.Store(0)

	err := v.frustum.RecreateFrustum(vp)
	v.ready = true
	if err != nil {
		v.logger.Warnf("frame %d: %v; corner test disabled", v.frame, err)
	}
	return err
}

func (v *VisibilitySystem) BeginFrameCamera(cam *core.CameraState) error {
	return v.BeginFrame(cam.ViewProjection())
}

// Frustum returns a copy of the current frustum, e.g. for GPU upload.
func (v *VisibilitySystem) Frustum() (core.Frustum, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.frustum, v.ready
}

// Cull tests every item against the frustum. Items are split into chunks tested
// in parallel. Nil items and empty bounds are never visible.
func (v *VisibilitySystem) Cull(ctx context.Context, items []Renderable) ([]bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.ready {
		return nil, ErrNoFrustum
	}

	visible := make([]bool, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workerLimit(v.cfg.Workers))
	for start := 0; start < len(items); start += v.cfg.ChunkSize {
		end := min(start+v.cfg.ChunkSize, len(items))
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := 0
			for i := start; i < end; i++ {
				if v.isVisible(items[i]) {
					visible[i] = true
					n++
				}
			}
			v.tested.Add(int64(end - start))
			v.visible.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return visible, nil
}

func (v *VisibilitySystem) isVisible(item Renderable) bool {
	if item == nil {
		return false
	}
	bounds := item.GetLocalBounds()
	if bounds.IsEmpty() {
		return false
	}
	return v.frustum.IsAABBInside(bounds, item.GetWorldTransform())
}

// BuildRenderList returns the indices of the visible items in ascending order.
func (v *VisibilitySystem) BuildRenderList(ctx context.Context, items []Renderable) ([]int, error) {
	visible, err := v.Cull(ctx, items)
	if err != nil {
		return nil, err
	}
	list := make([]int, 0, len(items))
	for i, ok := range visible {
		if ok {
			list = append(list, i)
		}
	}
	return list, nil
}

// VisibleMeshlets returns the meshlet indices of asset that survive cluster
// culling for an instance placed at world, in ascending order. Meshlets are
// tested through the asset BVH, then by bounding sphere, then by normal cone.
// The cone test needs a uniform scale and is skipped otherwise.
func (v *VisibilitySystem) VisibleMeshlets(asset *MeshAsset, world mgl32.Mat4, cameraPos mgl32.Vec3) []uint32 {
	if asset == nil || asset.Meshlets == nil || len(asset.Meshlets.Meshlets) == 0 {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.ready {
		return nil
	}

	res := asset.Meshlets
	count := len(res.Meshlets)
	if !v.cfg.ClusterCulling {
		all := make([]uint32, count)
		for i := range all {
			all[i] = uint32(i)
		}
		return all
	}

	scale := core.MaxScale(world)
	backface := v.cfg.BackfaceCulling && core.IsUniformScale(world)
	var localCam mgl32.Vec3
	if backface {
		localCam = mgl32.TransformCoordinate(cameraPos, world.Inv())
	}

	out := make([]uint32, 0, count)
	tested := 0
	testRange := func(first, n int) {
		for k := first; k < first+n; k++ {
			tested++
			b := res.Bounds[k]
			center := mgl32.TransformCoordinate(b.Center, world)
			if !v.frustum.IsSphereInside(center, b.Radius*scale) {
				continue
			}
			if backface && b.IsBackfacing(localCam) {
				continue
			}
			out = append(out, uint32(k))
		}
	}

	if len(asset.BVHNodes) == 0 {
		testRange(0, count)
	} else {
		bvh.Visit(asset.BVHNodes, func(n *bvh.Node) bool {
			return v.frustum.IsAABBInside(core.NewAABB(n.Min, n.Max), world)
		}, testRange)
		slices.Sort(out)
	}

	v.clustersTested.Add(int64(tested))
	v.clustersVisible.Add(int64(len(out)))
	return out
}

// Stats reports the counters accumulated since the last BeginFrame.
func (v *VisibilitySystem) Stats() CullStats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return CullStats{
		Frame:           v.frame,
		Tested:          int(v.tested.Load()),
		Visible:         int(v.visible.Load()),
		ClustersTested:  int(v.clustersTested.Load()),
		ClustersVisible: int(v.clustersVisible.Load()),
	}
}
