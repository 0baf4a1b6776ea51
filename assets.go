package meshcull

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/meshcull/rt/bvh"
	"github.com/gekko3d/meshcull/rt/core"
	"github.com/gekko3d/meshcull/rt/meshlet"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type AssetId string

func makeAssetId() AssetId {
	return AssetId(uuid.NewString())
}

var ErrAssetNotFound = errors.New("mesh asset not found")

// Meshlets per BVH leaf; one workgroup tests a leaf.
const meshletLeafSize = 4

// MeshSource is an indexed triangle mesh. Either Positions is set, or VertexData
// holds Stride floats per vertex with the position first.
type MeshSource struct {
	Name       string
	Positions  []mgl32.Vec3
	VertexData []float32
	Stride     int
	Indices    []uint32
}

func (src MeshSource) positions() ([]mgl32.Vec3, error) {
	if src.Positions != nil || src.VertexData == nil {
		return src.Positions, nil
	}
	return meshlet.PositionsFromFloats(src.VertexData, src.Stride)
}

// MeshAsset is a mesh split into meshlets. Meshlets are stored in BVH leaf order,
// so a leaf range indexes Meshlets.Meshlets and Meshlets.Bounds directly.
type MeshAsset struct {
	Id      AssetId
	Name    string
	Version uint

	Positions   []mgl32.Vec3
	Indices     []uint32
	Meshlets    *meshlet.Result
	LocalBounds core.AABB

	BVHNodes []bvh.Node
	BVHBytes []byte
}

type MeshAssetServer struct {
	mu      sync.RWMutex
	meshes  map[AssetId]*MeshAsset
	builder *meshlet.Builder
	workers int
	logger  Logger
}

func NewMeshAssetServer(cfg MeshletConfig, logger Logger) (*MeshAssetServer, error) {
	builder := cfg.Builder()
	if err := builder.Validate(); err != nil {
		return nil, err
	}
	return &MeshAssetServer{
		meshes:  make(map[AssetId]*MeshAsset),
		builder: builder,
		workers: workerLimit(cfg.Workers),
		logger:  orNop(logger),
	}, nil
}

func (server *MeshAssetServer) LoadMesh(src MeshSource) (AssetId, error) {
	asset, err := server.buildAsset(src)
	if err != nil {
		return "", err
	}
	asset.Id = makeAssetId()

	server.mu.Lock()
	server.meshes[asset.Id] = asset
	server.mu.Unlock()

	server.logger.Debugf("loaded mesh %q as %s: %d triangles in %d meshlets",
		src.Name, asset.Id, len(src.Indices)/3, len(asset.Meshlets.Meshlets))
	return asset.Id, nil
}

// LoadMeshes builds every source in parallel. Either all meshes are stored or,
// on the first error, none are.
func (server *MeshAssetServer) LoadMeshes(ctx context.Context, srcs []MeshSource) ([]AssetId, error) {
	assets := make([]*MeshAsset, len(srcs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(server.workers)
	for i, src := range srcs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			asset, err := server.buildAsset(src)
			if err != nil {
				return err
			}
			assets[i] = asset
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		server.logger.Errorf("batch load of %d meshes failed: %v", len(srcs), err)
		return nil, err
	}

	ids := make([]AssetId, len(assets))
	server.mu.Lock()
	for i, asset := range assets {
		asset.Id = makeAssetId()
		server.meshes[asset.Id] = asset
		ids[i] = asset.Id
	}
	server.mu.Unlock()

	server.logger.Infof("loaded %d meshes", len(ids))
	return ids, nil
}

// UpdateMesh rebuilds an existing asset from new geometry and bumps its version.
// The previous asset value is left untouched for readers still holding it.
func (server *MeshAssetServer) UpdateMesh(id AssetId, src MeshSource) error {
	asset, err := server.buildAsset(src)
	if err != nil {
		return err
	}

	server.mu.Lock()
	defer server.mu.Unlock()
	old, ok := server.meshes[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrAssetNotFound)
	}
	asset.Id = id
	asset.Version = old.Version + 1
	server.meshes[id] = asset

	server.logger.Debugf("mesh %s rebuilt, version %d", id, asset.Version)
	return nil
}

func (server *MeshAssetServer) Mesh(id AssetId) (*MeshAsset, bool) {
	server.mu.RLock()
	defer server.mu.RUnlock()
	asset, ok := server.meshes[id]
	return asset, ok
}

// Unload reports whether the asset existed.
func (server *MeshAssetServer) Unload(id AssetId) bool {
	server.mu.Lock()
	defer server.mu.Unlock()
	if _, ok := server.meshes[id]; !ok {
		return false
	}
	delete(server.meshes, id)
	return true
}

func (server *MeshAssetServer) Len() int {
	server.mu.RLock()
	defer server.mu.RUnlock()
	return len(server.meshes)
}

// Packed returns the GPU byte form of an asset's meshlets and its BVH nodes.
func (server *MeshAssetServer) Packed(id AssetId) (meshlet.Packed, []byte, error) {
	asset, ok := server.Mesh(id)
	if !ok {
		return meshlet.Packed{}, nil, fmt.Errorf("pack %s: %w", id, ErrAssetNotFound)
	}
	return meshlet.Pack(asset.Meshlets), asset.BVHBytes, nil
}

func (server *MeshAssetServer) buildAsset(src MeshSource) (*MeshAsset, error) {
	positions, err := src.positions()
	if err != nil {
		return nil, fmt.Errorf("mesh %q: %w", src.Name, err)
	}
	res, err := server.builder.Build(positions, src.Indices)
	if err != nil {
		return nil, fmt.Errorf("mesh %q: %w", src.Name, err)
	}

	asset := &MeshAsset{
		Name:        src.Name,
		Positions:   positions,
		Indices:     src.Indices,
		Meshlets:    res,
		LocalBounds: core.EmptyAABB(),
	}
	for _, v := range res.Vertices {
		asset.LocalBounds = asset.LocalBounds.Expand(positions[v])
	}

	boxes := make([][2]mgl32.Vec3, len(res.Meshlets))
	for i, b := range res.Bounds {
		r := mgl32.Vec3{b.Radius, b.Radius, b.Radius}
		boxes[i] = [2]mgl32.Vec3{b.Center.Sub(r), b.Center.Add(r)}
	}
	builder := bvh.Builder{LeafSize: meshletLeafSize}
	nodes, order := builder.BuildNodes(boxes)
	reorderMeshlets(res, order)

	asset.BVHNodes = nodes
	if len(nodes) == 0 {
		asset.BVHBytes = builder.Build(nil)
	} else {
		asset.BVHBytes = bvh.Serialize(nodes)
	}
	return asset, nil
}

// reorderMeshlets permutes descriptors and bounds so entry k is old entry order[k].
// Vertex and triangle streams are untouched; descriptors carry their own offsets.
func reorderMeshlets(res *meshlet.Result, order []int) {
	if len(order) == 0 {
		return
	}
	meshlets := make([]meshlet.Meshlet, len(order))
	bounds := make([]meshlet.Bounds, len(order))
	for k, i := range order {
		meshlets[k] = res.Meshlets[i]
		bounds[k] = res.Bounds[i]
	}
	res.Meshlets = meshlets
	res.Bounds = bounds
}
