package shaders

import (
	_ "embed"
)

//go:embed cluster_cull.wgsl
var ClusterCullWGSL string
