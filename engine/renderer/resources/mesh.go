package resources

import "github.com/spaghettifunk/anima-graph/engine/renderer/gpu"

// Mesh points at geometry already uploaded to device buffers. The mesh owns
// its buffers.
type Mesh struct {
	VertexBuffer   gpu.Buffer
	VertexOffset   uint64
	VertexCount    uint32
	IndexBuffer    gpu.Buffer
	IndexCount     uint32
	IndexType      gpu.IndexType
	InstanceOffset uint32
	InstanceCount  uint32
}

func (m Mesh) Indexed() bool {
	return m.IndexBuffer != 0 && m.IndexCount > 0
}

// Renderable ties a mesh, a material and a transform together.
type Renderable struct {
	Mesh      MeshHandle
	Material  MaterialHandle
	Transform TransformHandle
}
