package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/resources"
)

// PassContext is handed to a Recorder. It records into the command buffer
// of one pass for the current frame.
type PassContext struct {
	enc      gpu.CommandEncoder
	cb       gpu.CommandBuffer
	pass     *Pass
	pipeline resources.RasterPipeline
	layout   resources.PipelineLayout
	bindless gpu.DescriptorSet
	assets   *resources.Assets
	extent   gpu.Extent2D

	Slot       int
	ImageIndex uint32
}

func (pc *PassContext) CommandBuffer() gpu.CommandBuffer {
	return pc.cb
}

func (pc *PassContext) Pass() *Pass {
	return pc.pass
}

func (pc *PassContext) Assets() *resources.Assets {
	return pc.assets
}

// Resolution is the extent of the pass target.
func (pc *PassContext) Resolution() gpu.Extent2D {
	return pc.extent
}

// SetViewport sets v, or the full target when v is nil.
func (pc *PassContext) SetViewport(v *gpu.Viewport) {
	vp := gpu.Viewport{
		Width:    float32(pc.extent.Width),
		Height:   float32(pc.extent.Height),
		MaxDepth: 1,
	}
	if v != nil {
		vp = *v
	}
	pc.enc.CmdSetViewport(pc.cb, vp)
}

// SetScissor sets r, or the full target when r is nil.
func (pc *PassContext) SetScissor(r *gpu.Rect2D) {
	rect := gpu.Rect2D{Extent: pc.extent}
	if r != nil {
		rect = *r
	}
	pc.enc.CmdSetScissor(pc.cb, rect)
}

func (pc *PassContext) BindPipeline() {
	pc.enc.CmdBindPipeline(pc.cb, pc.pipeline.Raw)
}

// BindBindless binds set 0 of the current frame slot.
func (pc *PassContext) BindBindless() {
	pc.enc.CmdBindDescriptorSets(pc.cb, pc.layout.Raw, 0, []gpu.DescriptorSet{pc.bindless})
}

// BindMaterial checks that h exists. Material data reaches shaders through
// the bindless tables, so nothing is recorded.
func (pc *PassContext) BindMaterial(h resources.MaterialHandle) error {
	_, err := pc.assets.Material(h)
	return err
}

// PushConstants writes data at offset into the push constant range of the
// pass layout.
func (pc *PassContext) PushConstants(offset uint32, data []byte) error {
	r := pc.layout.PushRange
	start, end := uint64(offset), uint64(offset)+uint64(len(data))
	if r.Size == 0 || start < uint64(r.Offset) || end > uint64(r.Offset)+uint64(r.Size) {
		return fmt.Errorf("push constants [%d, %d) outside the %d byte range", start, end, r.Size)
	}
	pc.enc.CmdPushConstants(pc.cb, pc.layout.Raw, r.Stages, offset, data)
	return nil
}

// DrawMesh binds the buffers of h and draws it.
func (pc *PassContext) DrawMesh(h resources.MeshHandle) error {
	m, err := pc.assets.Mesh(h)
	if err != nil {
		return err
	}
	pc.enc.CmdBindVertexBuffer(pc.cb, m.VertexBuffer, m.VertexOffset)
	instances := max(m.InstanceCount, 1)
	if m.Indexed() {
		pc.enc.CmdBindIndexBuffer(pc.cb, m.IndexBuffer, 0, m.IndexType)
		pc.enc.CmdDrawIndexed(pc.cb, m.IndexCount, instances, 0, 0, m.InstanceOffset)
		return nil
	}
	pc.enc.CmdDraw(pc.cb, m.VertexCount, instances, 0, m.InstanceOffset)
	return nil
}

// DrawRenderable pushes the transform index of r at offset 0, where shaders
// read it to index the transforms buffer, and draws its mesh.
func (pc *PassContext) DrawRenderable(r resources.Renderable) error {
	if err := pc.PushConstants(0, binary.LittleEndian.AppendUint32(nil, r.Transform.Index())); err != nil {
		return err
	}
	return pc.DrawMesh(r.Mesh)
}

// DrawFullscreenTriangle draws three vertices with no vertex buffer; the
// vertex shader derives positions from the vertex index.
func (pc *PassContext) DrawFullscreenTriangle() {
	pc.enc.CmdDraw(pc.cb, 3, 1, 0, 0)
}

// Dispatch is only valid in compute passes, which are not built yet.
func (pc *PassContext) Dispatch(x, y, z uint32) error {
	return fmt.Errorf("dispatch in %s pass %s: %w", pc.pass.Kind, pc.pass.Name, core.ErrUnsupportedPass)
}
