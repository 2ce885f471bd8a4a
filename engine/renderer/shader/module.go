package shader

import (
	"context"
	"sort"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// Binding is a descriptor binding required by a stage.
type Binding struct {
	Set uint32
	gpu.DescriptorBinding
}

// Module is a compiled and reflected shader stage.
type Module struct {
	Name       string
	Stage      gpu.ShaderStage
	EntryPoint string
	Code       []uint32
	// Attributes are the vertex inputs, only set for vertex stages. Offsets
	// are packed in location order.
	Attributes []gpu.VertexAttribute
	Bindings   []Binding
	Workgroup  [3]uint32
}

// Stride returns the size of one vertex made of Attributes.
func (m *Module) Stride() uint32 {
	var stride uint32
	for _, a := range m.Attributes {
		stride += a.Format.Size()
	}
	return stride
}

// packAttributes sorts by location and assigns tightly packed offsets.
func packAttributes(attrs []gpu.VertexAttribute) []gpu.VertexAttribute {
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Location < attrs[j].Location })
	var offset uint32
	for i := range attrs {
		attrs[i].Offset = offset
		offset += attrs[i].Format.Size()
	}
	return attrs
}

func sortBindings(b []Binding) []Binding {
	sort.Slice(b, func(i, j int) bool {
		if b[i].Set != b[j].Set {
			return b[i].Set < b[j].Set
		}
		return b[i].Binding < b[j].Binding
	})
	return b
}

// Loader resolves a Source into a reflected Module for the requested stage.
type Loader interface {
	Load(ctx context.Context, src Source, stage gpu.ShaderStage) (*Module, error)
}
