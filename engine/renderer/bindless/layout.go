// Package bindless owns descriptor set 0: one layout shared by every
// pipeline and one descriptor set per frame slot.
package bindless

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// Well-known binding names used by the renderer.
const (
	Camera     = "camera"
	Frame      = "frame"
	Transforms = "transforms"
	Textures   = "textures"
)

type Binding struct {
	Name string
	gpu.DescriptorBinding
}

// Layout is the parsed form of core.Config.Bindless.
type Layout struct {
	bindings []Binding
}

func NewLayout(cfg []core.BindingConfig) (*Layout, error) {
	l := &Layout{}
	for _, c := range cfg {
		kind, err := gpu.ParseDescriptorType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("bindless binding %d: %w", c.Binding, err)
		}
		var stages gpu.ShaderStage
		for _, s := range c.Stages {
			stage, err := gpu.ParseShaderStage(s)
			if err != nil {
				return nil, fmt.Errorf("bindless binding %d: %w", c.Binding, err)
			}
			stages |= stage
		}
		if stages == 0 {
			stages = gpu.StageAllGraphics
		}
		l.bindings = append(l.bindings, Binding{
			Name: c.Name,
			DescriptorBinding: gpu.DescriptorBinding{
				Binding: c.Binding,
				Type:    kind,
				Count:   max(c.Count, 1),
				Stages:  stages,
			},
		})
	}
	sort.Slice(l.bindings, func(i, j int) bool { return l.bindings[i].Binding < l.bindings[j].Binding })
	return l, nil
}

// Bindings returns the device-level description of the layout.
func (l *Layout) Bindings() []gpu.DescriptorBinding {
	out := make([]gpu.DescriptorBinding, len(l.bindings))
	for i, b := range l.bindings {
		out[i] = b.DescriptorBinding
	}
	return out
}

func (l *Layout) Lookup(name string) (Binding, bool) {
	for _, b := range l.bindings {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

func (l *Layout) binding(n uint32) (Binding, bool) {
	for _, b := range l.bindings {
		if b.Binding == n {
			return b, true
		}
	}
	return Binding{}, false
}
