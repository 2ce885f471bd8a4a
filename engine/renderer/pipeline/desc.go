// Package pipeline compiles raster pipelines from shader sources and caches
// them by a comparable key, so identical descriptions share one pipeline.
package pipeline

import (
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
	"github.com/spaghettifunk/anima-graph/engine/renderer/shader"
)

// MaxColorAttachments is the most colour targets a pass can write.
const MaxColorAttachments = 8

// Signature is the attachment layout a pipeline is compatible with. Every
// colour format takes part, so it stays a comparable value.
type Signature struct {
	Colors     [MaxColorAttachments]gpu.Format
	ColorCount uint8
	Depth      gpu.Format
}

// ColorSignature is a signature of count colour attachments of format and
// no depth.
func ColorSignature(format gpu.Format, count int) Signature {
	s := Signature{ColorCount: uint8(count)}
	for i := 0; i < count && i < MaxColorAttachments; i++ {
		s.Colors[i] = format
	}
	return s
}

// SignatureOf returns the signature of rp, which must have at most
// MaxColorAttachments colours.
func SignatureOf(rp gpu.RenderPassDesc) Signature {
	s := Signature{ColorCount: uint8(len(rp.Colors))}
	for i, c := range rp.Colors {
		s.Colors[i] = c.Format
	}
	if rp.Depth != nil {
		s.Depth = rp.Depth.Format
	}
	return s
}

type Desc struct {
	Vertex   shader.Source
	Fragment shader.Source
	// Dynamic state beyond viewport and scissor, which are always dynamic:
	// setting either bit here does not change the pipeline.
	Dynamic     gpu.DynamicState
	DepthTest   bool
	Attachments Signature
}

type Key struct {
	Vertex      shader.Key
	Fragment    shader.Key
	Dynamic     gpu.DynamicState
	DepthTest   bool
	Attachments Signature
}

func (d Desc) Key() Key {
	return Key{
		Vertex:      d.Vertex.Key(),
		Fragment:    d.Fragment.Key(),
		Dynamic:     d.Dynamic | gpu.DynamicViewport | gpu.DynamicScissor,
		DepthTest:   d.DepthTest,
		Attachments: d.Attachments,
	}
}

// references reports whether either stage was loaded from path, comparing
// both the source path and its resolved file name.
func (k Key) references(path string, resolve func(string) string) bool {
	for _, s := range [...]shader.Key{k.Vertex, k.Fragment} {
		if s.Kind == shader.KindPath && (s.Path == path || resolve(s.Path) == path) {
			return true
		}
	}
	return false
}
