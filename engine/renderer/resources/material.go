package resources

import (
	"fmt"
	"sort"
)

// UniformValue is one named material parameter. The set of kinds is closed.
type UniformValue interface {
	uniformKind() string
}

type (
	BoolValue    bool
	FloatValue   float32
	UintValue    uint32
	Vec2Value    [2]float32
	Vec3Value    [3]float32
	TextureValue struct {
		Image ImageHandle
	}
)

func (BoolValue) uniformKind() string    { return "bool" }
func (FloatValue) uniformKind() string   { return "f32" }
func (UintValue) uniformKind() string    { return "u32" }
func (Vec2Value) uniformKind() string    { return "vec2" }
func (Vec3Value) uniformKind() string    { return "vec3" }
func (TextureValue) uniformKind() string { return "texture" }

// UniformKind names the kind of v, for logs.
func UniformKind(v UniformValue) string {
	if v == nil {
		return "none"
	}
	return v.uniformKind()
}

type Material struct {
	Name     string
	uniforms map[string]UniformValue
}

func NewMaterial(name string) Material {
	return Material{Name: name, uniforms: make(map[string]UniformValue)}
}

// SetValue sets a uniform. Changing the kind of an existing uniform is rejected.
func (m *Material) SetValue(name string, v UniformValue) error {
	if m.uniforms == nil {
		m.uniforms = make(map[string]UniformValue)
	}
	if old, ok := m.uniforms[name]; ok && old.uniformKind() != v.uniformKind() {
		return fmt.Errorf("material %s: uniform %s is %s, not %s", m.Name, name, old.uniformKind(), v.uniformKind())
	}
	m.uniforms[name] = v
	return nil
}

func (m Material) Value(name string) (UniformValue, bool) {
	v, ok := m.uniforms[name]
	return v, ok
}

// Names returns the uniform names in sorted order.
func (m Material) Names() []string {
	names := make([]string, 0, len(m.uniforms))
	for n := range m.uniforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m Material) clone() Material {
	c := NewMaterial(m.Name)
	for k, v := range m.uniforms {
		c.uniforms[k] = v
	}
	return c
}
