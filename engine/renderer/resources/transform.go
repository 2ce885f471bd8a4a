package resources

import (
	"encoding/binary"
	gomath "math"

	"github.com/spaghettifunk/anima-graph/engine/math"
)

// TransformSize is the byte size of one packed Transform.
const TransformSize = 4*4 + 16*4 + 4*4

// Transform is laid out as the shaders read it: scale, a rotation matrix and
// a position, each padded to vec4.
type Transform struct {
	Scale    [4]float32
	Rotation [4][4]float32
	Position [4]float32
}

func IdentityTransform() Transform {
	return Transform{
		Scale:    [4]float32{1, 1, 1, 1},
		Rotation: math.NewMat4Identity().Rows(),
		Position: [4]float32{0, 0, 0, 1},
	}
}

// TransformFrom converts a math.Transform into its packed form.
func TransformFrom(t *math.Transform) Transform {
	s := t.Scale()
	p := t.Position()
	return Transform{
		Scale:    [4]float32{s.X, s.Y, s.Z, 1},
		Rotation: t.Rotation().ToMat4().Rows(),
		Position: [4]float32{p.X, p.Y, p.Z, 1},
	}
}

// AppendBytes appends the little-endian encoding of t to b.
func (t Transform) AppendBytes(b []byte) []byte {
	put := func(f float32) {
		b = binary.LittleEndian.AppendUint32(b, gomath.Float32bits(f))
	}
	for _, f := range t.Scale {
		put(f)
	}
	for _, row := range t.Rotation {
		for _, f := range row {
			put(f)
		}
	}
	for _, f := range t.Position {
		put(f)
	}
	return b
}
