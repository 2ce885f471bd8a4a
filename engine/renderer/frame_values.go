package renderer

import (
	"encoding/binary"
	gomath "math"
)

// frameValuesSize is FrameValues rounded up to the 16 byte uniform alignment.
const frameValuesSize = 32

// FrameValues is the per-frame uniform at the bindless frame binding.
type FrameValues struct {
	Resolution [2]float32
	FrameIndex uint32
	// DeltaTime and Time are in seconds.
	DeltaTime float32
	Time      float32
}

func (v FrameValues) bytes() []byte {
	b := make([]byte, 0, frameValuesSize)
	b = binary.LittleEndian.AppendUint32(b, gomath.Float32bits(v.Resolution[0]))
	b = binary.LittleEndian.AppendUint32(b, gomath.Float32bits(v.Resolution[1]))
	b = binary.LittleEndian.AppendUint32(b, v.FrameIndex)
	b = binary.LittleEndian.AppendUint32(b, gomath.Float32bits(v.DeltaTime))
	b = binary.LittleEndian.AppendUint32(b, gomath.Float32bits(v.Time))
	return append(b, make([]byte, frameValuesSize-len(b))...)
}
