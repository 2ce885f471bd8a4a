package shader

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

type spvBuilder struct {
	words []uint32
}

func (b *spvBuilder) op(op uint32, args ...uint32) *spvBuilder {
	b.words = append(b.words, uint32(len(args)+1)<<16|op)
	b.words = append(b.words, args...)
	return b
}

func (b *spvBuilder) module() []uint32 {
	return append([]uint32{SPIRVMagic, 0x00010300, 0, 100, 0}, b.words...)
}

func spvString(s string) []uint32 {
	buf := append([]byte(s), 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out
}

func wordsToBytes(words []uint32) []byte {
	var b []byte
	for _, w := range words {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b
}

// vertexModule: two vertex inputs out of location order, a builtin input, a
// camera uniform in set 0 and a 16 element sampled texture array in set 1.
func vertexModule() []uint32 {
	b := &spvBuilder{}
	b.op(opEntryPoint, append([]uint32{execModelVertex, 1}, spvString("vs_main")...)...)
	b.op(opName, append([]uint32{10}, spvString("position")...)...)
	b.op(opDecorate, 10, decorationLocation, 1)
	b.op(opDecorate, 11, decorationLocation, 0)
	b.op(opDecorate, 12, decorationBuiltIn, 0)
	b.op(opDecorate, 22, decorationDescriptorSet, 0)
	b.op(opDecorate, 22, decorationBinding, 0)
	b.op(opDecorate, 20, decorationBlock)
	b.op(opDecorate, 36, decorationDescriptorSet, 1)
	b.op(opDecorate, 36, decorationBinding, 2)

	b.op(opTypeFloat, 2, 32)
	b.op(opTypeVector, 3, 2, 3)
	b.op(opTypeVector, 4, 2, 2)
	b.op(opTypePointer, 5, storageInput, 3)
	b.op(opTypePointer, 6, storageInput, 4)
	b.op(opTypeStruct, 20, 3)
	b.op(opTypePointer, 21, storageUniform, 20)
	b.op(opTypeImage, 30, 2, 1, 0, 0, 0, 1, 0)
	b.op(opTypeSampledImage, 31, 30)
	b.op(opTypeInt, 32, 32, 0)
	b.op(opConstant, 32, 33, 16)
	b.op(opTypeArray, 34, 31, 33)
	b.op(opTypePointer, 35, storageUniformConstant, 34)

	b.op(opVariable, 5, 10, storageInput)
	b.op(opVariable, 6, 11, storageInput)
	b.op(opVariable, 5, 12, storageInput)
	b.op(opVariable, 21, 22, storageUniform)
	b.op(opVariable, 35, 36, storageUniformConstant)
	return b.module()
}

func TestReflectSPIRVVertex(t *testing.T) {
	m, err := ReflectSPIRV("test", vertexModule(), gpu.StageVertex)
	require.NoError(t, err)

	assert.Equal(t, "vs_main", m.EntryPoint)
	assert.Equal(t, gpu.StageVertex, m.Stage)
	assert.Equal(t, []gpu.VertexAttribute{
		{Location: 0, Format: gpu.FormatR32G32Sfloat, Offset: 0},
		{Location: 1, Format: gpu.FormatR32G32B32Sfloat, Offset: 8},
	}, m.Attributes)
	assert.Equal(t, uint32(20), m.Stride())

	require.Len(t, m.Bindings, 2)
	assert.Equal(t, uint32(0), m.Bindings[0].Set)
	assert.Equal(t, gpu.DescriptorUniformBuffer, m.Bindings[0].Type)
	assert.Equal(t, uint32(1), m.Bindings[0].Count)
	assert.Equal(t, uint32(1), m.Bindings[1].Set)
	assert.Equal(t, uint32(2), m.Bindings[1].Binding)
	assert.Equal(t, gpu.DescriptorCombinedImageSampler, m.Bindings[1].Type)
	assert.Equal(t, uint32(16), m.Bindings[1].Count)
}

func TestReflectSPIRVMissingStage(t *testing.T) {
	_, err := ReflectSPIRV("test", vertexModule(), gpu.StageFragment)
	assert.ErrorContains(t, err, "no fragment entry point")
}

func TestReflectSPIRVCompute(t *testing.T) {
	b := &spvBuilder{}
	b.op(opEntryPoint, append([]uint32{execModelGLCompute, 1}, spvString("cs")...)...)
	b.op(opExecutionMode, 1, execModeLocalSize, 8, 8, 1)
	b.op(opDecorate, 20, decorationBufferBlock)
	b.op(opDecorate, 22, decorationBinding, 3)
	b.op(opTypeFloat, 2, 32)
	b.op(opTypeRuntimeArray, 19, 2)
	b.op(opTypeStruct, 20, 19)
	b.op(opTypePointer, 21, storageUniform, 20)
	b.op(opVariable, 21, 22, storageUniform)

	m, err := ReflectSPIRV("cs", b.module(), gpu.StageCompute)
	require.NoError(t, err)
	assert.Equal(t, [3]uint32{8, 8, 1}, m.Workgroup)
	require.Len(t, m.Bindings, 1)
	assert.Equal(t, gpu.DescriptorStorageBuffer, m.Bindings[0].Type)
	assert.Equal(t, uint32(3), m.Bindings[0].Binding)
	assert.Empty(t, m.Attributes)
}

func TestReflectSPIRVInvalid(t *testing.T) {
	_, err := ReflectSPIRV("x", []uint32{1, 2, 3}, gpu.StageVertex)
	assert.ErrorIs(t, err, ErrInvalidSPIRV)

	words := vertexModule()
	// first instruction claims more words than the stream holds
	words[5] = 0xffff<<16 | words[5]&0xffff
	_, err = ReflectSPIRV("x", words, gpu.StageVertex)
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
}

func TestSourceKeys(t *testing.T) {
	words := vertexModule()
	a := FromSPIRV(words)
	b, err := FromSPIRVBytes(wordsToBytes(words))
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), FromWGSL("fn main() {}").Key())

	assert.Equal(t, FromPath("shaders://a.wgsl").Key(), FromPath("shaders://a.wgsl").Key())
	assert.True(t, Source{}.IsNone())

	_, err = FromSPIRVBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
	_, err = FromSPIRVBytes([]byte{0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrInvalidSPIRV)
}
