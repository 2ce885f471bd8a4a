package shader

import (
	"fmt"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// SPIR-V opcodes, decorations and enums read by the reflector.
const (
	opName             = 5
	opEntryPoint       = 15
	opExecutionMode    = 16
	opTypeInt          = 21
	opTypeFloat        = 22
	opTypeVector       = 23
	opTypeImage        = 25
	opTypeSampler      = 26
	opTypeSampledImage = 27
	opTypeArray        = 28
	opTypeRuntimeArray = 29
	opTypeStruct       = 30
	opTypePointer      = 32
	opConstant         = 43
	opVariable         = 59
	opDecorate         = 71

	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationBuiltIn       = 11
	decorationLocation      = 30
	decorationBinding       = 33
	decorationDescriptorSet = 34

	storageUniformConstant = 0
	storageInput           = 1
	storageUniform         = 2
	storagePushConstant    = 9
	storageStorageBuffer   = 12

	execModelVertex    = 0
	execModelFragment  = 4
	execModelGLCompute = 5

	execModeLocalSize = 17
)

type spvType struct {
	op   uint32
	args []uint32
}

type spvVar struct {
	typeID  uint32
	storage uint32
}

type spvEntry struct {
	model uint32
	fn    uint32
	name  string
}

type spvReflector struct {
	types       map[uint32]spvType
	constants   map[uint32]uint32
	vars        map[uint32]spvVar
	varOrder    []uint32
	names       map[uint32]string
	decorations map[uint32]map[uint32]uint32
	entries     []spvEntry
	localSize   map[uint32][3]uint32
}

func decodeString(words []uint32) (string, int) {
	var b []byte
	for i, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(b), i + 1
			}
			b = append(b, c)
		}
	}
	return string(b), len(words)
}

// ReflectSPIRV reads the entry point for stage, its vertex inputs and its
// descriptor bindings straight from the SPIR-V word stream.
func ReflectSPIRV(name string, words []uint32, stage gpu.ShaderStage) (*Module, error) {
	if len(words) < 5 || words[0] != SPIRVMagic {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidSPIRV)
	}
	r := &spvReflector{
		types:       make(map[uint32]spvType),
		constants:   make(map[uint32]uint32),
		vars:        make(map[uint32]spvVar),
		names:       make(map[uint32]string),
		decorations: make(map[uint32]map[uint32]uint32),
		localSize:   make(map[uint32][3]uint32),
	}
	if err := r.parse(words[5:]); err != nil {
		return nil, err
	}

	var entry *spvEntry
	for i := range r.entries {
		if modelStage(r.entries[i].model) == stage {
			entry = &r.entries[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("no %s entry point", stage)
	}

	m := &Module{
		Name:       name,
		Stage:      stage,
		EntryPoint: entry.name,
		Code:       words,
		Workgroup:  r.localSize[entry.fn],
	}
	for _, id := range r.varOrder {
		v := r.vars[id]
		deco := r.decorations[id]
		switch v.storage {
		case storageInput:
			if stage != gpu.StageVertex {
				continue
			}
			if _, builtin := deco[decorationBuiltIn]; builtin {
				continue
			}
			loc, ok := deco[decorationLocation]
			if !ok {
				continue
			}
			format, err := r.vertexFormat(r.pointee(v.typeID))
			if err != nil {
				return nil, fmt.Errorf("input %s (location %d): %w", r.names[id], loc, err)
			}
			m.Attributes = append(m.Attributes, gpu.VertexAttribute{Location: loc, Format: format})
		case storageUniformConstant, storageUniform, storageStorageBuffer:
			binding, hasBinding := deco[decorationBinding]
			if !hasBinding {
				continue
			}
			kind, count, err := r.descriptor(v)
			if err != nil {
				return nil, fmt.Errorf("variable %s (binding %d): %w", r.names[id], binding, err)
			}
			m.Bindings = append(m.Bindings, Binding{
				Set: deco[decorationDescriptorSet],
				DescriptorBinding: gpu.DescriptorBinding{
					Binding: binding,
					Type:    kind,
					Count:   count,
					Stages:  stage,
				},
			})
		}
	}
	m.Attributes = packAttributes(m.Attributes)
	m.Bindings = sortBindings(m.Bindings)
	return m, nil
}

func modelStage(model uint32) gpu.ShaderStage {
	switch model {
	case execModelVertex:
		return gpu.StageVertex
	case execModelFragment:
		return gpu.StageFragment
	case execModelGLCompute:
		return gpu.StageCompute
	}
	return 0
}

func (r *spvReflector) parse(words []uint32) error {
	for i := 0; i < len(words); {
		count := int(words[i] >> 16)
		op := words[i] & 0xffff
		if count == 0 || i+count > len(words) {
			return fmt.Errorf("%w: truncated instruction at word %d", ErrInvalidSPIRV, i+5)
		}
		args := words[i+1 : i+count]
		switch op {
		case opName:
			if len(args) >= 1 {
				r.names[args[0]], _ = decodeString(args[1:])
			}
		case opEntryPoint:
			if len(args) >= 3 {
				name, _ := decodeString(args[2:])
				r.entries = append(r.entries, spvEntry{model: args[0], fn: args[1], name: name})
			}
		case opExecutionMode:
			if len(args) >= 5 && args[1] == execModeLocalSize {
				r.localSize[args[0]] = [3]uint32{args[2], args[3], args[4]}
			}
		case opTypeInt, opTypeFloat, opTypeVector, opTypeImage, opTypeSampler, opTypeSampledImage,
			opTypeArray, opTypeRuntimeArray, opTypeStruct, opTypePointer:
			if len(args) >= 1 {
				r.types[args[0]] = spvType{op: op, args: args[1:]}
			}
		case opConstant:
			if len(args) >= 3 {
				r.constants[args[1]] = args[2]
			}
		case opVariable:
			if len(args) >= 3 {
				r.vars[args[1]] = spvVar{typeID: args[0], storage: args[2]}
				r.varOrder = append(r.varOrder, args[1])
			}
		case opDecorate:
			if len(args) >= 2 {
				d := r.decorations[args[0]]
				if d == nil {
					d = make(map[uint32]uint32)
					r.decorations[args[0]] = d
				}
				var value uint32
				if len(args) >= 3 {
					value = args[2]
				}
				d[args[1]] = value
			}
		}
		i += count
	}
	return nil
}

func (r *spvReflector) pointee(ptrType uint32) uint32 {
	t, ok := r.types[ptrType]
	if !ok || t.op != opTypePointer || len(t.args) < 2 {
		return 0
	}
	return t.args[1]
}

func (r *spvReflector) vertexFormat(typeID uint32) (gpu.Format, error) {
	t, ok := r.types[typeID]
	if !ok {
		return gpu.FormatUndefined, fmt.Errorf("unknown type %%%d", typeID)
	}
	components := uint32(1)
	scalar := t
	if t.op == opTypeVector {
		components = t.args[1]
		scalar, ok = r.types[t.args[0]]
		if !ok {
			return gpu.FormatUndefined, fmt.Errorf("unknown component type %%%d", t.args[0])
		}
	}
	var table [4]gpu.Format
	switch {
	case scalar.op == opTypeFloat && scalar.args[0] == 32:
		table = [4]gpu.Format{gpu.FormatR32Sfloat, gpu.FormatR32G32Sfloat, gpu.FormatR32G32B32Sfloat, gpu.FormatR32G32B32A32Sfloat}
	case scalar.op == opTypeInt && scalar.args[0] == 32 && scalar.args[1] == 1:
		table = [4]gpu.Format{gpu.FormatR32Sint, gpu.FormatR32G32Sint, gpu.FormatR32G32B32Sint, gpu.FormatR32G32B32A32Sint}
	case scalar.op == opTypeInt && scalar.args[0] == 32:
		table = [4]gpu.Format{gpu.FormatR32Uint, gpu.FormatR32G32Uint, gpu.FormatR32G32B32Uint, gpu.FormatR32G32B32A32Uint}
	default:
		return gpu.FormatUndefined, fmt.Errorf("unsupported vertex input type (op %d)", scalar.op)
	}
	if components < 1 || components > 4 {
		return gpu.FormatUndefined, fmt.Errorf("unsupported vector size %d", components)
	}
	return table[components-1], nil
}

func (r *spvReflector) descriptor(v spvVar) (gpu.DescriptorType, uint32, error) {
	typeID := r.pointee(v.typeID)
	count := uint32(1)
	for {
		t, ok := r.types[typeID]
		if !ok {
			return 0, 0, fmt.Errorf("unknown type %%%d", typeID)
		}
		switch t.op {
		case opTypeArray:
			count = r.constants[t.args[1]]
			typeID = t.args[0]
			continue
		case opTypeRuntimeArray:
			// unbounded
			count = 0
			typeID = t.args[0]
			continue
		case opTypeSampledImage:
			return gpu.DescriptorCombinedImageSampler, count, nil
		case opTypeSampler:
			return gpu.DescriptorSampler, count, nil
		case opTypeImage:
			// sampled operand: 2 means storage image
			if len(t.args) >= 6 && t.args[5] == 2 {
				return gpu.DescriptorStorageImage, count, nil
			}
			return gpu.DescriptorSampledImage, count, nil
		case opTypeStruct:
			if v.storage == storageStorageBuffer {
				return gpu.DescriptorStorageBuffer, count, nil
			}
			if _, ok := r.decorations[typeID][decorationBufferBlock]; ok {
				return gpu.DescriptorStorageBuffer, count, nil
			}
			return gpu.DescriptorUniformBuffer, count, nil
		}
		return 0, 0, fmt.Errorf("unsupported descriptor type (op %d)", t.op)
	}
}
