package shader

import (
	"errors"
	"fmt"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"

	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// CompileWGSL parses, validates and lowers WGSL text to SPIR-V, then
// reflects the entry point for stage from the naga IR.
func CompileWGSL(name, text string, stage gpu.ShaderStage) (*Module, error) {
	ast, err := naga.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	module, err := naga.LowerWithSource(ast, text)
	if err != nil {
		return nil, fmt.Errorf("lower: %w", err)
	}
	verrs, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	if len(verrs) > 0 {
		return nil, fmt.Errorf("validate: %w", verrs[0])
	}

	m, err := reflectIR(name, module, stage)
	if err != nil {
		return nil, err
	}

	code, err := naga.GenerateSPIRV(module, spirv.Options{Version: spirv.Version1_3})
	if err != nil {
		return nil, err
	}
	if m.Code, err = BytesToWords(code); err != nil {
		return nil, err
	}
	return m, nil
}

func irStage(s ir.ShaderStage) gpu.ShaderStage {
	switch s {
	case ir.StageVertex:
		return gpu.StageVertex
	case ir.StageFragment:
		return gpu.StageFragment
	case ir.StageCompute:
		return gpu.StageCompute
	}
	return 0
}

func reflectIR(name string, module *ir.Module, stage gpu.ShaderStage) (*Module, error) {
	var entry *ir.EntryPoint
	for i := range module.EntryPoints {
		if irStage(module.EntryPoints[i].Stage) == stage {
			entry = &module.EntryPoints[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("no %s entry point", stage)
	}

	m := &Module{
		Name:       name,
		Stage:      stage,
		EntryPoint: entry.Name,
		Workgroup:  entry.Workgroup,
	}

	if stage == gpu.StageVertex {
		for _, arg := range entry.Function.Arguments {
			attrs, err := locationInputs(module, arg.Type, arg.Binding)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %w", arg.Name, err)
			}
			m.Attributes = append(m.Attributes, attrs...)
		}
	}

	for _, gv := range module.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		kind, count, err := descriptorOf(module, gv)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", gv.Name, err)
		}
		m.Bindings = append(m.Bindings, Binding{
			Set: gv.Binding.Group,
			DescriptorBinding: gpu.DescriptorBinding{
				Binding: gv.Binding.Binding,
				Type:    kind,
				Count:   count,
				Stages:  stage,
			},
		})
	}

	m.Attributes = packAttributes(m.Attributes)
	m.Bindings = sortBindings(m.Bindings)
	return m, nil
}

func location(b *ir.Binding) (uint32, bool) {
	if b == nil {
		return 0, false
	}
	switch lb := (*b).(type) {
	case ir.LocationBinding:
		return lb.Location, true
	case *ir.LocationBinding:
		return lb.Location, true
	}
	return 0, false
}

// locationInputs returns the vertex attributes of one entry point argument,
// expanding struct arguments member by member. Builtins are skipped.
func locationInputs(module *ir.Module, th ir.TypeHandle, binding *ir.Binding) ([]gpu.VertexAttribute, error) {
	if loc, ok := location(binding); ok {
		f, err := irFormat(module, th)
		if err != nil {
			return nil, fmt.Errorf("location %d: %w", loc, err)
		}
		return []gpu.VertexAttribute{{Location: loc, Format: f}}, nil
	}
	if binding != nil {
		return nil, nil
	}
	st, ok := module.Types[th].Inner.(ir.StructType)
	if !ok {
		return nil, nil
	}
	var out []gpu.VertexAttribute
	for _, member := range st.Members {
		attrs, err := locationInputs(module, member.Type, member.Binding)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", member.Name, err)
		}
		out = append(out, attrs...)
	}
	return out, nil
}

func irFormat(module *ir.Module, th ir.TypeHandle) (gpu.Format, error) {
	var scalar ir.ScalarType
	components := 1
	switch t := module.Types[th].Inner.(type) {
	case ir.ScalarType:
		scalar = t
	case ir.VectorType:
		scalar = t.Scalar
		components = int(t.Size)
	default:
		return gpu.FormatUndefined, fmt.Errorf("unsupported vertex input type %T", t)
	}
	if scalar.Width != 4 {
		return gpu.FormatUndefined, fmt.Errorf("unsupported scalar width %d", scalar.Width)
	}
	var table [4]gpu.Format
	switch scalar.Kind {
	case ir.ScalarFloat:
		table = [4]gpu.Format{gpu.FormatR32Sfloat, gpu.FormatR32G32Sfloat, gpu.FormatR32G32B32Sfloat, gpu.FormatR32G32B32A32Sfloat}
	case ir.ScalarSint:
		table = [4]gpu.Format{gpu.FormatR32Sint, gpu.FormatR32G32Sint, gpu.FormatR32G32B32Sint, gpu.FormatR32G32B32A32Sint}
	case ir.ScalarUint:
		table = [4]gpu.Format{gpu.FormatR32Uint, gpu.FormatR32G32Uint, gpu.FormatR32G32B32Uint, gpu.FormatR32G32B32A32Uint}
	default:
		return gpu.FormatUndefined, errors.New("unsupported scalar kind")
	}
	return table[components-1], nil
}

func descriptorOf(module *ir.Module, gv ir.GlobalVariable) (gpu.DescriptorType, uint32, error) {
	switch gv.Space {
	case ir.SpaceUniform:
		return gpu.DescriptorUniformBuffer, 1, nil
	case ir.SpaceStorage:
		return gpu.DescriptorStorageBuffer, 1, nil
	case ir.SpaceHandle:
	default:
		return 0, 0, fmt.Errorf("unsupported address space %d", gv.Space)
	}

	th := gv.Type
	count := uint32(1)
	if ba, ok := module.Types[th].Inner.(ir.BindingArrayType); ok {
		count = 0
		if ba.Size != nil {
			count = *ba.Size
		}
		th = ba.Base
	}
	switch t := module.Types[th].Inner.(type) {
	case ir.SamplerType:
		return gpu.DescriptorSampler, count, nil
	case ir.ImageType:
		if t.Class == ir.ImageClassStorage {
			return gpu.DescriptorStorageImage, count, nil
		}
		return gpu.DescriptorSampledImage, count, nil
	default:
		return 0, 0, fmt.Errorf("unsupported handle type %T", t)
	}
}
