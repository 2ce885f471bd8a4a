package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
	"github.com/spaghettifunk/anima-graph/engine/renderer/gpu"
)

// descriptorSet remembers its pool so destroying the pool drops the set ids.
type descriptorSet struct {
	handle vk.DescriptorSet
	pool   uint64
}

// CreateDescriptorSetLayout marks array bindings partially bound so texture
// slots that were never written stay legal.
func (b *Backend) CreateDescriptorSetLayout(bindings []gpu.DescriptorBinding) (gpu.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	flags := make([]vk.DescriptorBindingFlags, len(bindings))
	partial := false
	for i, bd := range bindings {
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         bd.Binding,
			DescriptorType:  toVkDescriptorType(bd.Type),
			DescriptorCount: max(bd.Count, 1),
			StageFlags:      toVkStages(bd.Stages),
		}
		if bd.Count > 1 {
			flags[i] = vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit)
			partial = true
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	if partial {
		bindingFlags := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
			SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
			BindingCount:  uint32(len(flags)),
			PBindingFlags: flags,
		}
		ref, _ := bindingFlags.PassRef()
		info.PNext = unsafe.Pointer(ref)
	}
	var layout vk.DescriptorSetLayout
	if err := check("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(b.device, &info, nil, &layout)); err != nil {
		return 0, err
	}
	return gpu.DescriptorSetLayout(b.setLayouts.add(layout)), nil
}

func (b *Backend) DestroyDescriptorSetLayout(l gpu.DescriptorSetLayout) {
	if v, ok := b.setLayouts.take(uint64(l)); ok {
		vk.DestroyDescriptorSetLayout(b.device, v, nil)
	}
}

// CreateDescriptorPool sizes the pool for maxSets sets of the given bindings.
func (b *Backend) CreateDescriptorPool(bindings []gpu.DescriptorBinding, maxSets uint32) (gpu.DescriptorPool, error) {
	counts := make(map[vk.DescriptorType]uint32)
	var order []vk.DescriptorType
	for _, bd := range bindings {
		t := toVkDescriptorType(bd.Type)
		if _, ok := counts[t]; !ok {
			order = append(order, t)
		}
		counts[t] += max(bd.Count, 1) * maxSets
	}
	sizes := make([]vk.DescriptorPoolSize, 0, len(order))
	for _, t := range order {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: t, DescriptorCount: counts[t]})
	}
	var pool vk.DescriptorPool
	res := vk.CreateDescriptorPool(b.device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &pool)
	if err := check("vkCreateDescriptorPool", res); err != nil {
		return 0, err
	}
	return gpu.DescriptorPool(b.descriptorPools.add(pool)), nil
}

func (b *Backend) AllocateDescriptorSet(pool gpu.DescriptorPool, layout gpu.DescriptorSetLayout) (gpu.DescriptorSet, error) {
	vkPool, ok := b.descriptorPools.get(uint64(pool))
	if !ok {
		return 0, fmt.Errorf("descriptor pool %d: %w", pool, core.ErrNotFound)
	}
	vkLayout, ok := b.setLayouts.get(uint64(layout))
	if !ok {
		return 0, fmt.Errorf("descriptor set layout %d: %w", layout, core.ErrNotFound)
	}
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(b.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     vkPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{vkLayout},
	}, &set)
	if err := check("vkAllocateDescriptorSets", res); err != nil {
		return 0, err
	}
	return gpu.DescriptorSet(b.descriptorSets.add(descriptorSet{handle: set, pool: uint64(pool)})), nil
}

// UpdateDescriptorSets skips writes whose set, buffer or view is unknown and
// logs them.
func (b *Backend) UpdateDescriptorSets(writes []gpu.DescriptorWrite) {
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, ok := b.descriptorSets.get(uint64(w.Set))
		if !ok {
			core.LogWarn("descriptor write to unknown set %d", w.Set)
			continue
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.handle,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorCount: 1,
			DescriptorType:  toVkDescriptorType(w.Type),
		}
		if isImageDescriptor(w.Type) {
			info := vk.DescriptorImageInfo{ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal}
			if w.ImageView != 0 {
				view, err := b.view(w.ImageView)
				if err != nil {
					core.LogWarn("descriptor write to set %d binding %d: %v", w.Set, w.Binding, err)
					continue
				}
				info.ImageView = view
			}
			if w.Sampler != 0 {
				sampler, ok := b.samplers.get(uint64(w.Sampler))
				if !ok {
					core.LogWarn("descriptor write to set %d binding %d: sampler %d not found", w.Set, w.Binding, w.Sampler)
					continue
				}
				info.Sampler = sampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		} else {
			buf, ok := b.buffers.get(uint64(w.Buffer))
			if !ok {
				core.LogWarn("descriptor write to set %d binding %d: buffer %d not found", w.Set, w.Binding, w.Buffer)
				continue
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  toVkRange(w.Range),
			}}
		}
		vkWrites = append(vkWrites, write)
	}
	if len(vkWrites) == 0 {
		return
	}
	vk.UpdateDescriptorSets(b.device, uint32(len(vkWrites)), vkWrites, 0, nil)
}

// DestroyDescriptorPool frees every set that came from the pool.
func (b *Backend) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	v, ok := b.descriptorPools.take(uint64(pool))
	if !ok {
		return
	}
	b.descriptorSets.removeIf(func(s descriptorSet) bool { return s.pool == uint64(pool) })
	vk.DestroyDescriptorPool(b.device, v, nil)
}
