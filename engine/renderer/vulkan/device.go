package vulkan

import (
	"errors"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
)

const portabilitySubset = "VK_KHR_portability_subset"

type queueFamilies struct {
	graphics uint32
	present  uint32
}

type deviceRequirements struct {
	extensions  []string
	discreteGPU bool
}

type swapchainSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

// selectPhysicalDevice takes the first device that can draw to the surface.
// A discrete GPU is preferred; integrated ones are accepted when nothing
// else qualifies.
func (b *Backend) selectPhysicalDevice() error {
	var count uint32
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(b.instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return errors.New("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(b.instance, &count, devices)); err != nil {
		return err
	}

	req := deviceRequirements{
		extensions:  []string{vk.KhrSwapchainExtensionName},
		discreteGPU: runtime.GOOS != "darwin",
	}
	for pass := 0; pass < 2; pass++ {
		for _, pd := range devices {
			var props vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(pd, &props)
			props.Deref()
			props.Limits.Deref()

			families, ok := b.meetsRequirements(pd, &props, req)
			if !ok {
				continue
			}
			b.physical = pd
			b.properties = props
			b.queues = families
			vk.GetPhysicalDeviceMemoryProperties(pd, &b.memory)
			b.memory.Deref()
			logDevice(&props)
			return nil
		}
		req.discreteGPU = false
	}
	return errors.New("no physical devices were found which meet the requirements")
}

func logDevice(props *vk.PhysicalDeviceProperties) {
	core.LogInfo("Selected device: '%s'.", cString(props.DeviceName[:]))
	switch props.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo("GPU Driver version: %d.%d.%d",
		vk.Version(props.DriverVersion).Major(),
		vk.Version(props.DriverVersion).Minor(),
		vk.Version(props.DriverVersion).Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d",
		vk.Version(props.ApiVersion).Major(),
		vk.Version(props.ApiVersion).Minor(),
		vk.Version(props.ApiVersion).Patch())
}

func (b *Backend) meetsRequirements(pd vk.PhysicalDevice, props *vk.PhysicalDeviceProperties, req deviceRequirements) (queueFamilies, bool) {
	name := cString(props.DeviceName[:])
	if req.discreteGPU && props.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogDebug("%s is not a discrete GPU, skipping.", name)
		return queueFamilies{}, false
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	graphics, present := -1, -1
	for i := range families {
		families[i].Deref()
		if graphics < 0 && families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			graphics = i
		}
		var supported vk.Bool32
		if vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), b.surface, &supported) != vk.Success {
			continue
		}
		// a family that does both is best
		if supported.B() && (present < 0 || i == graphics) {
			present = i
		}
	}
	core.LogDebug("%s: graphics family %d, present family %d", name, graphics, present)
	if graphics < 0 || present < 0 {
		return queueFamilies{}, false
	}

	support, err := querySwapchainSupport(pd, b.surface)
	if err != nil || len(support.formats) == 0 || len(support.presentModes) == 0 {
		core.LogDebug("Required swapchain support not present, skipping %s.", name)
		return queueFamilies{}, false
	}

	available := deviceExtensions(pd)
	for _, ext := range req.extensions {
		if !available[ext] {
			core.LogDebug("Required extension not found: '%s', skipping %s.", ext, name)
			return queueFamilies{}, false
		}
	}
	return queueFamilies{graphics: uint32(graphics), present: uint32(present)}, true
}

func deviceExtensions(pd vk.PhysicalDevice) map[string]bool {
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil) != vk.Success || count == 0 {
		return nil
	}
	props := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, props) != vk.Success {
		return nil
	}
	out := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		out[cString(props[i].ExtensionName[:])] = true
	}
	return out
}

// createDevice builds the logical device with descriptor indexing enabled,
// so bindless texture tables can be partially bound.
func (b *Backend) createDevice() error {
	core.LogInfo("Creating logical device...")
	indices := []uint32{b.queues.graphics}
	if b.queues.present != b.queues.graphics {
		indices = append(indices, b.queues.present)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, index := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: index,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if deviceExtensions(b.physical)[portabilitySubset] {
		core.LogInfo("Adding required extension '%s'.", portabilitySubset)
		extensions = append(extensions, portabilitySubset)
	}

	indexing := vk.PhysicalDeviceDescriptorIndexingFeatures{
		SType:                           vk.StructureTypePhysicalDeviceDescriptorIndexingFeatures,
		DescriptorBindingPartiallyBound: vk.True,
		RuntimeDescriptorArray:          vk.True,
		ShaderSampledImageArrayNonUniformIndexing: vk.True,
	}
	// the chained struct has to be in C memory before the call
	indexingRef, _ := indexing.PassRef()
	var device vk.Device
	res := vk.CreateDevice(b.physical, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		PNext:                   unsafe.Pointer(indexingRef),
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			ShaderSampledImageArrayDynamicIndexing: vk.True,
		}},
	}, nil, &device)
	if err := check("vkCreateDevice", res); err != nil {
		return err
	}
	b.device = device
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(b.device, b.queues.graphics, 0, &b.graphics)
	vk.GetDeviceQueue(b.device, b.queues.present, 0, &b.present)
	core.LogInfo("Queues obtained.")

	if !b.detectDepthFormat() {
		return errors.New("no supported depth format")
	}
	return nil
}

func (b *Backend) createCommandPool() error {
	var pool vk.CommandPool
	res := vk.CreateCommandPool(b.device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: b.queues.graphics,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if err := check("vkCreateCommandPool", res); err != nil {
		return err
	}
	b.commandPool = pool
	core.LogInfo("Graphics command pool created.")
	return nil
}

func querySwapchainSupport(pd vk.PhysicalDevice, surface vk.Surface) (*swapchainSupport, error) {
	support := &swapchainSupport{}
	if err := check("vkGetPhysicalDeviceSurfaceCapabilitiesKHR",
		vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &support.capabilities)); err != nil {
		return nil, err
	}
	support.capabilities.Deref()
	support.capabilities.CurrentExtent.Deref()
	support.capabilities.MinImageExtent.Deref()
	support.capabilities.MaxImageExtent.Deref()

	var count uint32
	if err := check("vkGetPhysicalDeviceSurfaceFormatsKHR",
		vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, nil)); err != nil {
		return nil, err
	}
	if count > 0 {
		support.formats = make([]vk.SurfaceFormat, count)
		if err := check("vkGetPhysicalDeviceSurfaceFormatsKHR",
			vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, support.formats)); err != nil {
			return nil, err
		}
		for i := range support.formats {
			support.formats[i].Deref()
		}
	}

	count = 0
	if err := check("vkGetPhysicalDeviceSurfacePresentModesKHR",
		vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, nil)); err != nil {
		return nil, err
	}
	if count > 0 {
		support.presentModes = make([]vk.PresentMode, count)
		if err := check("vkGetPhysicalDeviceSurfacePresentModesKHR",
			vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, support.presentModes)); err != nil {
			return nil, err
		}
	}
	return support, nil
}

var depthCandidates = []vk.Format{
	vk.FormatD32Sfloat,
	vk.FormatD32SfloatS8Uint,
	vk.FormatD24UnormS8Uint,
}

func (b *Backend) detectDepthFormat() bool {
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range depthCandidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(b.physical, candidate, &props)
		props.Deref()
		if props.LinearTilingFeatures&flags == flags || props.OptimalTilingFeatures&flags == flags {
			b.depthFormat = candidate
			return true
		}
	}
	return false
}
