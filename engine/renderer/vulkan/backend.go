// Package vulkan implements the gpu interfaces on top of goki/vulkan.
package vulkan

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-graph/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Window is the part of a platform window the backend needs. *glfw.Window
// satisfies it.
type Window interface {
	GetRequiredInstanceExtensions() []string
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
	GetFramebufferSize() (width, height int)
}

// New creates the instance, the window surface, the logical device and the
// swapchain. procAddr is the loader's vkGetInstanceProcAddr. Everything
// built before a failure is released again.
func New(win Window, procAddr unsafe.Pointer, cfg core.Config) (*Backend, error) {
	if procAddr == nil {
		core.LogError("GetInstanceProcAddr is nil")
		return nil, errors.New("vulkan: GetInstanceProcAddr is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	b := &Backend{cfg: cfg, scope: core.NewScope("vulkan")}
	built := false
	defer func() {
		if !built {
			if cerr := b.scope.Close(); cerr != nil {
				core.LogError("releasing partial Vulkan backend: %s", cerr)
			}
		}
	}()

	if err := b.createInstance(win.GetRequiredInstanceExtensions()); err != nil {
		return nil, err
	}
	b.scope.DeferFunc("instance", func() {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(b.instance, nil)
	})

	if cfg.Validation {
		if err := b.createDebugCallback(); err != nil {
			return nil, err
		}
		b.scope.DeferFunc("debug", func() {
			core.LogDebug("Destroying Vulkan debugger...")
			vk.DestroyDebugReportCallback(b.instance, b.debug, nil)
		})
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := win.CreateWindowSurface(b.instance, nil)
	if err != nil {
		return nil, fmt.Errorf("creating window surface: %w", err)
	}
	b.surface = vk.SurfaceFromPointer(surface)
	b.scope.DeferFunc("surface", func() {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(b.instance, b.surface, nil)
	})
	core.LogDebug("Vulkan surface created.")

	if err := b.selectPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := b.createDevice(); err != nil {
		return nil, err
	}
	b.scope.DeferFunc("device", func() {
		core.LogDebug("Destroying Vulkan device...")
		vk.DestroyDevice(b.device, nil)
	})

	if err := b.createCommandPool(); err != nil {
		return nil, err
	}
	b.scope.DeferFunc("command pool", func() {
		vk.DestroyCommandPool(b.device, b.commandPool, nil)
	})
	b.scope.DeferFunc("objects", b.releaseObjects)

	width, height := win.GetFramebufferSize()
	if width <= 0 || height <= 0 {
		width, height = int(cfg.Width), int(cfg.Height)
	}
	if b.swapchain, err = newSwapchain(b, uint32(width), uint32(height)); err != nil {
		return nil, err
	}
	b.scope.DeferFunc("swapchain", b.swapchain.Destroy)

	built = true
	core.LogInfo("Vulkan backend initialized successfully.")
	return b, nil
}

func (b *Backend) createInstance(windowExtensions []string) error {
	extensions := append([]string{vk.KhrSurfaceExtensionName}, windowExtensions...)
	var flags vk.InstanceCreateFlags
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		flags |= 1
	}

	var layers []string
	if b.cfg.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if hasInstanceLayer(validationLayer) {
			layers = append(layers, validationLayer)
			core.LogInfo("Validation layers enabled.")
		} else {
			core.LogWarn("Required validation layer is missing: %s", validationLayer)
		}
	}
	core.LogDebug("Required extensions: %v", extensions)

	var instance vk.Instance
	res := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		Flags: flags,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   safeString(b.cfg.AppName),
			PEngineName:        safeString("anima-graph"),
		},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}, nil, &instance)
	if err := check("vkCreateInstance", res); err != nil {
		core.LogError("failed in creating the Vulkan Instance: %s", err)
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return err
	}
	b.instance = instance
	core.LogInfo("Vulkan Instance created.")
	return nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, layers) != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (b *Backend) createDebugCallback() error {
	core.LogDebug("Creating Vulkan debugger...")
	var cb vk.DebugReportCallback
	res := vk.CreateDebugReportCallback(b.instance, &vk.DebugReportCallbackCreateInfo{
		SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: debugCallback,
	}, nil, &cb)
	if err := check("vkCreateDebugReportCallbackEXT", res); err != nil {
		return err
	}
	b.debug = cb
	core.LogDebug("Vulkan debugger created.")
	return nil
}

func debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

// WaitIdle blocks until the device has finished all submitted work.
func (b *Backend) WaitIdle() error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return check("vkDeviceWaitIdle", vk.DeviceWaitIdle(b.device))
}

// Destroy waits for the device and releases everything New created, in
// reverse order.
func (b *Backend) Destroy() error {
	if b.device != nil {
		if err := b.WaitIdle(); err != nil {
			core.LogWarn("waiting for device before shutdown: %s", err)
		}
	}
	return b.scope.Close()
}
