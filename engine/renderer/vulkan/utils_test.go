package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-graph/engine/core"
)

func TestCheck(t *testing.T) {
	assert.NoError(t, check("vkCreateFence", vk.Success))

	err := check("vkCreateFence", vk.ErrorOutOfDeviceMemory)
	var devErr *core.DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, "vkCreateFence", devErr.Op)
	assert.Equal(t, "VK_ERROR_OUT_OF_DEVICE_MEMORY", devErr.Result)
	assert.False(t, errors.Is(err, core.ErrDeviceLost))

	assert.ErrorIs(t, check("vkQueueSubmit", vk.ErrorDeviceLost), core.ErrDeviceLost)
}

func TestResultNameFallsBackToNumber(t *testing.T) {
	assert.Equal(t, "VK_SUBOPTIMAL_KHR", resultName(vk.Suboptimal))
	assert.Equal(t, "VkResult(12345)", resultName(vk.Result(12345)))
}

func TestSafeStrings(t *testing.T) {
	assert.Equal(t, "main\x00", safeString("main"))
	assert.Equal(t, "main\x00", safeString("main\x00"))

	in := []string{"VK_KHR_surface"}
	out := safeStrings(in)
	assert.Equal(t, "VK_KHR_surface\x00", out[0])
	assert.Equal(t, "VK_KHR_surface", in[0], "input is not modified")
}

func TestCString(t *testing.T) {
	var name [16]byte
	copy(name[:], "llvmpipe")
	assert.Equal(t, "llvmpipe", cString(name[:]))
	assert.Equal(t, "full", cString([]byte("full")))
}
