package platform

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/sanity/engine/core"
)

func init() {
	// GLFW must be initialized and terminated on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the GLFW library. No window is ever opened: GLFW is only used
// to locate the Vulkan loader and as a monotonic clock.
type Platform struct {
	mu        sync.Mutex
	started   bool
	startTime float64
}

func New() *Platform {
	return &Platform{}
}

func (p *Platform) Startup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return err
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	p.started = true
	p.startTime = glfw.GetTime()
	return nil
}

// VulkanProcAddr returns vkGetInstanceProcAddr as found by GLFW.
func (p *Platform) VulkanProcAddr() (unsafe.Pointer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, fmt.Errorf("platform is not started")
	}
	if !glfw.VulkanSupported() {
		return nil, fmt.Errorf("no Vulkan loader found")
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, fmt.Errorf("GetInstanceProcAddress is nil")
	}
	return procAddr, nil
}

// Uptime is the number of seconds since Startup.
func (p *Platform) Uptime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return glfw.GetTime() - p.startTime
}

func (p *Platform) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		glfw.Terminate()
		p.started = false
	}
	return nil
}
