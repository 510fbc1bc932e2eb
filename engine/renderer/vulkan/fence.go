package vulkan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/sanity/engine/containers"
	"github.com/spaghettifunk/sanity/engine/core"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		// Make sure to signal the fence if required.
		IsSignaled: createSignaled,
	}
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		err := resultError("vkCreateFence", res)
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// FenceWait blocks up to timeoutNs. It returns false on timeout.
func (vf *VulkanFence) FenceWait(context *VulkanContext, timeoutNs uint64) (bool, error) {
	if vf.IsSignaled {
		return true, nil
	}
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.Timeout:
		return false, nil
	}
	return false, resultError("vkWaitForFences", result)
}

// FenceStatus polls the fence without blocking.
func (vf *VulkanFence) FenceStatus(context *VulkanContext) (bool, error) {
	if vf.IsSignaled {
		return true, nil
	}
	switch result := vk.GetFenceStatus(context.Device.LogicalDevice, vf.Handle); result {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, resultError("vkGetFenceStatus", result)
	}
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	if vf.IsSignaled {
		if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
			err := resultError("vkResetFences", res)
			core.LogError(err.Error())
			return err
		}
		vf.IsSignaled = false
	}
	return nil
}

// Pending signals beyond this make Signal wait for the oldest one.
const maxPendingSignals = 64

// How long a single vkWaitForFences call may block before the context is
// checked again.
const fenceWaitSliceNs = 2_000_000

type timelinePoint struct {
	value uint64
	fence *VulkanFence
}

// fenceTimeline emulates a timeline semaphore with a ring of binary fences.
// Every signal submits an empty batch carrying a fresh fence; since the queue
// executes batches in order, the newest signaled fence tells how far the GPU
// has come.
type fenceTimeline struct {
	ctx *VulkanContext

	mu        sync.Mutex
	signaled  uint64
	completed uint64
	pending   *containers.RingQueue[timelinePoint]
	free      []*VulkanFence
}

func newFenceTimeline(ctx *VulkanContext) *fenceTimeline {
	return &fenceTimeline{
		ctx:     ctx,
		pending: containers.NewRingQueue[timelinePoint](maxPendingSignals),
	}
}

// signal must be called with the queue lock held, after the work it covers
// was submitted.
func (t *fenceTimeline) signal(queue vk.Queue) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.pending.IsFull() {
		oldest, _ := t.pending.Peek()
		if _, err := oldest.fence.FenceWait(t.ctx, vk.MaxUint64); err != nil {
			return 0, err
		}
		if err := t.pollLocked(); err != nil {
			return 0, err
		}
	}

	var fence *VulkanFence
	if n := len(t.free); n > 0 {
		fence = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		f, err := NewFence(t.ctx, false)
		if err != nil {
			return 0, err
		}
		fence = f
	}

	if res := vk.QueueSubmit(queue, 0, nil, fence.Handle); res != vk.Success {
		t.free = append(t.free, fence)
		return 0, resultError("vkQueueSubmit", res)
	}
	t.signaled++
	if err := t.pending.Enqueue(timelinePoint{value: t.signaled, fence: fence}); err != nil {
		return 0, err
	}
	return t.signaled, nil
}

// pollLocked retires every fence the GPU has passed.
func (t *fenceTimeline) pollLocked() error {
	for !t.pending.IsEmpty() {
		front, _ := t.pending.Peek()
		done, err := front.fence.FenceStatus(t.ctx)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		if err := front.fence.FenceReset(t.ctx); err != nil {
			return err
		}
		_, _ = t.pending.Dequeue()
		t.free = append(t.free, front.fence)
		t.completed = front.value
	}
	return nil
}

func (t *fenceTimeline) completedValue() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.pollLocked(); err != nil {
		return 0, err
	}
	return t.completed, nil
}

func (t *fenceTimeline) wait(ctx context.Context, value uint64) error {
	for {
		t.mu.Lock()
		if err := t.pollLocked(); err != nil {
			t.mu.Unlock()
			return err
		}
		if t.completed >= value {
			t.mu.Unlock()
			return nil
		}
		if value > t.signaled {
			t.mu.Unlock()
			return fmt.Errorf("waiting for fence value %d that was never signaled (last %d)", value, t.signaled)
		}
		front, _ := t.pending.Peek()
		t.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		// Only this fence's handle is touched outside the lock. A concurrent
		// poll may reset it, which just turns this wait into a timeout.
		result := vk.WaitForFences(t.ctx.Device.LogicalDevice, 1, []vk.Fence{front.fence.Handle}, vk.True, fenceWaitSliceNs)
		if result != vk.Success && result != vk.Timeout {
			return resultError("vkWaitForFences", result)
		}
	}
}

func (t *fenceTimeline) destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.pending.IsEmpty() {
		p, err := t.pending.Dequeue()
		if errors.Is(err, containers.ErrQueueEmpty) {
			break
		}
		p.fence.FenceDestroy(t.ctx)
	}
	for _, f := range t.free {
		f.FenceDestroy(t.ctx)
	}
	t.free = nil
}
