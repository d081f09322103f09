// Package mm declares the types and conventions shared by the physical and
// virtual memory managers: physical frames, virtual pages, the fixed virtual
// memory layout and the hooks through which the vmm obtains physical frames
// without importing the allocator package directly.
package mm

import (
	"math"

	"basalt/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address where this Frame begins.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down to the frame
// that contains them.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address where this Page begins.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down to the page that
// contains them.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

var (
	// frameAllocator points to the frame allocation function registered
	// via SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// frameReclaimer points to the frame release function registered via
	// SetFrameReclaimer.
	frameReclaimer FrameReclaimerFn
)

// FrameAllocatorFn is a function that can allocate a single physical frame.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReclaimerFn is a function that returns a single physical frame to the
// allocator it was obtained from.
type FrameReclaimerFn func(Frame) *kernel.Error

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// SetFrameReclaimer registers a function that the vmm code uses to return
// page-table frames to the physical allocator.
func SetFrameReclaimer(freeFn FrameReclaimerFn) { frameReclaimer = freeFn }

// AllocFrame allocates a new physical frame using the currently registered
// frame allocator.
func AllocFrame() (Frame, *kernel.Error) { return frameAllocator() }

// FreeFrame returns a frame to the currently registered allocator. Freeing a
// frame that is not currently allocated indicates a corrupted memory model
// and is reported as an error, never silently ignored.
func FreeFrame(frame Frame) *kernel.Error { return frameReclaimer(frame) }
