package mm

import "unsafe"

// PhysMapper translates a physical address into a pointer through which the
// kernel can access that location.
type PhysMapper func(physAddr uintptr) unsafe.Pointer

var (
	// physMapper converts physical addresses to accessible pointers. The
	// default implementation goes through the higher-half physical memory
	// window which the boot stub establishes provisionally and the vmm
	// bootstrap re-establishes in the kernel pagemap. Tests substitute a
	// mapper backed by a simulated RAM slab.
	physMapper PhysMapper = windowMapper
)

func windowMapper(physAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(physAddr + PhysWindowOffset)
}

// SetPhysMapper overrides the translation of physical addresses to pointers.
// Passing nil restores the physical-memory-window translation.
func SetPhysMapper(fn PhysMapper) {
	if fn == nil {
		physMapper = windowMapper
		return
	}
	physMapper = fn
}

// PhysToPtr returns a pointer through which the supplied physical address can
// be read and written.
func PhysToPtr(physAddr uintptr) unsafe.Pointer {
	return physMapper(physAddr)
}

// PhysToVirt returns the virtual address inside the physical memory window
// that corresponds to the supplied physical address.
func PhysToVirt(physAddr uintptr) uintptr {
	return physAddr + PhysWindowOffset
}
