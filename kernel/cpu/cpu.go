// Package cpu provides access to the privileged processor state that the
// memory manager needs to touch: the active page-table root register and the
// TLB. Each operation maps to a single instruction (mov %cr3, invlpg, hlt);
// the bodies below keep the register state in Go so the rest of the kernel
// can be exercised on a host OS, and are swapped for the boot stub's
// assembly thunks when linking a bootable image.
package cpu

var (
	// pageTableRoot mirrors the CR3 register: the physical address of the
	// root table of the active address space.
	pageTableRoot uintptr

	// haltFn is invoked by Halt. It defaults to a busy loop and is
	// replaced by the hlt-based implementation on bare metal.
	haltFn = func() {
		for {
		}
	}
)

// ActivePageTable returns the physical address of the page-table root that is
// currently installed in the hardware.
func ActivePageTable() uintptr {
	return pageTableRoot
}

// SwitchPageTable installs the page-table root located at the supplied
// physical address as the active address space and flushes the TLB.
func SwitchPageTable(tablePhysAddr uintptr) {
	pageTableRoot = tablePhysAddr
}

// FlushTLBEntry invalidates any cached translation for the page that contains
// the supplied virtual address.
func FlushTLBEntry(virtAddr uintptr) {
}

// Halt stops instruction execution. It never returns.
func Halt() {
	haltFn()
}
