package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// TableEntryCount defines the number of entries in a page table at
	// any paging level. A table always occupies exactly one page.
	TableEntryCount = 512

	// PhysWindowOffset is the virtual base of the higher-half window that
	// maps all of physical memory. Adding it to any physical address
	// yields a kernel-visible virtual address for that location without a
	// page-table walk.
	PhysWindowOffset = uintptr(0xffff800000000000)

	// KernelImageOffset is the higher-half virtual base where the kernel
	// image is mapped. A kernel virtual address is obtained by adding it
	// to the physical address the image was loaded at.
	KernelImageOffset = uintptr(0xffffffffc0000000)
)
