package vmm

const (
	// pageLevels indicates the number of page-table levels supported by
	// the amd64 architecture.
	pageLevels = 4

	// ptePhysPageMask is a mask that allows us to extract the physical
	// memory address pointed to by a page table entry. For this particular
	// architecture, bits 12-51 contain the physical memory address.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// higherHalfEntry is the index of the first root-table entry that
	// belongs to the higher (kernel) half of the virtual address space.
	// Root entries at or above this index are shared with the kernel
	// pagemap by every address space.
	higherHalfEntry = 256
)

// pageLevelShifts defines the shift required to extract each page-table
// index from a virtual address. Every level uses 9 bits which amounts to 512
// entries per table.
var pageLevelShifts = [pageLevels]uint8{
	39,
	30,
	21,
	12,
}

const (
	// FlagPresent is set when the entry points to mapped memory.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this
	// page. If not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and
	// write-back caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set when an entry describes a 2Mb page instead of
	// pointing to the next table level. This kernel does not create such
	// entries but must recognize them when walking tables set up by the
	// boot environment.
	FlagHugePage

	// FlagGlobal prevents the TLB from evicting the cached translation
	// for this page when a new page table is installed.
	FlagGlobal

	// FlagAllowRemap is a software flag (one of the bits the MMU ignores)
	// that callers pass to Map to explicitly permit replacing a present
	// mapping. It is stripped before an entry is written to a table.
	FlagAllowRemap = 1 << 10

	// FlagNoExecute indicates that a page contains non-executable data.
	FlagNoExecute = 1 << 63
)
