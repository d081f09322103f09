// Package vmm implements the virtual memory manager: page-table entry
// encoding, per-address-space table trees (pagemaps) and the construction of
// the initial kernel address space.
//
// Page tables are always reached through their physical frame address and
// the physical memory window; raw table pointers are never cached across
// calls since the active address space can change at any time.
package vmm

import (
	"basalt/kernel"
	"basalt/kernel/cpu"
	"basalt/kernel/mm"
	"basalt/kernel/sync"
)

var (
	// ErrAlignment is returned when an address or length passed to a
	// mapping call is not a multiple of the page size. This indicates a
	// broken invariant in the caller and is treated as fatal upstream.
	ErrAlignment = &kernel.Error{Module: "vmm", Message: "address or length is not page-aligned"}

	// ErrAlreadyMapped is returned when mapping a virtual page that is
	// already backed by a present entry and FlagAllowRemap was not
	// supplied. The original mapping is left untouched.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	// ErrNotMapped is returned when a walk reaches a non-present entry.
	// For Translate this is a normal probing result, not a failure.
	ErrNotMapped = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrHugePage is returned when a walk encounters a huge-page entry
	// installed by the boot environment.
	ErrHugePage = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}

	errPagemapActive        = &kernel.Error{Module: "vmm", Message: "pagemap is installed as the active address space"}
	errKernelPagemapDestroy = &kernel.Error{Module: "vmm", Message: "the kernel pagemap cannot be destroyed"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	flushTLBEntryFn = cpu.FlushTLBEntry
	switchPagemapFn = cpu.SwitchPageTable
	activePagemapFn = cpu.ActivePageTable
)

// Pagemap describes one virtual address space: the physical frame of its
// root table plus the lock that serializes all mutations of the tree.
// Separate pagemaps use separate locks so concurrent mutations of different
// address spaces never contend.
type Pagemap struct {
	root mm.Frame
	lock sync.Spinlock
}

// tableAt overlays a page-table structure on the physical frame that holds
// it, reached through the physical memory window.
func tableAt(frame mm.Frame) *[mm.TableEntryCount]pageTableEntry {
	return (*[mm.TableEntryCount]pageTableEntry)(mm.PhysToPtr(frame.Address()))
}

// Init allocates a zeroed root table for this pagemap. If the kernel pagemap
// has already been bootstrapped, the new pagemap shares its higher-half root
// entries so kernel code and the physical memory window stay visible in
// every address space.
func (pm *Pagemap) Init() *kernel.Error {
	rootFrame, err := mm.AllocFrame()
	if err != nil {
		return err
	}
	kernel.Memset(uintptr(mm.PhysToPtr(rootFrame.Address())), 0, mm.PageSize)

	pm.root = rootFrame

	if kernelPagemapReady {
		src := tableAt(kernelPagemap.root)
		dst := tableAt(pm.root)
		for i := higherHalfEntry; i < mm.TableEntryCount; i++ {
			dst[i] = src[i]
		}
	}

	return nil
}

// Root returns the physical frame that holds this pagemap's root table.
func (pm *Pagemap) Root() mm.Frame {
	return pm.root
}

// Map establishes a mapping between a virtual page and a physical memory
// frame, allocating and zeroing any missing intermediate table level via the
// registered frame allocator. Mapping a page that is already present fails
// with ErrAlreadyMapped unless flags contains FlagAllowRemap; a failed call
// never leaves a half-installed leaf entry behind.
func (pm *Pagemap) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	pm.lock.Acquire()
	err := pm.mapLocked(page, frame, flags)
	pm.lock.Release()
	return err
}

func (pm *Pagemap) mapLocked(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var (
		virtAddr = page.Address()
		table    = tableAt(pm.root)
	)

	for level := 0; level < pageLevels-1; level++ {
		pte := &table[pageTableIndex(virtAddr, level)]

		if pte.HasFlags(FlagHugePage) {
			return ErrHugePage
		}

		// Next table does not exist yet; allocate a frame for it and
		// clear the boot-time garbage it contains.
		if !pte.HasFlags(FlagPresent) {
			tableFrame, err := mm.AllocFrame()
			if err != nil {
				return err
			}
			kernel.Memset(uintptr(mm.PhysToPtr(tableFrame.Address())), 0, mm.PageSize)

			*pte = 0
			pte.SetFrame(tableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
		}

		table = tableAt(pte.Frame())
	}

	leaf := &table[pageTableIndex(virtAddr, pageLevels-1)]
	if leaf.HasFlags(FlagPresent) && !flags.hasAllowRemap() {
		return ErrAlreadyMapped
	}

	*leaf = 0
	leaf.SetFrame(frame)
	leaf.SetFlags(flags &^ FlagAllowRemap)
	flushTLBEntryFn(virtAddr)

	return nil
}

func (flags PageTableEntryFlag) hasAllowRemap() bool {
	return flags&FlagAllowRemap != 0
}

// MapRange maps length bytes starting at physAddr into this pagemap at
// virtAddr. Both addresses and the length must be page-aligned or the call
// fails with ErrAlignment before any entry is touched.
func (pm *Pagemap) MapRange(virtAddr, physAddr, length uintptr, flags PageTableEntryFlag) *kernel.Error {
	if (virtAddr|physAddr|length)&(mm.PageSize-1) != 0 {
		return ErrAlignment
	}

	for offset := uintptr(0); offset < length; offset += mm.PageSize {
		err := pm.Map(mm.PageFromAddress(virtAddr+offset), mm.FrameFromAddress(physAddr+offset), flags)
		if err != nil {
			return err
		}
	}

	return nil
}

// Unmap removes the leaf entry for the supplied virtual page. Intermediate
// tables that become empty are not reclaimed. Unmapping a page that is not
// mapped fails with ErrNotMapped.
func (pm *Pagemap) Unmap(page mm.Page) *kernel.Error {
	pm.lock.Acquire()
	err := pm.unmapLocked(page)
	pm.lock.Release()
	return err
}

func (pm *Pagemap) unmapLocked(page mm.Page) *kernel.Error {
	leaf, err := pm.leafForAddress(page.Address())
	if err != nil {
		return err
	}

	leaf.ClearFlags(FlagPresent)
	flushTLBEntryFn(page.Address())

	return nil
}

// UnmapRange removes the leaf entries covering length bytes of virtual
// address space starting at virtAddr. Both arguments must be page-aligned.
func (pm *Pagemap) UnmapRange(virtAddr, length uintptr) *kernel.Error {
	if (virtAddr|length)&(mm.PageSize-1) != 0 {
		return ErrAlignment
	}

	for offset := uintptr(0); offset < length; offset += mm.PageSize {
		if err := pm.Unmap(mm.PageFromAddress(virtAddr + offset)); err != nil {
			return err
		}
	}

	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrNotMapped if the address does not resolve to a
// mapped physical page.
func (pm *Pagemap) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pm.lock.Acquire()
	leaf, err := pm.leafForAddress(virtAddr)
	if err != nil {
		pm.lock.Release()
		return 0, err
	}

	physAddr := leaf.Frame().Address() + (virtAddr & (mm.PageSize - 1))
	pm.lock.Release()

	return physAddr, nil
}

// leafForAddress walks the table hierarchy without modifying it and returns
// the present leaf entry for virtAddr.
func (pm *Pagemap) leafForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	table := tableAt(pm.root)

	for level := 0; level < pageLevels-1; level++ {
		pte := &table[pageTableIndex(virtAddr, level)]

		if pte.HasFlags(FlagHugePage) {
			return nil, ErrHugePage
		}
		if !pte.HasFlags(FlagPresent) {
			return nil, ErrNotMapped
		}

		table = tableAt(pte.Frame())
	}

	leaf := &table[pageTableIndex(virtAddr, pageLevels-1)]
	if !leaf.HasFlags(FlagPresent) {
		return nil, ErrNotMapped
	}

	return leaf, nil
}

// Activate installs this pagemap's root as the hardware-active address
// space. The caller must guarantee that the currently executing code and its
// stack remain mapped in this pagemap; after the switch every virtual
// address not present in it becomes inaccessible.
func (pm *Pagemap) Activate() {
	switchPagemapFn(pm.root.Address())
}

// IsActive returns true if this pagemap is the hardware-active address space.
func (pm *Pagemap) IsActive() bool {
	return activePagemapFn() == pm.root.Address()
}

// Destroy returns every table frame owned by this pagemap to the frame
// allocator: the lower-half subtrees plus the root table itself. Higher-half
// tables are shared with the kernel pagemap and are left alone. A pagemap
// may only be destroyed once it can never be activated again; destroying the
// active pagemap or the kernel pagemap is refused.
func (pm *Pagemap) Destroy() *kernel.Error {
	if pm.IsActive() {
		return errPagemapActive
	}
	if kernelPagemapReady && pm.root == kernelPagemap.root {
		return errKernelPagemapDestroy
	}

	pm.lock.Acquire()

	root := tableAt(pm.root)
	for i := 0; i < higherHalfEntry; i++ {
		if err := releaseTables(&root[i], 0); err != nil {
			pm.lock.Release()
			return err
		}
	}

	err := mm.FreeFrame(pm.root)
	pm.root = mm.InvalidFrame
	pm.lock.Release()

	return err
}

// releaseTables frees the table subtree referenced by the supplied entry.
// level identifies the table that contains the entry; leaf entries reference
// data frames which the pagemap does not own, so recursion stops above them.
func releaseTables(pte *pageTableEntry, level int) *kernel.Error {
	if level == pageLevels-1 || !pte.HasFlags(FlagPresent) || pte.HasFlags(FlagHugePage) {
		return nil
	}

	childFrame := pte.Frame()
	child := tableAt(childFrame)
	for i := 0; i < mm.TableEntryCount; i++ {
		if err := releaseTables(&child[i], level+1); err != nil {
			return err
		}
	}

	return mm.FreeFrame(childFrame)
}

// pageTableIndex extracts the table index for the given walk level from a
// virtual address.
func pageTableIndex(virtAddr uintptr, level int) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & (mm.TableEntryCount - 1)
}
