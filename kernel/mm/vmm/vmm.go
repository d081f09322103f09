package vmm

import (
	"basalt/bootinfo"
	"basalt/kernel"
	"basalt/kernel/kfmt"
	"basalt/kernel/mm"
)

var (
	// kernelPagemap is the address space constructed during bootstrap. Its
	// higher-half root entries are shared with every pagemap created after
	// kernelPagemapReady is set.
	kernelPagemap      Pagemap
	kernelPagemapReady bool

	errBootstrapRepeated = &kernel.Error{Module: "vmm", Message: "kernel address space is already constructed"}
)

// KernelPagemap returns the pagemap that describes the kernel address space.
func KernelPagemap() *Pagemap {
	return &kernelPagemap
}

// Init constructs the kernel address space and installs it as the active
// pagemap. The new address space maps the physical memory window covering
// every cataloged physical address plus each loaded kernel segment at its
// higher-half virtual location; the provisional boot-stub tables are
// abandoned once the switch completes.
func Init(regions []mm.PhysRegion) *kernel.Error {
	if kernelPagemapReady {
		return errBootstrapRepeated
	}

	if err := kernelPagemap.Init(); err != nil {
		return err
	}

	if err := mapPhysWindow(regions); err != nil {
		return err
	}

	if err := mapKernelSegments(); err != nil {
		return err
	}

	// From this point on new pagemaps share the kernel half.
	kernelPagemapReady = true

	kfmt.Printf("[vmm] switching to kernel address space; pagemap root: 0x%x\n", kernelPagemap.root.Address())
	kernelPagemap.Activate()

	return nil
}

// mapPhysWindow establishes the direct physical memory window: every physical
// address up to the end of the last usable region becomes readable and
// writable at PhysWindowOffset + address. The window carries data, never
// code, so it is mapped non-executable.
func mapPhysWindow(regions []mm.PhysRegion) *kernel.Error {
	windowLen := mm.MaxPhysAddress(regions)
	if windowLen == 0 {
		return mm.ErrNoUsableMemory
	}

	return kernelPagemap.MapRange(mm.PhysWindowOffset, 0, windowLen, FlagPresent|FlagRW|FlagNoExecute)
}

// mapKernelSegments maps each loaded kernel segment at its link-time virtual
// address with the tightest flags its attributes permit: read-only unless the
// segment is writable, non-executable unless it holds code. Adjacent segments
// may share a boundary page after rounding; the last segment to touch such a
// page wins, so the loader must order segments with the most permissive last.
func mapKernelSegments() *kernel.Error {
	var err *kernel.Error

	bootinfo.VisitKernelSegments(func(segment *bootinfo.KernelSegment) bool {
		flags := FlagPresent | FlagAllowRemap
		if segment.Flags&bootinfo.SegmentWritable != 0 {
			flags |= FlagRW
		}
		if segment.Flags&bootinfo.SegmentExecutable == 0 {
			flags |= FlagNoExecute
		}

		physStart := segment.PhysAddress & ^uintptr(mm.PageSize-1)
		physEnd := (segment.PhysAddress + uintptr(segment.Size) + mm.PageSize - 1) & ^uintptr(mm.PageSize-1)

		err = kernelPagemap.MapRange(mm.KernelImageOffset+physStart, physStart, physEnd-physStart, flags)
		return err == nil
	})

	return err
}
