// Package kmain drives the kernel memory bootstrap: it turns the raw
// firmware memory map into the region catalog, brings up the physical frame
// allocator and constructs and activates the kernel address space.
package kmain

import (
	"basalt/bootinfo"
	"basalt/kernel"
	"basalt/kernel/kfmt"
	"basalt/kernel/mm"
	"basalt/kernel/mm/pmm"
	"basalt/kernel/mm/vmm"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// bootMemory runs the memory bring-up sequence. The order is load-bearing:
// the allocator must exist before the vmm can allocate page-table frames, and
// the address-space switch comes last so every structure it depends on is
// already in place.
func bootMemory() *kernel.Error {
	var rawRegions []bootinfo.MemRegion
	bootinfo.VisitMemRegions(func(region *bootinfo.MemRegion) bool {
		rawRegions = append(rawRegions, *region)
		return true
	})

	regions, err := mm.NormalizeRegions(rawRegions)
	if err != nil {
		return err
	}

	if err = pmm.Init(regions); err != nil {
		return err
	}

	return vmm.Init(regions)
}

// Kmain is the only Go symbol that is visible (exported) from the boot stub.
// It is invoked after the stub has loaded the kernel image, registered the
// firmware memory map and kernel segment list with the bootinfo package and
// set up a minimal stack.
//
// Kmain is not expected to return. If it does, the boot stub halts the CPU.
//
//go:noinline
func Kmain() {
	kfmt.Printf("booting basalt\n")

	if err := bootMemory(); err != nil {
		kfmt.Panic(err)
	}

	kfmt.Printf("memory bootstrap complete\n")

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
