package mm

import (
	"basalt/bootinfo"
	"basalt/kernel"
)

// ErrNoUsableMemory is returned when the firmware memory map contains no
// usable region at all. Booting cannot proceed in that case.
var ErrNoUsableMemory = &kernel.Error{Module: "mm", Message: "memory map contains no usable regions"}

// PhysRegion describes a normalized, page-aligned region of usable physical
// memory. Regions produced by NormalizeRegions are immutable.
type PhysRegion struct {
	// Start is the physical address of the first page in the region.
	// Always a multiple of PageSize.
	Start uintptr

	// Size is the region length in bytes. Always a multiple of PageSize
	// and never zero.
	Size uintptr
}

// End returns the exclusive physical end address of the region.
func (r PhysRegion) End() uintptr {
	return r.Start + r.Size
}

// FrameCount returns the number of page frames the region spans.
func (r PhysRegion) FrameCount() uint64 {
	return uint64(r.Size >> PageShift)
}

// NormalizeRegions converts the raw firmware memory map into the canonical
// region catalog: unusable entries are dropped, region boundaries are aligned
// inwards to page boundaries (starts rounded up, ends rounded down), entries
// that become empty are discarded and the survivors are sorted by start
// address with overlapping or adjacent entries merged.
//
// NormalizeRegions returns ErrNoUsableMemory if no usable page remains; the
// kernel cannot continue booting without memory to manage.
func NormalizeRegions(raw []bootinfo.MemRegion) ([]PhysRegion, *kernel.Error) {
	regions := make([]PhysRegion, 0, len(raw))

	for i := range raw {
		if raw[i].Type != bootinfo.MemAvailable {
			continue
		}

		start := (uintptr(raw[i].PhysAddress) + (PageSize - 1)) & ^(PageSize - 1)
		end := (uintptr(raw[i].PhysAddress) + uintptr(raw[i].Length)) & ^(PageSize - 1)
		if end <= start {
			// Empty after alignment (includes zero-length entries)
			continue
		}

		regions = append(regions, PhysRegion{Start: start, Size: end - start})
	}

	// Insertion sort by start address; firmware maps are small
	for i := 1; i < len(regions); i++ {
		for j := i; j > 0 && regions[j].Start < regions[j-1].Start; j-- {
			regions[j], regions[j-1] = regions[j-1], regions[j]
		}
	}

	// Merge overlapping or adjacent entries in-place
	merged := regions[:0]
	for _, region := range regions {
		if len(merged) > 0 && region.Start <= merged[len(merged)-1].End() {
			last := &merged[len(merged)-1]
			if region.End() > last.End() {
				last.Size = region.End() - last.Start
			}
			continue
		}
		merged = append(merged, region)
	}

	if len(merged) == 0 {
		return nil, ErrNoUsableMemory
	}

	return merged, nil
}

// MaxPhysAddress returns the exclusive upper bound of the physical address
// space covered by the supplied region catalog.
func MaxPhysAddress(regions []PhysRegion) uintptr {
	if len(regions) == 0 {
		return 0
	}
	return regions[len(regions)-1].End()
}
