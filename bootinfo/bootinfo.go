// Package bootinfo holds the hardware description handed over by the boot
// stub before the kernel proper starts running: the firmware-reported
// physical memory map and the list of loaded kernel image segments. The
// descriptors are registered exactly once by the boot stub and are treated
// as read-only afterwards.
//
// The memory map is reported verbatim: entries may be unordered, overlapping
// or not page-aligned. Normalizing them into something the allocator can
// consume is the job of the mm package. The boot stub is responsible for
// reporting the physical range occupied by the loaded kernel image and boot
// structures as reserved.
package bootinfo

// MemRegionType describes the usability of a physical memory region as
// reported by the firmware.
type MemRegionType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemRegionType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemACPIReclaimable indicates a region holding ACPI tables that can be
	// reused once the tables have been parsed.
	MemACPIReclaimable

	// MemNVS indicates memory that must be preserved when hibernating.
	MemNVS

	// MemBad indicates a region the firmware has flagged as defective.
	MemBad

	// Any value >= memUnknown is treated as MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemRegionType.
func (t MemRegionType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemACPIReclaimable:
		return "acpi (reclaimable)"
	case MemNVS:
		return "nvs"
	case MemBad:
		return "bad"
	default:
		return "reserved"
	}
}

// MemRegion describes a physical memory region entry, namely its physical
// address, its length and its type.
type MemRegion struct {
	// The physical address where this memory region starts.
	PhysAddress uint64

	// The length of the memory region in bytes.
	Length uint64

	// The region type reported by the firmware.
	Type MemRegionType
}

// MemRegionVisitor defines a visitor function that gets invoked by
// VisitMemRegions for each memory region reported by the firmware. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemRegion) bool

// KernelSegmentFlag describes the attributes of a loaded kernel image segment.
type KernelSegmentFlag uint32

const (
	// SegmentExecutable is set for segments that contain code.
	SegmentExecutable KernelSegmentFlag = 1 << iota

	// SegmentWritable is set for segments that the kernel writes to.
	SegmentWritable
)

// KernelSegment describes one loaded segment of the kernel image.
type KernelSegment struct {
	// The physical address where the segment contents were loaded.
	PhysAddress uintptr

	// The segment length in bytes.
	Size uint64

	// The segment attributes.
	Flags KernelSegmentFlag
}

// KernelSegmentVisitor defines a visitor function that gets invoked by
// VisitKernelSegments for each loaded kernel image segment. The visitor must
// return true to continue or false to abort the scan.
type KernelSegmentVisitor func(*KernelSegment) bool

var (
	memRegions     []MemRegion
	kernelSegments []KernelSegment
)

// SetMemRegions registers the firmware-reported memory map. It is called
// once by the boot stub before control is handed to Kmain.
func SetMemRegions(regions []MemRegion) {
	memRegions = regions
}

// SetKernelSegments registers the kernel image segment list. It is called
// once by the boot stub before control is handed to Kmain.
func SetKernelSegments(segments []KernelSegment) {
	kernelSegments = segments
}

// VisitMemRegions invokes the supplied visitor for each memory region
// reported by the firmware.
func VisitMemRegions(visitor MemRegionVisitor) {
	for i := range memRegions {
		if !visitor(&memRegions[i]) {
			return
		}
	}
}

// VisitKernelSegments invokes the supplied visitor for each loaded kernel
// image segment.
func VisitKernelSegments(visitor KernelSegmentVisitor) {
	for i := range kernelSegments {
		if !visitor(&kernelSegments[i]) {
			return
		}
	}
}
