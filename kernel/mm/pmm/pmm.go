// Package pmm implements the physical memory manager: a bitmap-backed,
// first-fit page frame allocator covering every physical address the region
// catalog knows about.
package pmm

import (
	"reflect"
	"unsafe"

	"basalt/kernel"
	"basalt/kernel/kfmt"
	"basalt/kernel/mm"
	"basalt/kernel/sync"
)

var (
	// ErrOutOfMemory is returned when no contiguous run of free frames
	// can satisfy an allocation request. Callers decide whether this is
	// fatal.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrDoubleFree is returned when freeing a frame that is not
	// currently allocated. It indicates a corrupted memory model and must
	// be treated as fatal by the caller.
	ErrDoubleFree = &kernel.Error{Module: "pmm", Message: "frame is already free"}

	// ErrFrameUnmanaged is returned when freeing frames outside the
	// physical address range covered by the allocator.
	ErrFrameUnmanaged = &kernel.Error{Module: "pmm", Message: "frame outside managed physical memory"}

	errZeroFrameRequest = &kernel.Error{Module: "pmm", Message: "request must cover at least one frame"}
	errNoSpaceForBitmap = &kernel.Error{Module: "pmm", Message: "no usable region large enough to host the frame bitmap"}
)

// FrameAllocator is the BitmapAllocator instance that serves as the primary
// allocator for reserving pages.
var FrameAllocator BitmapAllocator

// BitmapAllocator tracks the reservation state of every physical page frame
// from address zero up to the end of the last usable region. A set bit marks
// a reserved frame; frames inside memory-map gaps and reserved regions stay
// permanently set. All state mutations are serialized by a spinlock.
type BitmapAllocator struct {
	lock sync.Spinlock

	// bitmap holds one bit per frame. Its backing storage is carved out
	// of physical memory during Init and accessed through the physical
	// memory window.
	bitmap    []uint64
	bitmapHdr reflect.SliceHeader

	// frameCount is the number of frames covered by the bitmap.
	frameCount uint64

	// reservedCount tracks the number of currently reserved frames.
	reservedCount uint64
}

// Init builds the allocator's frame bitmap from the supplied region catalog.
// The bitmap must live somewhere, and at this point nothing can allocate
// memory yet; it is carved out of the tail of the highest usable region large
// enough to host it and its frames are flagged as reserved before the
// allocator serves its first request. Low memory is deliberately left
// untouched so first-fit allocations remain deterministic.
func (alloc *BitmapAllocator) Init(regions []mm.PhysRegion) *kernel.Error {
	maxAddr := mm.MaxPhysAddress(regions)
	if maxAddr == 0 {
		return mm.ErrNoUsableMemory
	}

	alloc.frameCount = uint64(maxAddr >> mm.PageShift)
	words := int((alloc.frameCount + 63) >> 6)
	bitmapPages := ((uintptr(words) << 3) + mm.PageSize - 1) >> mm.PageShift

	var (
		bitmapBase  uintptr
		hostedIndex = -1
	)
	for i := len(regions) - 1; i >= 0; i-- {
		if regions[i].FrameCount() >= uint64(bitmapPages) {
			bitmapBase = regions[i].End() - (bitmapPages << mm.PageShift)
			hostedIndex = i
			break
		}
	}
	if hostedIndex == -1 {
		return errNoSpaceForBitmap
	}

	alloc.bitmapHdr.Len, alloc.bitmapHdr.Cap = words, words
	alloc.bitmapHdr.Data = uintptr(mm.PhysToPtr(bitmapBase))
	alloc.bitmap = *(*[]uint64)(unsafe.Pointer(&alloc.bitmapHdr))

	// Everything starts out reserved; this also covers the trailing bits
	// of the last word that map past frameCount.
	for i := range alloc.bitmap {
		alloc.bitmap[i] = ^uint64(0)
	}
	alloc.reservedCount = alloc.frameCount

	for _, region := range regions {
		firstFrame := uint64(region.Start >> mm.PageShift)
		for frame := firstFrame; frame < firstFrame+region.FrameCount(); frame++ {
			alloc.bitmap[frame>>6] &^= 1 << (frame & 63)
		}
		alloc.reservedCount -= region.FrameCount()
	}

	// The bitmap's own backing frames are handed out to nobody.
	firstBitmapFrame := uint64(bitmapBase >> mm.PageShift)
	for frame := firstBitmapFrame; frame < firstBitmapFrame+uint64(bitmapPages); frame++ {
		alloc.bitmap[frame>>6] |= 1 << (frame & 63)
	}
	alloc.reservedCount += uint64(bitmapPages)

	return nil
}

// AllocFrames reserves count contiguous free frames and returns the first
// frame of the run. The search is first-fit in ascending physical address
// order. If no run of count free frames exists, ErrOutOfMemory is returned
// and the allocator state is left unchanged.
func (alloc *BitmapAllocator) AllocFrames(count uint64) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errZeroFrameRequest
	}

	alloc.lock.Acquire()
	frame, err := alloc.allocRun(count)
	alloc.lock.Release()
	return frame, err
}

func (alloc *BitmapAllocator) allocRun(count uint64) (mm.Frame, *kernel.Error) {
	var runStart, runLen uint64

	for frame := uint64(0); frame < alloc.frameCount; {
		// Skip fully reserved words without scanning individual bits
		if runLen == 0 && frame&63 == 0 && alloc.bitmap[frame>>6] == ^uint64(0) {
			frame += 64
			continue
		}

		if alloc.bitmap[frame>>6]&(1<<(frame&63)) != 0 {
			runLen = 0
			frame++
			continue
		}

		if runLen == 0 {
			runStart = frame
		}
		runLen++
		frame++

		if runLen == count {
			for reserved := runStart; reserved < runStart+count; reserved++ {
				alloc.bitmap[reserved>>6] |= 1 << (reserved & 63)
			}
			alloc.reservedCount += count
			return mm.Frame(runStart), nil
		}
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// AllocZeroedFrames behaves like AllocFrames but guarantees that the returned
// frames read as zero. Physical memory handed over by the firmware contains
// arbitrary boot-time garbage, so the run is cleared through the physical
// memory window before it is returned.
func (alloc *BitmapAllocator) AllocZeroedFrames(count uint64) (mm.Frame, *kernel.Error) {
	frame, err := alloc.AllocFrames(count)
	if err != nil {
		return mm.InvalidFrame, err
	}

	kernel.Memset(uintptr(mm.PhysToPtr(frame.Address())), 0, uintptr(count)<<mm.PageShift)
	return frame, nil
}

// FreeFrames releases count frames starting at frame. Freeing a frame that
// is already free indicates that the caller's view of memory ownership has
// diverged from the allocator's; the call fails with ErrDoubleFree before
// any bit is modified and the caller must treat that as fatal.
func (alloc *BitmapAllocator) FreeFrames(frame mm.Frame, count uint64) *kernel.Error {
	if count == 0 {
		return errZeroFrameRequest
	}

	alloc.lock.Acquire()
	err := alloc.freeRun(uint64(frame), count)
	alloc.lock.Release()
	return err
}

func (alloc *BitmapAllocator) freeRun(firstFrame, count uint64) *kernel.Error {
	if firstFrame+count > alloc.frameCount {
		return ErrFrameUnmanaged
	}

	// Verify the entire run before mutating anything so a failed free has
	// no observable effect.
	for frame := firstFrame; frame < firstFrame+count; frame++ {
		if alloc.bitmap[frame>>6]&(1<<(frame&63)) == 0 {
			return ErrDoubleFree
		}
	}

	for frame := firstFrame; frame < firstFrame+count; frame++ {
		alloc.bitmap[frame>>6] &^= 1 << (frame & 63)
	}
	alloc.reservedCount -= count

	return nil
}

// TotalFrames returns the number of frames covered by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint64 {
	alloc.lock.Acquire()
	total := alloc.frameCount
	alloc.lock.Release()
	return total
}

// ReservedFrames returns the number of currently reserved frames, including
// memory-map gaps and the allocator's own bookkeeping pages.
func (alloc *BitmapAllocator) ReservedFrames() uint64 {
	alloc.lock.Acquire()
	reserved := alloc.reservedCount
	alloc.lock.Release()
	return reserved
}

// printMemoryMap logs the region catalog and the allocator totals.
func (alloc *BitmapAllocator) printMemoryMap(regions []mm.PhysRegion) {
	kfmt.Printf("[pmm] usable physical memory:\n")

	var totalUsable mm.Size
	for _, region := range regions {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d\n", region.Start, region.End(), region.Size)
		totalUsable += mm.Size(region.Size)
	}

	kfmt.Printf("[pmm] usable: %dKb, tracked frames: %d, reserved frames: %d\n",
		uint64(totalUsable/mm.Kb), alloc.frameCount, alloc.reservedCount)
}

// Init sets up the kernel physical memory allocation sub-system using the
// supplied region catalog and registers the allocator as the system-wide
// frame provider.
func Init(regions []mm.PhysRegion) *kernel.Error {
	if err := FrameAllocator.Init(regions); err != nil {
		return err
	}
	FrameAllocator.printMemoryMap(regions)

	mm.SetFrameAllocator(allocFrame)
	mm.SetFrameReclaimer(reclaimFrame)
	return nil
}

// allocFrame delegates single-frame requests to the bitmap allocator. Using
// a free function instead of a method value keeps the allocator instance
// from escaping to the heap.
func allocFrame() (mm.Frame, *kernel.Error) {
	return FrameAllocator.AllocFrames(1)
}

func reclaimFrame(frame mm.Frame) *kernel.Error {
	return FrameAllocator.FreeFrames(frame, 1)
}
