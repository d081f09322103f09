package pmm

import (
	"testing"
	"unsafe"

	"basalt/kernel/mm"
)

// testRAM simulates a small physical address space backed by a Go slice so
// allocator bookkeeping and frame zeroing can run on a host OS.
type testRAM struct {
	words []uint64
}

func newTestRAM(size uintptr) *testRAM {
	return &testRAM{words: make([]uint64, size>>3)}
}

func (ram *testRAM) mapper(physAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(&ram.words[physAddr>>3])
}

func (ram *testRAM) readByte(physAddr uintptr) byte {
	return *(*byte)(ram.mapper(physAddr))
}

func (ram *testRAM) writeByte(physAddr uintptr, value byte) {
	*(*byte)(ram.mapper(physAddr)) = value
}

// twoRegionSetup installs a simulated 4Mb address space with two usable 1Mb
// regions at 0x100000 and 0x300000 and initializes the supplied allocator
// with it. Everything outside the two regions is a memory-map gap.
func twoRegionSetup(t *testing.T, alloc *BitmapAllocator) *testRAM {
	t.Helper()

	ram := newTestRAM(0x400000)
	mm.SetPhysMapper(ram.mapper)

	regions := []mm.PhysRegion{
		{Start: 0x100000, Size: 0x100000},
		{Start: 0x300000, Size: 0x100000},
	}

	if err := alloc.Init(regions); err != nil {
		t.Fatal(err)
	}

	return ram
}

func TestAllocFramesFirstFit(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	twoRegionSetup(t, &alloc)

	// First-fit must hand out ascending addresses from the start of the
	// lowest usable region; the bitmap backing store lives at the tail of
	// the highest region and must not perturb this.
	for i, expAddr := range []uintptr{0x100000, 0x101000, 0x102000} {
		frame, err := alloc.AllocFrames(1)
		if err != nil {
			t.Fatal(err)
		}
		if got := frame.Address(); got != expAddr {
			t.Fatalf("[alloc %d] expected frame address 0x%x; got 0x%x", i, expAddr, got)
		}
	}
}

func TestInitAccounting(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	twoRegionSetup(t, &alloc)

	if exp, got := uint64(1024), alloc.TotalFrames(); got != exp {
		t.Fatalf("expected %d tracked frames; got %d", exp, got)
	}

	// 512 frames of gaps plus one frame backing the bitmap itself
	if exp, got := uint64(513), alloc.ReservedFrames(); got != exp {
		t.Fatalf("expected %d reserved frames; got %d", exp, got)
	}
}

func TestFreeAndReuse(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	twoRegionSetup(t, &alloc)

	frame, err := alloc.AllocFrames(1)
	if err != nil {
		t.Fatal(err)
	}

	reservedBefore := alloc.ReservedFrames()
	if err = alloc.FreeFrames(frame, 1); err != nil {
		t.Fatal(err)
	}

	if got := alloc.ReservedFrames(); got != reservedBefore-1 {
		t.Fatalf("expected reserved count to drop to %d; got %d", reservedBefore-1, got)
	}

	// The freed frame is the lowest free frame again so first-fit must
	// return the exact same address.
	again, err := alloc.AllocFrames(1)
	if err != nil {
		t.Fatal(err)
	}
	if again != frame {
		t.Fatalf("expected re-allocation to return frame 0x%x; got 0x%x", frame.Address(), again.Address())
	}
}

func TestMultiFrameAlloc(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	twoRegionSetup(t, &alloc)

	frame, err := alloc.AllocFrames(16)
	if err != nil {
		t.Fatal(err)
	}
	if got := frame.Address(); got != 0x100000 {
		t.Fatalf("expected run to start at 0x100000; got 0x%x", got)
	}

	// Punch a hole inside the first region; the next run of equal size
	// must skip past it.
	if err = alloc.FreeFrames(frame+2, 1); err != nil {
		t.Fatal(err)
	}

	next, err := alloc.AllocFrames(16)
	if err != nil {
		t.Fatal(err)
	}
	if got := next.Address(); got != 0x110000 {
		t.Fatalf("expected next run to start at 0x110000; got 0x%x", got)
	}

	// The single-frame hole is still the first free extent.
	hole, err := alloc.AllocFrames(1)
	if err != nil {
		t.Fatal(err)
	}
	if hole != frame+2 {
		t.Fatalf("expected hole frame 0x%x to be reused; got 0x%x", (frame + 2).Address(), hole.Address())
	}
}

func TestAllocRunDoesNotSpanRegions(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	twoRegionSetup(t, &alloc)

	// Consume all but 8 frames of the first region (256 usable frames).
	if _, err := alloc.AllocFrames(248); err != nil {
		t.Fatal(err)
	}

	// A 16-frame request cannot straddle the reserved gap between the two
	// regions; it must come from the second region.
	frame, err := alloc.AllocFrames(16)
	if err != nil {
		t.Fatal(err)
	}
	if got := frame.Address(); got != 0x300000 {
		t.Fatalf("expected run from the second region at 0x300000; got 0x%x", got)
	}
}

func TestAllocFramesOutOfMemory(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	twoRegionSetup(t, &alloc)

	// 511 usable frames remain (512 minus the bitmap frame).
	if _, err := alloc.AllocFrames(512); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}

	// The failed request must leave the allocator untouched: the two free
	// extents (256 and 255 frames) are still fully allocatable.
	reserved := alloc.ReservedFrames()
	if _, err := alloc.AllocFrames(256); err != nil {
		t.Fatalf("expected the first region to still be allocatable; got %v", err)
	}
	if _, err := alloc.AllocFrames(255); err != nil {
		t.Fatalf("expected the second region to still be allocatable; got %v", err)
	}
	if exp, got := reserved+511, alloc.ReservedFrames(); got != exp {
		t.Fatalf("expected %d reserved frames; got %d", exp, got)
	}

	if _, err := alloc.AllocFrames(1); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory once exhausted; got %v", err)
	}
}

func TestAllocZeroedFrames(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	ram := twoRegionSetup(t, &alloc)

	// Scribble boot-time garbage over the frames about to be returned.
	for offset := uintptr(0); offset < 2*mm.PageSize; offset += 8 {
		ram.writeByte(0x100000+offset, 0xdb)
	}

	frame, err := alloc.AllocZeroedFrames(2)
	if err != nil {
		t.Fatal(err)
	}

	for offset := uintptr(0); offset < 2*mm.PageSize; offset++ {
		if got := ram.readByte(frame.Address() + offset); got != 0 {
			t.Fatalf("expected zeroed frame contents; got 0x%x at offset 0x%x", got, offset)
		}
	}
}

func TestFreeFramesErrors(t *testing.T) {
	defer mm.SetPhysMapper(nil)

	var alloc BitmapAllocator
	twoRegionSetup(t, &alloc)

	frame, err := alloc.AllocFrames(4)
	if err != nil {
		t.Fatal(err)
	}

	if err = alloc.FreeFrames(frame, 4); err != nil {
		t.Fatal(err)
	}

	// Freeing the same run twice must be detected.
	if err = alloc.FreeFrames(frame, 4); err != ErrDoubleFree {
		t.Fatalf("expected ErrDoubleFree; got %v", err)
	}

	// A run that is only partially free must fail without clearing the
	// still-reserved bits.
	frame, err = alloc.AllocFrames(4)
	if err != nil {
		t.Fatal(err)
	}
	if err = alloc.FreeFrames(frame+1, 2); err != nil {
		t.Fatal(err)
	}
	reserved := alloc.ReservedFrames()
	if err = alloc.FreeFrames(frame, 4); err != ErrDoubleFree {
		t.Fatalf("expected ErrDoubleFree for partially freed run; got %v", err)
	}
	if got := alloc.ReservedFrames(); got != reserved {
		t.Fatalf("expected failed free to leave %d frames reserved; got %d", reserved, got)
	}

	// Frames past the end of the managed range are not ours.
	if err = alloc.FreeFrames(mm.Frame(2048), 1); err != ErrFrameUnmanaged {
		t.Fatalf("expected ErrFrameUnmanaged; got %v", err)
	}

	if err = alloc.FreeFrames(frame, 0); err != errZeroFrameRequest {
		t.Fatalf("expected errZeroFrameRequest; got %v", err)
	}
	if _, err = alloc.AllocFrames(0); err != errZeroFrameRequest {
		t.Fatalf("expected errZeroFrameRequest; got %v", err)
	}
}

func TestInitBitmapDoesNotFit(t *testing.T) {
	var alloc BitmapAllocator

	// A single page of usable memory at the top of a 1Gb address space:
	// tracking 256Ki frames needs 8 pages of bitmap which cannot be
	// carved from any region.
	regions := []mm.PhysRegion{
		{Start: 0x40000000 - 0x1000, Size: 0x1000},
	}

	if err := alloc.Init(regions); err != errNoSpaceForBitmap {
		t.Fatalf("expected errNoSpaceForBitmap; got %v", err)
	}
}

func TestInitEmptyCatalog(t *testing.T) {
	var alloc BitmapAllocator

	if err := alloc.Init(nil); err != mm.ErrNoUsableMemory {
		t.Fatalf("expected ErrNoUsableMemory; got %v", err)
	}
}

func TestPackageInit(t *testing.T) {
	defer func() {
		mm.SetPhysMapper(nil)
		mm.SetFrameAllocator(nil)
		mm.SetFrameReclaimer(nil)
		FrameAllocator = BitmapAllocator{}
	}()

	ram := newTestRAM(0x400000)
	mm.SetPhysMapper(ram.mapper)

	regions := []mm.PhysRegion{
		{Start: 0x100000, Size: 0x100000},
		{Start: 0x300000, Size: 0x100000},
	}

	FrameAllocator = BitmapAllocator{}
	if err := Init(regions); err != nil {
		t.Fatal(err)
	}

	// Init must register the allocator as the system frame provider.
	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}
	if got := frame.Address(); got != 0x100000 {
		t.Fatalf("expected mm.AllocFrame to return 0x100000; got 0x%x", got)
	}

	if err := mm.FreeFrame(frame); err != nil {
		t.Fatal(err)
	}

	if err := mm.FreeFrame(frame); err != ErrDoubleFree {
		t.Fatalf("expected ErrDoubleFree through mm.FreeFrame; got %v", err)
	}
}
