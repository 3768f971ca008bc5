package mmu

import (
	"errors"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/swap"
	"go.uber.org/mock/gomock"
)

const textBase = uint64(0x400000)

func pageAddr(i int) uint64 {
	return textBase + uint64(i)*vm.PageSize
}

func pattern(b byte) []byte {
	return []byte{b, b + 1, b + 2, b + 3, b + 4, b + 5, b + 6, b + 7}
}

type eventLog struct {
	sync.Mutex
	events []vm.HookCtx
}

func (l *eventLog) record(ctx vm.HookCtx) {
	l.Lock()
	defer l.Unlock()

	l.events = append(l.events, ctx)
}

func (l *eventLog) at(pos *vm.HookPos) []interface{} {
	l.Lock()
	defer l.Unlock()

	var items []interface{}
	for _, ctx := range l.events {
		if ctx.Pos == pos {
			items = append(items, ctx.Item)
		}
	}

	return items
}

func descriptorOf(as *addrspace.AddressSpace, vaddr uint64) vm.Descriptor {
	as.Lock()
	defer as.Unlock()

	d := as.Lookup(vaddr)
	Expect(d).NotTo(BeNil())

	return *d
}

var _ = Describe("System", func() {
	var (
		mockCtrl *gomock.Controller
		hook     *MockHook
		events   *eventLog
		store    *swap.Store
		builder  Builder
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		events = &eventLog{}
		hook = NewMockHook(mockCtrl)
		hook.EXPECT().Func(gomock.Any()).Do(events.record).AnyTimes()
		store = swap.MakeBuilder().WithDir(GinkgoT().TempDir()).Build()
		builder = MakeBuilder().WithSwapStore(store).WithHook(hook)
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
		mockCtrl.Finish()
	})

	Context("with four frames", func() {
		var (
			sys *System
			as  *addrspace.AddressSpace
			cpu *CPU
		)

		BeforeEach(func() {
			sys = builder.WithNumFrames(4).Build()
			as = sys.CreateAddressSpace()
			Expect(as.DefineRegion(textBase, 6*vm.PageSize, true, true, false)).
				To(Succeed())
			cpu = sys.CPU(0)
			cpu.Activate(as)

			for i := 0; i < 4; i++ {
				Expect(cpu.Write(pageAddr(i)+0x10, pattern(byte(i)))).To(Succeed())
			}
		})

		It("should place pages in ascending frames", func() {
			for i := 0; i < 4; i++ {
				d := descriptorOf(as, pageAddr(i))
				Expect(d.Frame).To(Equal(vm.FrameIndex(i)))
				Expect(d.Resident()).To(BeTrue())
			}

			Expect(sys.Frames().Usage()).To(Equal(coremap.Usage{Dirty: 4}))
		})

		It("should evict frame 0 to the start of swap", func() {
			Expect(cpu.Write(pageAddr(4)+0x10, pattern(4))).To(Succeed())

			evicted := descriptorOf(as, pageAddr(0))
			Expect(evicted.Resident()).To(BeFalse())
			Expect(evicted.Swapped()).To(BeTrue())
			Expect(evicted.SwapOffset).To(Equal(int64(0)))
			Expect(descriptorOf(as, pageAddr(4)).Frame).To(Equal(vm.FrameIndex(0)))

			Expect(events.at(vm.HookPosEvict)).To(ConsistOf(vm.EvictEvent{
				Frame:      0,
				ASID:       as.ASID(),
				VPage:      pageAddr(0),
				WasDirty:   true,
				SwapOffset: 0,
			}))
		})

		It("should bring evicted pages back intact", func() {
			Expect(cpu.Write(pageAddr(4)+0x10, pattern(4))).To(Succeed())

			buf := make([]byte, 8)
			Expect(cpu.Read(pageAddr(0)+0x10, buf)).To(Succeed())

			Expect(buf).To(Equal(pattern(0)))
			Expect(descriptorOf(as, pageAddr(0)).Frame).To(Equal(vm.FrameIndex(1)))
			Expect(descriptorOf(as, pageAddr(1)).SwapOffset).
				To(Equal(int64(vm.PageSize)))

			stats := sys.Stats()
			Expect(stats.ZeroFills).To(Equal(uint64(5)))
			Expect(stats.SwapIns).To(Equal(uint64(1)))
			Expect(stats.Evictions).To(Equal(uint64(2)))
			Expect(events.at(vm.HookPosSwapIn)).To(HaveLen(1))
		})

		It("should drop the cached translation of an evicted page", func() {
			Expect(cpu.Write(pageAddr(4), pattern(4))).To(Succeed())

			cpu.TLB().Lock()
			_, found := cpu.TLB().Lookup(as.ASID(), pageAddr(0))
			cpu.TLB().Unlock()
			Expect(found).To(BeFalse())
		})

		It("should reclaim exactly one frame per eviction", func() {
			before := sys.Frames().Usage()

			victim := sys.ChooseVictim()
			Expect(sys.Evict(victim)).To(Succeed())

			after := sys.Frames().Usage()
			Expect(after.Free).To(Equal(before.Free + 1))
			Expect(after.Dirty).To(Equal(before.Dirty - 1))
			Expect(sys.Frames().Frame(victim).State).To(Equal(coremap.StateFree))
		})

		It("should move the victim cursor by the stride", func() {
			Expect(sys.ChooseVictim()).To(Equal(vm.FrameIndex(0)))
			Expect(sys.ChooseVictim()).To(Equal(vm.FrameIndex(1)))
		})

		It("should page in explicitly", func() {
			victim := sys.ChooseVictim()
			Expect(sys.Evict(victim)).To(Succeed())

			frame, err := sys.SwapIn(as, pageAddr(0))

			Expect(err).NotTo(HaveOccurred())
			Expect(sys.Frames().FrameBytes(frame)[0x10:0x18]).To(Equal(pattern(0)))
			Expect(sys.Frames().Frame(frame).State).To(Equal(coremap.StateClean))

			_, err = sys.SwapIn(as, pageAddr(5))
			Expect(errors.Is(err, vm.ErrInvalid)).To(BeTrue())
		})

		It("should forget the swap copy once the page may be written", func() {
			Expect(cpu.Write(pageAddr(4)+0x10, pattern(4))).To(Succeed())

			frame, err := sys.SwapIn(as, pageAddr(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(descriptorOf(as, pageAddr(0)).Swapped()).To(BeTrue())

			buf := make([]byte, 8)
			Expect(cpu.Read(pageAddr(0)+0x10, buf)).To(Succeed())

			d := descriptorOf(as, pageAddr(0))
			Expect(d.Resident()).To(BeTrue())
			Expect(d.Swapped()).To(BeFalse())
			Expect(d.SwapOffset).To(Equal(int64(0)))
			Expect(sys.Frames().Frame(frame).State).To(Equal(coremap.StateDirty))

			Expect(sys.Frames().BeginEvict(frame)).To(BeTrue())
			Expect(sys.Evict(frame)).To(Succeed())

			Expect(events.at(vm.HookPosEvict)).To(ContainElement(vm.EvictEvent{
				Frame:      frame,
				ASID:       as.ASID(),
				VPage:      pageAddr(0),
				WasDirty:   true,
				SwapOffset: 0,
			}))
			Expect(descriptorOf(as, pageAddr(0)).Swapped()).To(BeTrue())
		})

		It("should resolve the same fault twice without change", func() {
			Expect(sys.Fault(0, vm.FaultRead, pageAddr(5))).To(Succeed())
			first := descriptorOf(as, pageAddr(5))
			usage := sys.Frames().Usage()

			Expect(sys.Fault(0, vm.FaultRead, pageAddr(5)+8)).To(Succeed())

			Expect(descriptorOf(as, pageAddr(5))).To(Equal(first))
			Expect(sys.Frames().Usage()).To(Equal(usage))
			Expect(as.NumPages()).To(Equal(6))
		})

		It("should keep copies independent", func() {
			child, err := sys.CopyAddressSpace(as)
			Expect(err).NotTo(HaveOccurred())
			Expect(child.ASID()).NotTo(Equal(as.ASID()))

			childCPU := sys.CPU(0)
			childCPU.Activate(child)
			for i := 0; i < 4; i++ {
				buf := make([]byte, 8)
				Expect(childCPU.Read(pageAddr(i)+0x10, buf)).To(Succeed())
				Expect(buf).To(Equal(pattern(byte(i))))
				Expect(childCPU.Write(pageAddr(i)+0x10, pattern(100))).
					To(Succeed())
			}

			childCPU.Activate(as)
			for i := 0; i < 4; i++ {
				buf := make([]byte, 8)
				Expect(cpu.Read(pageAddr(i)+0x10, buf)).To(Succeed())
				Expect(buf).To(Equal(pattern(byte(i))))
			}

			sys.DestroyAddressSpace(child)
			_, ok := sys.AddressSpace(child.ASID())
			Expect(ok).To(BeFalse())
			Expect(sys.AddressSpaces()).To(HaveLen(1))
		})

		It("should free everything on destroy", func() {
			Expect(cpu.Write(pageAddr(4), pattern(4))).To(Succeed())

			sys.DestroyAddressSpace(as)

			Expect(sys.Frames().Usage()).To(Equal(coremap.Usage{Free: 4}))
			Expect(store.InUse()).To(Equal(0))
			for _, e := range cpu.TLB().Entries() {
				Expect(e.Valid).To(BeFalse())
			}

			Expect(errors.Is(cpu.Write(pageAddr(0), pattern(0)), vm.ErrFault)).
				To(BeTrue())
		})
	})

	Context("loading", func() {
		var (
			sys *System
			as  *addrspace.AddressSpace
			cpu *CPU
		)

		BeforeEach(func() {
			sys = builder.WithNumFrames(8).Build()
			as = sys.CreateAddressSpace()
			cpu = sys.CPU(0)
			cpu.Activate(as)
		})

		It("should allow writes to read-only text only while loading", func() {
			Expect(as.DefineRegion(0x1000, 0x1000, true, false, true)).
				To(Succeed())
			Expect(as.PrepareLoad()).To(Succeed())

			Expect(cpu.Write(0x1010, pattern(7))).To(Succeed())
			Expect(sys.CompleteLoad(as)).To(Succeed())

			err := cpu.Write(0x1010, pattern(9))
			Expect(vm.ErrnoOf(err)).To(Equal(vm.EFAULT))

			buf := make([]byte, 8)
			Expect(cpu.Read(0x1010, buf)).To(Succeed())
			Expect(buf).To(Equal(pattern(7)))

			err = cpu.Write(0x1010, pattern(9))
			Expect(vm.ErrnoOf(err)).To(Equal(vm.EFAULT))

			Expect(vm.ErrnoOf(sys.CompleteLoad(as))).To(Equal(vm.EINVAL))
		})

		It("should hand out zero pages on heap growth", func() {
			Expect(as.DefineRegion(textBase, 0x1000, true, true, false)).
				To(Succeed())

			buf := pattern(1)
			Expect(cpu.Read(0x500000, buf)).To(Succeed())

			Expect(buf).To(Equal(make([]byte, 8)))
			_, end := as.Heap()
			Expect(end).To(Equal(uint64(0x501000)))
		})

		It("should grow the stack down from its top", func() {
			sp := as.DefineStack()

			Expect(cpu.Write(sp-8, pattern(3))).To(Succeed())

			buf := make([]byte, 8)
			Expect(cpu.Read(sp-8, buf)).To(Succeed())
			Expect(buf).To(Equal(pattern(3)))
		})

		It("should reject addresses outside every region", func() {
			Expect(vm.ErrnoOf(cpu.Read(0x1000, make([]byte, 1)))).
				To(Equal(vm.EFAULT))

			faults := events.at(vm.HookPosFault)
			Expect(faults).To(HaveLen(1))
			Expect(faults[0].(vm.FaultEvent).Err).To(HaveOccurred())
			Expect(sys.Stats().FailedFaults).To(Equal(uint64(1)))
		})

		It("should reject malformed faults", func() {
			Expect(vm.ErrnoOf(sys.Fault(0, vm.FaultType(7), textBase))).
				To(Equal(vm.EINVAL))

			cpu.Deactivate()
			Expect(vm.ErrnoOf(sys.Fault(0, vm.FaultRead, textBase))).
				To(Equal(vm.EFAULT))
		})

		It("should shoot down pages above a lowered break", func() {
			Expect(as.DefineRegion(textBase, 0x1000, true, true, false)).
				To(Succeed())
			old, err := sys.Sbrk(as, 2*vm.PageSize)
			Expect(err).NotTo(HaveOccurred())
			Expect(cpu.Write(old+vm.PageSize, pattern(1))).To(Succeed())

			_, err = sys.Sbrk(as, -vm.PageSize)
			Expect(err).NotTo(HaveOccurred())

			cpu.TLB().Lock()
			_, found := cpu.TLB().Lookup(as.ASID(), old+vm.PageSize)
			cpu.TLB().Unlock()
			Expect(found).To(BeFalse())
			Expect(events.at(vm.HookPosShootdown)).To(ContainElement(
				vm.ShootdownEvent{
					ASID:        as.ASID(),
					VPage:       old + vm.PageSize,
					Invalidated: 1,
				}))

			buf := pattern(5)
			Expect(cpu.Read(old+vm.PageSize, buf)).To(Succeed())
			Expect(buf).To(Equal(make([]byte, 8)))
		})

		It("should read and write kernel pages directly", func() {
			kvaddr := sys.AllocPages(2)
			Expect(kvaddr).To(BeNumerically(">=", vm.KSeg0))

			Expect(cpu.Write(kvaddr+vm.PageSize-4, pattern(1))).To(Succeed())

			buf := make([]byte, 8)
			Expect(cpu.Read(kvaddr+vm.PageSize-4, buf)).To(Succeed())
			Expect(buf).To(Equal(pattern(1)))

			sys.FreePages(kvaddr)
			Expect(sys.Frames().Usage().Free).To(Equal(8))
		})
	})

	Context("out of memory", func() {
		var sys *System

		BeforeEach(func() {
			sys = builder.WithNumFrames(3).Build()
		})

		It("should report ENOMEM to the faulting context", func() {
			for i := 0; i < 3; i++ {
				sys.AllocPages(1)
			}

			as := sys.CreateAddressSpace()
			Expect(as.DefineRegion(textBase, 0x1000, true, true, false)).
				To(Succeed())
			sys.CPU(0).Activate(as)

			err := sys.CPU(0).Read(0x500000, make([]byte, 4))

			Expect(vm.ErrnoOf(err)).To(Equal(vm.ENOMEM))
		})

		It("should panic when no victim exists", func() {
			sys.AllocPages(3)

			Expect(func() { sys.ChooseVictim() }).To(Panic())
			Expect(func() { sys.AllocPages(1) }).To(Panic())
		})

		It("should evict user pages for a kernel run", func() {
			as := sys.CreateAddressSpace()
			Expect(as.DefineRegion(textBase, 3*vm.PageSize, true, true, false)).
				To(Succeed())
			cpu := sys.CPU(0)
			cpu.Activate(as)
			for i := 0; i < 3; i++ {
				Expect(cpu.Write(pageAddr(i), pattern(byte(i)))).To(Succeed())
			}

			kvaddr := sys.AllocPages(2)

			Expect(kvaddr).To(Equal(vm.KSeg0))
			Expect(sys.Frames().Frame(0).RunLength).To(Equal(2))

			buf := make([]byte, 8)
			Expect(cpu.Read(pageAddr(0), buf)).To(Succeed())
			Expect(buf).To(Equal(pattern(0)))
		})
	})

	Context("TLB replacement", func() {
		var (
			sys *System
			as  *addrspace.AddressSpace
			cpu *CPU
		)

		BeforeEach(func() {
			sys = builder.WithNumFrames(16).WithNumTLBEntries(3).Build()
			as = sys.CreateAddressSpace()
			Expect(as.DefineRegion(textBase, 8*vm.PageSize, true, true, false)).
				To(Succeed())
			cpu = sys.CPU(0)
			cpu.Activate(as)
		})

		clock := func() int {
			as.Lock()
			defer as.Unlock()

			return as.TLBClock()
		}

		It("should not move the clock while invalid slots remain", func() {
			for i := 0; i < 3; i++ {
				Expect(cpu.Write(pageAddr(i), pattern(byte(i)))).To(Succeed())
			}

			Expect(clock()).To(Equal(0))
		})

		It("should replace round robin over the TLB size", func() {
			for i := 0; i < 5; i++ {
				Expect(cpu.Write(pageAddr(i), pattern(byte(i)))).To(Succeed())
			}

			entries := sys.TLBs().TLB(0).Entries()
			Expect(entries).To(HaveLen(3))
			Expect(entries[0].VPage).To(Equal(pageAddr(3)))
			Expect(entries[1].VPage).To(Equal(pageAddr(4)))
			Expect(entries[2].VPage).To(Equal(pageAddr(2)))
			Expect(clock()).To(Equal(2))
		})
	})
})
