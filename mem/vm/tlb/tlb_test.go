package tlb

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/smartvm/mem/vm"
	"go.uber.org/mock/gomock"
)

func fixedSlot(slot int) Clock {
	return func(int) int {
		return slot
	}
}

func unusedClock(int) int {
	Fail("the clock must not be consulted while an invalid slot remains")
	return 0
}

var _ = Describe("TLB", func() {
	var (
		mockCtrl *gomock.Controller
		set      *MockSet
		tlb      *TLB
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		set = NewMockSet(mockCtrl)
		tlb = &TLB{set: set}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should install into the first invalid slot", func() {
		set.EXPECT().Lookup(vm.ASID(1), uint64(0x400000)).
			Return(-1, Translation{}, false)
		set.EXPECT().FirstInvalid().Return(3, true)
		set.EXPECT().Update(3, Translation{
			ASID: 1, VPage: 0x400000, Frame: 5, Dirty: true, Valid: true,
		})

		slot := tlb.Install(Translation{
			ASID: 1, VPage: 0x400123, Frame: 5, Dirty: true,
		}, unusedClock)

		Expect(slot).To(Equal(3))
	})

	It("should ask the clock for a slot when full", func() {
		set.EXPECT().Lookup(vm.ASID(1), uint64(0x400000)).
			Return(-1, Translation{}, false)
		set.EXPECT().FirstInvalid().Return(-1, false)
		set.EXPECT().NumSlots().Return(64)
		set.EXPECT().Update(9, gomock.Any())

		var asked int
		slot := tlb.Install(
			Translation{ASID: 1, VPage: 0x400000, Frame: 5},
			func(n int) int {
				asked = n
				return 73
			})

		Expect(asked).To(Equal(64))

		Expect(slot).To(Equal(9))
	})

	It("should replace the existing translation of the page", func() {
		set.EXPECT().Lookup(vm.ASID(1), uint64(0x400000)).
			Return(7, Translation{ASID: 1, VPage: 0x400000, Valid: true}, true)
		set.EXPECT().Update(7, gomock.Any())

		slot := tlb.Install(
			Translation{ASID: 1, VPage: 0x400000, Frame: 2}, unusedClock)

		Expect(slot).To(Equal(7))
	})

	It("should invalidate a matching entry on shootdown", func() {
		set.EXPECT().Lookup(vm.ASID(2), uint64(0x1000)).
			Return(4, Translation{}, true)
		set.EXPECT().Invalidate(4)

		n := tlb.Shootdown(Shootdown{ASID: 2, VPage: 0x1000})

		Expect(n).To(Equal(1))
	})

	It("should do nothing on a shootdown miss", func() {
		set.EXPECT().Lookup(vm.ASID(2), uint64(0x1000)).
			Return(-1, Translation{}, false)

		Expect(tlb.Shootdown(Shootdown{ASID: 2, VPage: 0x1000})).To(Equal(0))
	})
})

var _ = Describe("Domain", func() {
	var domain *Domain

	BeforeEach(func() {
		domain = MakeBuilder().WithNumCPUs(4).WithNumEntries(4).Build()
	})

	install := func(cpu int, asid vm.ASID, vpage uint64) {
		t := domain.TLB(cpu)
		t.Lock()
		t.Install(Translation{ASID: asid, VPage: vpage, Frame: 1}, fixedSlot(0))
		t.Unlock()
	}

	It("should fill invalid slots before replacing", func() {
		t := domain.TLB(0)
		t.Lock()
		defer t.Unlock()

		for i := 0; i < 4; i++ {
			Expect(t.Install(
				Translation{ASID: 1, VPage: uint64(i) << 12}, unusedClock),
			).To(Equal(i))
		}

		Expect(t.Install(Translation{ASID: 1, VPage: 0x9000}, fixedSlot(2))).
			To(Equal(2))
		_, found := t.Lookup(1, 0x2000)
		Expect(found).To(BeFalse())
		e, found := t.Lookup(1, 0x9abc)
		Expect(found).To(BeTrue())
		Expect(e.Valid).To(BeTrue())
	})

	It("should match address space and page", func() {
		install(0, 1, 0x1000)
		install(1, 1, 0x1000)
		install(2, 2, 0x1000)
		install(3, 1, 0x2000)

		n := domain.Broadcast(Shootdown{ASID: 1, VPage: 0x1000})

		Expect(n).To(Equal(2))
		Expect(domain.TLB(2).Entries()[0].Valid).To(BeTrue())
		Expect(domain.TLB(3).Entries()[0].Valid).To(BeTrue())
	})

	It("should flush an address space", func() {
		install(0, 1, 0x1000)
		install(0, 1, 0x2000)
		install(0, 2, 0x1000)

		Expect(domain.BroadcastASID(1)).To(Equal(2))
		Expect(domain.TLB(0).ShootdownAll()).To(Equal(1))
	})

	It("should wait for a CPU in the middle of an access", func() {
		install(1, 1, 0x1000)

		busy := domain.TLB(1)
		busy.Lock()

		done := make(chan int)
		go func() {
			done <- domain.Broadcast(Shootdown{ASID: 1, VPage: 0x1000})
		}()

		Consistently(done, 20*time.Millisecond).ShouldNot(Receive())

		busy.Unlock()

		Eventually(done).Should(Receive(Equal(1)))
	})
})
