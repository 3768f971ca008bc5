package mmu

import (
	"math/rand"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/smartvm/mem/vm"
	"github.com/sarchlab/smartvm/mem/vm/addrspace"
	"github.com/sarchlab/smartvm/mem/vm/coremap"
	"github.com/sarchlab/smartvm/mem/vm/swap"
)

// checkFrameOwnership verifies that every resident page has its own frame and
// that the frame table points back at the page.
func checkFrameOwnership(sys *System) {
	owners := make(map[vm.FrameIndex]uint64)

	for _, as := range sys.AddressSpaces() {
		as.Walk(func(vaddr uint64, d vm.Descriptor) bool {
			if !d.Resident() {
				return true
			}

			_, taken := owners[d.Frame]
			Expect(taken).To(BeFalse(), "frame %d mapped twice", d.Frame)
			owners[d.Frame] = vaddr

			f := sys.Frames().Frame(d.Frame)
			Expect(f.Owner).To(BeIdenticalTo(as))
			Expect(f.VPage).To(Equal(vaddr))

			return true
		})
	}

	for i, f := range sys.Frames().Frames() {
		if f.State == coremap.StateClean || f.State == coremap.StateDirty {
			Expect(owners).To(HaveKey(vm.FrameIndex(i)))
		}
	}
}

var _ = Describe("Concurrent processes", func() {
	const (
		numCPUs  = 4
		numPages = 8
		numOps   = 300
	)

	var (
		store *swap.Store
		sys   *System
	)

	BeforeEach(func() {
		store = swap.MakeBuilder().WithDir(GinkgoT().TempDir()).Build()
		sys = MakeBuilder().
			WithNumFrames(8).
			WithReservedFrames(1).
			WithNumCPUs(numCPUs).
			WithSwapStore(store).
			Build()
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should keep every process's memory intact under pressure", func() {
		var wg sync.WaitGroup

		spaces := make([]*addrspace.AddressSpace, numCPUs)
		for i := range spaces {
			spaces[i] = sys.CreateAddressSpace()
			Expect(spaces[i].DefineRegion(
				textBase, numPages*vm.PageSize, true, true, false,
			)).To(Succeed())
		}

		for i := 0; i < numCPUs; i++ {
			wg.Add(1)

			go func(id int) {
				defer GinkgoRecover()
				defer wg.Done()

				cpu := sys.CPU(id)
				cpu.Activate(spaces[id])

				rng := rand.New(rand.NewSource(int64(id)))
				shadow := make([]byte, numPages)
				buf := make([]byte, 1)

				for op := 0; op < numOps; op++ {
					page := rng.Intn(numPages)
					addr := pageAddr(page) + uint64(id)

					if rng.Intn(2) == 0 {
						shadow[page] = byte(rng.Intn(255) + 1)
						Expect(cpu.Write(addr, []byte{shadow[page]})).To(Succeed())

						continue
					}

					Expect(cpu.Read(addr, buf)).To(Succeed())
					Expect(buf[0]).To(Equal(shadow[page]),
						"cpu %d page %d op %d", id, page, op)
				}
			}(i)
		}

		wg.Wait()

		checkFrameOwnership(sys)
		Expect(sys.Stats().Evictions).To(BeNumerically(">", 0))
		Expect(sys.Stats().FailedFaults).To(BeZero())
	})

	It("should fork while other processes evict its pages", func() {
		parent := sys.CreateAddressSpace()
		Expect(parent.DefineRegion(textBase, numPages*vm.PageSize,
			true, true, false)).To(Succeed())

		cpu := sys.CPU(0)
		cpu.Activate(parent)
		for i := 0; i < numPages; i++ {
			Expect(cpu.Write(pageAddr(i), pattern(byte(i)))).To(Succeed())
		}

		noise := sys.CreateAddressSpace()
		Expect(noise.DefineRegion(textBase, numPages*vm.PageSize,
			true, true, false)).To(Succeed())

		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			defer close(done)

			noisy := sys.CPU(1)
			noisy.Activate(noise)
			for i := 0; i < 100; i++ {
				Expect(noisy.Write(pageAddr(i%numPages), pattern(9))).
					To(Succeed())
			}
		}()

		child, err := sys.CopyAddressSpace(parent)
		Expect(err).NotTo(HaveOccurred())
		<-done

		childCPU := sys.CPU(2)
		childCPU.Activate(child)
		for i := 0; i < numPages; i++ {
			buf := make([]byte, 8)
			Expect(childCPU.Read(pageAddr(i), buf)).To(Succeed())
			Expect(buf).To(Equal(pattern(byte(i))))
		}

		checkFrameOwnership(sys)
	})
})
