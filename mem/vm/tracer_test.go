package vm

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tracer", func() {
	It("should write one line per event", func() {
		buf := &bytes.Buffer{}
		tracer := NewTracer(buf)

		tracer.Func(HookCtx{Item: FaultEvent{
			ASID: 1, VAddr: 0x1000, Frame: 2, Type: FaultRead,
		}})
		tracer.Func(HookCtx{Item: EvictEvent{
			ASID: 1, VPage: 0x1000, Frame: 2, SwapOffset: 0,
		}})
		tracer.Func(HookCtx{Item: "ignored"})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		Expect(lines).To(HaveLen(2))
		Expect(lines[0]).To(HaveSuffix(",fault,1,0x1000,2,read"))
		Expect(lines[1]).To(HaveSuffix(",evict,1,0x1000,2,0"))
	})
})
