package eval

import (
	"sync"

	"github.com/opal-lang/shellcore/core/ir"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/pipeline"
)

// registerBufPool recycles the backing slice of a RegisterFile across block
// invocations — the "register buf cache" the specification's lifecycle
// section describes: registers are acquired from a per-thread pool at block
// entry and released at block exit.
var registerBufPool = sync.Pool{
	New: func() interface{} { return make([]pipeline.PipelineData, 0, 16) },
}

// RegisterFile is one IR block invocation's register bank: each slot holds
// a PipelineData rather than a bare Value, since a register must be able to
// carry an in-flight ListStream or ExternalStream (e.g. the stream register
// Iterate pulls from) without collapsing it to a materialized value first.
type RegisterFile struct {
	regs []pipeline.PipelineData
}

// AcquireRegisters borrows a buffer from the pool, growing it if needed, and
// zeroes every slot to Empty.
func AcquireRegisters(count uint32) *RegisterFile {
	buf := registerBufPool.Get().([]pipeline.PipelineData)
	if cap(buf) < int(count) {
		buf = make([]pipeline.PipelineData, count)
	} else {
		buf = buf[:count]
	}
	for i := range buf {
		buf[i] = pipeline.Empty()
	}
	return &RegisterFile{regs: buf}
}

// Release zeroes every slot (dropping any held references) and returns the
// buffer to the pool.
func (rf *RegisterFile) Release() {
	for i := range rf.regs {
		rf.regs[i] = pipeline.PipelineData{}
	}
	registerBufPool.Put(rf.regs[:0])
}

// Get reads a register.
func (rf *RegisterFile) Get(r ir.Reg) pipeline.PipelineData { return rf.regs[r] }

// Set writes a register.
func (rf *RegisterFile) Set(r ir.Reg, p pipeline.PipelineData) { rf.regs[r] = p }

// GetValue reads a register and collects it to a materialized Value.
func (rf *RegisterFile) GetValue(r ir.Reg, span value.Span) (value.Value, error) {
	return rf.regs[r].IntoValue(span)
}
