// Package wavestate exposes read-only views over the runtime's per-device
// execution state and the fault-wave aggregation pass that runs over them.
//
// The runtime owns the queue and wave containers; this package only requires
// that they can be iterated. The sole mutations performed here are advancing
// a trapped program counter and flagging a queue as failed.
package wavestate

// TrapStatus is the raw trap-status register value captured for a wave.
type TrapStatus uint32

// xnackErrorBit is the XNACK_ERROR field of SQ_WAVE_TRAPSTS.
const xnackErrorBit = 1 << 28

// XNACKError reports whether the wave trapped on an address-translation
// failure.
func (t TrapStatus) XNACKError() bool {
	return t&xnackErrorBit != 0
}

// Registers is the register snapshot of a single wave. Not every wave kind
// supports full register capture, so a wave may carry no snapshot at all.
type Registers struct {
	PC      uint64
	TrapSts TrapStatus
}

// Wave is one execution-unit snapshot. Regs is nil when register capture is
// unsupported for this wave; such waves are skipped by the aggregator.
type Wave struct {
	QueueID uint64
	WaveID  uint64
	Regs    *Registers
}

// Queue is one device queue as presented by the runtime.
type Queue interface {
	ID() uint64
	// VisitWaves calls visit for every wave snapshot in the queue, in the
	// runtime's own order.
	VisitWaves(visit func(*Wave))
	// MarkFailed flags the queue's status as failed. Called when any of its
	// waves trapped on a fault.
	MarkFailed()
}

// Store is the per-device wave state store.
type Store interface {
	// VisitQueues calls visit for every active queue of the device.
	VisitQueues(visit func(Queue))
}
