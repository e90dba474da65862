package wavestate

// trapInstructionSize is the byte size of the trap instruction. A trapped
// wave's PC still points at the faulting instruction; resumption must land
// past it.
const trapInstructionSize = 8

// FaultSite is one deduplicated fault location: the advanced PC shared by
// Count waves, with the first wave seen kept as representative.
type FaultSite struct {
	PC    uint64
	Count uint64
	Wave  *Wave
}

// AggregateFaultyWaves scans every queue of the store for waves whose
// trap-status reports an XNACK error. Each faulty wave has its PC advanced
// past the trap instruction and its queue marked failed; the result groups
// waves by advanced PC.
//
// Waves without a register snapshot are skipped: this is a best-effort
// gathering pass and one uncapturable wave must not abort the diagnostic.
func AggregateFaultyWaves(store Store) map[uint64]*FaultSite {
	sites := make(map[uint64]*FaultSite)
	store.VisitQueues(func(q Queue) {
		q.VisitWaves(func(w *Wave) {
			if w == nil || w.Regs == nil {
				return
			}
			if !w.Regs.TrapSts.XNACKError() {
				return
			}
			w.Regs.PC += trapInstructionSize
			q.MarkFailed()

			if site, ok := sites[w.Regs.PC]; ok {
				site.Count++
				return
			}
			sites[w.Regs.PC] = &FaultSite{PC: w.Regs.PC, Count: 1, Wave: w}
		})
	})
	return sites
}
