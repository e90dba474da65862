// Package agent drives the post-mortem diagnostic pass for device memory
// faults: it validates the incoming event, aggregates the trapped waves and
// renders one symbolized disassembly listing per deduplicated fault site.
//
// The fault-dispatch wrapper serializes calls under a process-wide lock;
// nothing in this package locks or is safe for concurrent use.
package agent

import (
	"fmt"
	"io"
	"slices"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/nakajee/rocr-debug-agent/pkg/codeobject"
	"github.com/nakajee/rocr-debug-agent/pkg/sourcecache"
	"github.com/nakajee/rocr-debug-agent/pkg/wavestate"
)

// Device bundles everything the session needs to know about one GPU agent.
// All of it is owned by the runtime wrapper; the session only reads it,
// apart from the PC/queue-status mutations done by the aggregation pass.
type Device struct {
	NodeID       uint32
	Name         string
	ISASupported bool

	Waves       wavestate.Store
	Arch        codeobject.Architecture
	Memory      codeobject.MemoryReader
	CodeObjects []*codeobject.CodeObject
}

// Session threads the per-event diagnostic state through aggregation and
// reporting.
type Session struct {
	logger  log.Logger
	out     io.Writer
	sources *sourcecache.Cache
	metrics *metrics
}

func New(logger log.Logger, out io.Writer, reg prometheus.Registerer) *Session {
	return &Session{
		logger:  logger,
		out:     out,
		sources: sourcecache.New(logger, sourcecache.DefaultMaxFiles),
		metrics: newMetrics(reg),
	}
}

// HandleEvent runs one diagnostic pass for a memory fault on dev. The
// returned error covers protocol failures only; resolution and rendering
// problems degrade the report instead of failing the pass.
func (s *Session) HandleEvent(ev Event, dev *Device) error {
	if ev.Type != EventMemoryFault {
		s.metrics.protocolErrors.Inc()
		return fmt.Errorf("unexpected event type %d", ev.Type)
	}
	s.metrics.faultEvents.Inc()

	s.printFaultInfo(ev.MemoryFault)

	if !dev.ISASupported {
		s.metrics.protocolErrors.Inc()
		level.Error(s.logger).Log("msg", "unsupported agent ISA, can not print waves", "agent", dev.Name, "node", dev.NodeID)
		return fmt.Errorf("unsupported ISA on agent %q", dev.Name)
	}

	sites := wavestate.AggregateFaultyWaves(dev.Waves)
	s.printWaves(dev, sites)
	return nil
}

func (s *Session) printFaultInfo(fault MemoryFault) {
	fmt.Fprintf(s.out, "\nMemory access fault at GPU Node: %d\n", fault.NodeID)
	fmt.Fprintf(s.out, "Address: 0x%Xxxx (%s)\n\n", fault.PageIndex(), fault.ReasonString())
}

// printWaves renders one listing per fault site, in ascending PC order so
// repeated faults produce identical reports.
func (s *Session) printWaves(dev *Device, sites map[uint64]*wavestate.FaultSite) {
	pcs := lo.Keys(sites)
	slices.Sort(pcs)

	for _, pc := range pcs {
		site := sites[pc]
		s.metrics.faultyWaves.Add(float64(site.Count))

		fmt.Fprintf(s.out, "%d wave(s) found in XNACK error state @PC: 0x%X\n", site.Count, site.PC)
		fmt.Fprintf(s.out, "    queue: %d wave: %d\n", site.Wave.QueueID, site.Wave.WaveID)

		co := s.codeObjectFor(dev, site.PC)
		if co == nil {
			s.metrics.unresolvedSites.Inc()
			level.Warn(s.logger).Log("msg", "no code object covers fault site", "pc", fmt.Sprintf("0x%x", site.PC))
			continue
		}

		d := &codeobject.Disassembler{
			Logger:  s.logger,
			Arch:    dev.Arch,
			Memory:  dev.Memory,
			Sources: s.sources,
			Out:     s.out,
		}
		d.Disassemble(co, site.PC)
	}
}

// codeObjectFor finds the loaded code object covering pc, opening objects
// lazily on first need. An object that fails to open is skipped, not fatal.
func (s *Session) codeObjectFor(dev *Device, pc uint64) *codeobject.CodeObject {
	for _, co := range dev.CodeObjects {
		if !co.IsOpen() && pc >= co.LoadAddress() {
			if err := co.Open(); err != nil {
				continue
			}
		}
		if co.Contains(pc) {
			return co
		}
	}
	return nil
}
