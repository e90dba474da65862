package agent

import "strings"

// EventType identifies a runtime event delivered to the session.
type EventType int

const (
	EventNone EventType = iota
	EventMemoryFault
)

// Fault reason mask bits, as reported by the device.
const (
	FaultReasonNotPresent    = 0x00000001 // page not present or supervisor privilege
	FaultReasonReadOnly      = 0x00000010 // write access to a read-only page
	FaultReasonNX            = 0x00000100 // execute access to a non-executable page
	FaultReasonHostOnly      = 0x00001000 // access to host-access-only memory
	FaultReasonECC           = 0x00010000 // uncorrectable ECC failure
	FaultReasonIndeterminate = 0x00100000 // exact fault address cannot be determined
)

// MemoryFault describes one device memory-access fault.
type MemoryFault struct {
	NodeID          uint32
	VirtualAddress  uint64
	FaultReasonMask uint32
}

// PageIndex is the 4 KiB page index of the faulting address.
func (f MemoryFault) PageIndex() uint64 {
	return f.VirtualAddress >> 12
}

// ReasonString concatenates the description of every set reason bit.
func (f MemoryFault) ReasonString() string {
	var sb strings.Builder
	for _, reason := range []struct {
		bit  uint32
		text string
	}{
		{FaultReasonNotPresent, "page not present;"},
		{FaultReasonReadOnly, "write access to a read-only page;"},
		{FaultReasonNX, "execute access to a non-executable page;"},
		{FaultReasonHostOnly, "access to host access only;"},
		{FaultReasonECC, "uncorrectable ECC failure;"},
		{FaultReasonIndeterminate, "can't determine the exact fault address;"},
	} {
		if f.FaultReasonMask&reason.bit != 0 {
			sb.WriteString(reason.text)
		}
	}
	return sb.String()
}

// Event is one runtime notification. Only memory faults reach this core;
// anything else is a protocol error.
type Event struct {
	Type        EventType
	MemoryFault MemoryFault
}
