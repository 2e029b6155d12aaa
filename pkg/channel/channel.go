// Package channel is the in-process stand-in for the mesh's channel
// transport. The mesh consumes the transport only through its addressing
// contract: Serve yields a fresh address registered in a process-global
// registry, Dial resolves an address to a send function. Bindings are
// idempotent and lookups are lock-free.
package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Transport selects how served channels deliver messages.
type Transport string

const (
	// TransportLocal delivers messages directly in-process.
	TransportLocal Transport = "local"
	// TransportSim delivers in-process with simulated network latency.
	TransportSim Transport = "sim"
)

// Addr is the textual address of a served channel, e.g. "local!17".
type Addr string

// Transport returns the transport component of the address.
func (a Addr) Transport() Transport {
	for i := 0; i < len(a); i++ {
		if a[i] == '!' {
			return Transport(a[:i])
		}
	}
	return TransportLocal
}

const inboxDepth = 1024

var (
	nextID   atomic.Uint64
	registry sync.Map // Addr -> chan any
)

// Serve allocates a fresh address on the given transport and returns its
// receive side. The address is immediately dialable process-wide.
func Serve(t Transport) (Addr, <-chan any, error) {
	addr := Addr(fmt.Sprintf("%s!%d", t, nextID.Add(1)))
	ch := make(chan any, inboxDepth)
	registry.Store(addr, ch)
	return addr, ch, nil
}

// Close unregisters a served address. Messages in flight to the address are
// dropped by subsequent Sends.
func Close(addr Addr) {
	registry.Delete(addr)
}

// Sender delivers messages to one served address.
type Sender struct {
	addr Addr
	ch   chan any
}

// Dial resolves an address to a sender. It fails if the address is not
// currently served.
func Dial(addr Addr) (*Sender, error) {
	v, ok := registry.Load(addr)
	if !ok {
		return nil, fmt.Errorf("channel: address %s not served", addr)
	}
	return &Sender{addr: addr, ch: v.(chan any)}, nil
}

// Send delivers one message. On the sim transport the delivery is delayed
// by the simulated network's sampled latency.
func (s *Sender) Send(msg any) error {
	if _, ok := registry.Load(s.addr); !ok {
		return fmt.Errorf("channel: address %s no longer served", s.addr)
	}
	if s.addr.Transport() == TransportSim {
		deliverSim(s.ch, msg)
		return nil
	}
	s.ch <- msg
	return nil
}

// Addr returns the address this sender delivers to.
func (s *Sender) Addr() Addr { return s.addr }
