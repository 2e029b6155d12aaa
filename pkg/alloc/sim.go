package alloc

import (
	"context"
	"fmt"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/channel"
	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// SimAllocator wraps the local allocator with the simulated network
// transport: procs run in-process, but traffic is delayed by sampled
// latencies, and every proc's coordinate is registered with the simnet so
// pairwise latencies can be sampled by tests.
type SimAllocator struct{}

// Allocate boots a simulated allocation. The simnet must be running (see
// channel.StartSimNet).
func (SimAllocator) Allocate(ctx context.Context, spec AllocSpec) (Alloc, error) {
	if channel.SimNetHandle() == nil {
		return nil, fmt.Errorf("sim alloc: simnet not running")
	}
	inner := newLocalAlloc(spec, channel.TransportSim)

	// Register the allocation's manager client at the origin of the extent
	// so client traffic participates in the latency model.
	managerID := actor.ProcID{World: actor.WorldID(inner.Name() + "_manager"), Rank: 0}
	ext := inner.Extent()
	origin, err := ext.Point(make([]int, ext.Dims()))
	if err != nil {
		return nil, fmt.Errorf("sim alloc: %w", err)
	}
	channel.SimNetHandle().RegisterProc(managerID.String(), origin)

	return &SimAlloc{
		inner:   inner,
		created: make(map[CreateKey]ndshape.Point),
	}, nil
}

// SimAlloc is a simulated allocation: an inner local alloc plus the
// bookkeeping needed to register each running proc's coordinate.
type SimAlloc struct {
	inner   *LocalAlloc
	created map[CreateKey]ndshape.Point
}

// Next passes through the inner stream, recording Created points and
// registering procs with the simnet as they come up.
func (s *SimAlloc) Next(ctx context.Context) (ProcState, bool) {
	st, ok := s.inner.Next(ctx)
	if !ok {
		return nil, false
	}
	switch v := st.(type) {
	case Created:
		s.created[v.CreateKey] = v.Point
	case Running:
		if point, ok := s.created[v.CreateKey]; ok {
			channel.SimNetHandle().RegisterProc(v.ProcID.String(), point)
			delete(s.created, v.CreateKey)
		}
	}
	return st, true
}

// Initialize drives the stream to completion through the wrapper's Next, so
// simnet registration happens for every rank.
func (s *SimAlloc) Initialize(ctx context.Context) ([]AllocatedProc, error) {
	return initialize(ctx, s, s.inner.Name())
}

// Name returns the inner allocation's world name.
func (s *SimAlloc) Name() string { return s.inner.Name() }

// ChaosMonkey delegates to the inner local alloc.
func (s *SimAlloc) ChaosMonkey() func(rank int, reason StopReason) {
	return s.inner.ChaosMonkey()
}

// Stopper delegates to the inner local alloc.
func (s *SimAlloc) Stopper() func() { return s.inner.Stopper() }

// Spec returns the allocation's spec.
func (s *SimAlloc) Spec() *AllocSpec { return s.inner.Spec() }

// Extent returns the allocation's extent.
func (s *SimAlloc) Extent() ndshape.Extent { return s.inner.Extent() }

// WorldID returns the allocation's world id.
func (s *SimAlloc) WorldID() actor.WorldID { return s.inner.WorldID() }

// Transport returns the simulated transport.
func (s *SimAlloc) Transport() channel.Transport { return s.inner.Transport() }

// Stop delegates to the inner local alloc.
func (s *SimAlloc) Stop(ctx context.Context) error { return s.inner.Stop(ctx) }
