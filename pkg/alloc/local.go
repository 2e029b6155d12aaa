package alloc

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/agent"
	"github.com/jihwankim/actormesh/pkg/channel"
	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// LocalAllocator forks procs in the local process, one mesh agent per rank,
// using a pluggable channel transport. It is the ground-truth allocator.
type LocalAllocator struct {
	// Transport defaults to the local in-process transport.
	Transport channel.Transport
}

// Allocate boots a local allocation toward the spec's extent.
func (a *LocalAllocator) Allocate(ctx context.Context, spec AllocSpec) (Alloc, error) {
	transport := a.Transport
	if transport == "" {
		transport = channel.TransportLocal
	}
	return newLocalAlloc(spec, transport), nil
}

type localProc struct {
	key   CreateKey
	agent *agent.Agent
}

type chaosCmd struct {
	rank   int
	reason StopReason
}

// LocalAlloc is a live local allocation.
type LocalAlloc struct {
	spec      AllocSpec
	name      string
	world     actor.WorldID
	transport channel.Transport

	statec  chan ProcState
	chaosc  chan chaosCmd
	stopc   chan struct{}
	stopped sync.Once
}

func newLocalAlloc(spec AllocSpec, transport channel.Transport) *LocalAlloc {
	name := spec.ProcName
	if name == "" {
		name = fmt.Sprintf("world-%s", uuid.NewString()[:8])
	}
	if len(spec.Constraints.MatchLabels) > 0 {
		log.Debug().Interface("labels", spec.Constraints.MatchLabels).
			Msg("local alloc: ignoring placement constraints")
	}
	l := &LocalAlloc{
		spec:      spec,
		name:      name,
		world:     actor.WorldID(name),
		transport: transport,
		statec:    make(chan ProcState, 64),
		chaosc:    make(chan chaosCmd, 16),
		stopc:     make(chan struct{}),
	}
	go l.run()
	return l
}

// run owns the proc table: it boots one proc per rank, then serves chaos
// and stop commands until teardown.
func (l *LocalAlloc) run() {
	n := l.spec.Extent.NumRanks()
	procs := make([]*localProc, n)

	for rank := 0; rank < n; rank++ {
		key := CreateKey(uuid.NewString())
		point, err := l.spec.Extent.PointOfRank(rank)
		if err != nil {
			l.statec <- Failed{CreateKey: key, Err: err}
			continue
		}
		l.statec <- Created{CreateKey: key, Point: point}

		procID := actor.ProcID{World: l.world, Rank: rank}
		ag, addr, err := agent.Boot(procID, l.transport)
		if err != nil {
			l.statec <- Failed{CreateKey: key, Err: err}
			continue
		}
		procs[rank] = &localProc{key: key, agent: ag}
		l.statec <- Running{
			CreateKey: key,
			ProcID:    procID,
			Addr:      addr,
			MeshAgent: ag.Ref(),
		}
	}

	kill := func(rank int, reason StopReason) {
		p := procs[rank]
		if p == nil {
			log.Warn().Int("rank", rank).Msg("chaos monkey: no such proc")
			return
		}
		procs[rank] = nil
		p.agent.Stop()
		l.statec <- StoppedState{CreateKey: p.key, Reason: reason}
	}

	for {
		select {
		case cmd := <-l.chaosc:
			kill(cmd.rank, cmd.reason)
		case <-l.stopc:
			// Serve chaos commands issued before the stop request so their
			// stop reasons are preserved.
			for {
				select {
				case cmd := <-l.chaosc:
					kill(cmd.rank, cmd.reason)
					continue
				default:
				}
				break
			}
			for rank, p := range procs {
				if p == nil {
					continue
				}
				procs[rank] = nil
				p.agent.Stop()
				l.statec <- StoppedState{CreateKey: p.key, Reason: Stopped()}
			}
			close(l.statec)
			return
		}
	}
}

// Name returns the allocation's generated world name.
func (l *LocalAlloc) Name() string { return l.name }

// Size returns the number of ranks in the allocation.
func (l *LocalAlloc) Size() int { return l.spec.Extent.NumRanks() }

// ChaosMonkey returns a hook that stops the proc at the given rank with the
// given reason, for failure testing.
func (l *LocalAlloc) ChaosMonkey() func(rank int, reason StopReason) {
	return func(rank int, reason StopReason) {
		l.chaosc <- chaosCmd{rank: rank, reason: reason}
	}
}

// Stopper returns a hook that shuts the whole allocation down.
func (l *LocalAlloc) Stopper() func() {
	return func() {
		l.stopped.Do(func() { close(l.stopc) })
	}
}

// Next returns the next lifecycle state, or ok=false once the allocation is
// fully stopped.
func (l *LocalAlloc) Next(ctx context.Context) (ProcState, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case st, ok := <-l.statec:
		if !ok {
			return nil, false
		}
		return st, true
	}
}

// Initialize drives the state stream until every rank is running, returning
// the ordered slot list.
func (l *LocalAlloc) Initialize(ctx context.Context) ([]AllocatedProc, error) {
	return initialize(ctx, l, l.name)
}

// Spec returns the allocation's spec.
func (l *LocalAlloc) Spec() *AllocSpec { return &l.spec }

// Extent returns the allocation's extent.
func (l *LocalAlloc) Extent() ndshape.Extent { return l.spec.Extent }

// WorldID returns the allocation's world id.
func (l *LocalAlloc) WorldID() actor.WorldID { return l.world }

// Transport returns the channel transport procs are served on.
func (l *LocalAlloc) Transport() channel.Transport { return l.transport }

// Stop requests orderly teardown. After the final Stopped state, Next
// returns ok=false.
func (l *LocalAlloc) Stop(ctx context.Context) error {
	l.stopped.Do(func() { close(l.stopc) })
	return nil
}
