package channel

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// SimNet is a synthetic network used by the sim transport: procs register
// their coordinates, and pairwise latencies are sampled from the configured
// distribution. The statistical model is intentionally small; it exists so
// topology-aware tests can observe latency without real networking.
type SimNet struct {
	mu      sync.RWMutex
	procs   map[string]ndshape.Point
	base    time.Duration
	jitter  time.Duration
	rng     *rand.Rand
	started bool
}

var (
	simMu  sync.RWMutex
	simNet *SimNet
)

// StartSimNet starts the process-global simulated network with the given
// base latency and jitter. Starting twice replaces the configuration but
// keeps registrations.
func StartSimNet(base, jitter time.Duration) *SimNet {
	simMu.Lock()
	defer simMu.Unlock()
	if simNet == nil {
		simNet = &SimNet{
			procs: make(map[string]ndshape.Point),
			rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		}
	}
	simNet.mu.Lock()
	simNet.base = base
	simNet.jitter = jitter
	simNet.started = true
	simNet.mu.Unlock()
	return simNet
}

// SimNetHandle returns the running simulated network, or nil if StartSimNet
// has not been called.
func SimNetHandle() *SimNet {
	simMu.RLock()
	defer simMu.RUnlock()
	return simNet
}

// RegisterProc records a proc's coordinate so pairwise latencies can be
// sampled.
func (n *SimNet) RegisterProc(procID string, point ndshape.Point) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.procs[procID] = point
	log.Debug().Str("proc", procID).Str("point", point.String()).Msg("simnet: registered proc")
}

// RegisteredProcs returns the ids of all registered procs.
func (n *SimNet) RegisteredProcs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.procs))
	for id := range n.procs {
		ids = append(ids, id)
	}
	return ids
}

// SampleLatency draws a delivery latency. Coordinates farther apart in the
// leading dimension pay one extra base latency per unit of distance.
func (n *SimNet) SampleLatency(src, dst string) time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	d := n.base
	if sp, ok := n.procs[src]; ok {
		if dp, ok := n.procs[dst]; ok && sp.Dims() > 0 && dp.Dims() > 0 {
			dist := sp.Coord(0) - dp.Coord(0)
			if dist < 0 {
				dist = -dist
			}
			d += time.Duration(dist) * n.base
		}
	}
	if n.jitter > 0 {
		d += time.Duration(n.rng.Int63n(int64(n.jitter)))
	}
	return d
}

// deliverSim schedules delivery of one message after the simnet's sampled
// latency; with no simnet running, delivery is immediate.
func deliverSim(ch chan any, msg any) {
	net := SimNetHandle()
	if net == nil {
		ch <- msg
		return
	}
	net.mu.Lock()
	base, jitter := net.base, net.jitter
	var extra time.Duration
	if jitter > 0 {
		extra = time.Duration(net.rng.Int63n(int64(jitter)))
	}
	net.mu.Unlock()
	delay := base + extra
	if delay <= 0 {
		ch <- msg
		return
	}
	time.AfterFunc(delay, func() {
		ch <- msg
	})
}
