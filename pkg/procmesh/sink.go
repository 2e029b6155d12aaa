// Package procmesh ties allocated procs into a routable mesh: it installs
// supervision, spawns per-name actor meshes, and normalizes lifecycle and
// failure events into a single stream.
package procmesh

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/agent"
	"github.com/jihwankim/actormesh/pkg/channel"
)

// SupervisionSink is a handle to a mesh's supervision port.
type SupervisionSink chan<- actor.SupervisionEvent

var sinkCell struct {
	mu   sync.RWMutex
	sink SupervisionSink
}

// SetGlobalSupervisionSink installs the process-global supervision sink and
// returns the previously installed one, if any.
//
// "Last sink wins": if multiple proc meshes exist in the process, the most
// recently allocated mesh's sink replaces the prior global sink. This is an
// admitted stopgap to keep routing correct with multiple meshes in-process;
// the long-term design is per-world root clients, at which point this
// override goes away.
func SetGlobalSupervisionSink(sink SupervisionSink) SupervisionSink {
	sinkCell.mu.Lock()
	defer sinkCell.mu.Unlock()
	prev := sinkCell.sink
	sinkCell.sink = sink
	return prev
}

// GetGlobalSupervisionSink returns the currently installed global sink.
func GetGlobalSupervisionSink() (SupervisionSink, bool) {
	sinkCell.mu.RLock()
	defer sinkCell.mu.RUnlock()
	return sinkCell.sink, sinkCell.sink != nil
}

var (
	rootClientOnce sync.Once
	rootClientAddr channel.Addr
)

// GlobalRootClient serves the process-global root client channel and
// returns its address. Undeliverables arriving there are forwarded to the
// global supervision sink; the sink is re-read on every event rather than
// captured, so a newer mesh can take over routing.
func GlobalRootClient() channel.Addr {
	rootClientOnce.Do(func() {
		addr, rx, err := channel.Serve(channel.TransportLocal)
		if err != nil {
			log.Error().Err(err).Msg("global root client: serve failed")
			return
		}
		rootClientAddr = addr
		go func() {
			for raw := range rx {
				env, ok := raw.(agent.Envelope)
				if !ok {
					continue
				}
				event := actor.SupervisionEvent{
					ActorID: env.To,
					Status:  actor.Failed("undeliverable message observed by root client"),
					Headers: env.Headers,
				}
				if sink, ok := GetGlobalSupervisionSink(); ok {
					sink <- event
				} else {
					log.Warn().Str("actor", env.To.String()).
						Msg("root client: undeliverable with no global sink installed")
				}
			}
		}()
	})
	return rootClientAddr
}
