package procmesh

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/alloc"
	"github.com/jihwankim/actormesh/pkg/metrics"
)

// ProcEvent is a normalized proc lifecycle or failure event.
type ProcEvent interface {
	isProcEvent()
	String() string
}

// ProcStopped reports that the proc at the given rank stopped.
type ProcStopped struct {
	Rank   int
	Reason alloc.StopReason
}

// ProcCrashed reports an unhandled supervision event attributed to the proc
// at the given rank.
type ProcCrashed struct {
	Rank   int
	Reason string
}

func (ProcStopped) isProcEvent() {}
func (ProcCrashed) isProcEvent() {}

func (e ProcStopped) String() string {
	return fmt.Sprintf("Proc at rank %d stopped: %s", e.Rank, e.Reason)
}

func (e ProcCrashed) String() string {
	return fmt.Sprintf("Proc at rank %d crashed: %s", e.Rank, e.Reason)
}

type rankInfo struct {
	rank      int
	createKey alloc.CreateKey
}

// ProcEvents is the mesh's event stream: it multiplexes the alloc's
// lifecycle states with the supervision port, normalizing both into
// ProcEvents and routing raw supervision events to per-actor-mesh
// subscribers.
type ProcEvents struct {
	state  *eventState
	ranks  map[actor.ProcID]rankInfo
	router *sync.Map // string -> chan actor.SupervisionEvent

	pumpOnce sync.Once
	allocc   chan alloc.ProcState
}

func newProcEvents(state *eventState, ranks map[actor.ProcID]rankInfo, router *sync.Map) *ProcEvents {
	return &ProcEvents{
		state:  state,
		ranks:  ranks,
		router: router,
		allocc: make(chan alloc.ProcState, 16),
	}
}

// pump converts the alloc's pull-based Next into a channel so Next can
// select over both sources without starving either.
func (e *ProcEvents) pump() {
	e.pumpOnce.Do(func() {
		go func() {
			defer close(e.allocc)
			for {
				st, ok := e.state.alloc.Next(context.Background())
				if !ok {
					return
				}
				e.allocc <- st
			}
		}()
	})
}

// Next returns the next lifecycle event. It returns ok=false either when
// the alloc stream has closed, which is terminal, or when ctx is done, in
// which case the stream stays usable. Dropping the stream without draining
// it leaves the underlying alloc intact.
func (e *ProcEvents) Next(ctx context.Context) (ProcEvent, bool) {
	e.pump()
	for {
		select {
		case <-ctx.Done():
			return nil, false

		case st, ok := <-e.allocc:
			// The alloc stream closing is always terminal: drop every
			// per-actor-mesh sender, terminating subscribers.
			if !ok {
				e.router.Range(func(k, v any) bool {
					close(v.(chan actor.SupervisionEvent))
					e.router.Delete(k)
					return true
				})
				return nil, false
			}
			stopped, isStopped := st.(alloc.StoppedState)
			if !isStopped {
				continue
			}
			info, procID, found := e.rankOfKey(stopped.CreateKey)
			if !found {
				log.Warn().Str("create_key", string(stopped.CreateKey)).
					Msg("received stop event for unmapped proc")
				continue
			}
			metrics.ProcMeshProcStopped.WithLabelValues(stopped.Reason.String()).Inc()

			// Any actor on a stopped proc is gone with it; notify every
			// registered actor mesh with a synthetic supervision event
			// before yielding the stop.
			e.router.Range(func(k, v any) bool {
				event := actor.SupervisionEvent{
					ActorID: procID.ActorID("any", 0),
					Status:  actor.Failed(fmt.Sprintf("proc %s is stopped", procID)),
				}
				select {
				case v.(chan actor.SupervisionEvent) <- event:
				default:
					log.Warn().Str("actor_mesh", k.(string)).
						Msg("unable to transmit supervision event to actor mesh")
				}
				return true
			})
			return ProcStopped{Rank: info.rank, Reason: stopped.Reason}, true

		case event := <-e.state.supervisionc:
			log.Info().Str("actor", event.ActorID.String()).
				Str("status", event.Status.String()).
				Bool("headers", event.Headers != nil).
				Msg("proc supervision: event received")

			// Normalize events that came via the comm tree: when the cast
			// header is present, rewrite the comm-actor identity to the
			// synthetic mesh-level id so routing reaches the right
			// subscriber.
			if event.Headers != nil && event.Headers.CastActorMeshID != nil {
				meshID := event.Headers.CastActorMeshID
				old := event.ActorID
				event.ActorID = actor.ActorID{
					Proc: actor.ProcID{World: meshID.World, Rank: 0},
					Name: meshID.Name,
					PID:  0,
				}
				log.Debug().Str("from", old.String()).Str("to", event.ActorID.String()).
					Msg("proc supervision: remapped comm-actor id to mesh id")
			}

			// Route to the subscriber registered under the actor mesh name;
			// log the known registrations when none matches.
			if v, ok := e.router.Load(event.ActorID.Name); ok {
				select {
				case v.(chan actor.SupervisionEvent) <- event:
				default:
					log.Warn().Str("actor", event.ActorID.String()).
						Msg("proc supervision: registered actor mesh dropped receiver; unable to deliver")
				}
			} else {
				var registered []string
				e.router.Range(func(k, _ any) bool {
					registered = append(registered, k.(string))
					return true
				})
				log.Warn().Str("actor", event.ActorID.String()).Strs("registered", registered).
					Msg("proc supervision: no actor mesh registered for this actor")
			}

			// Attribute the failure to a known rank. Events for procs
			// outside the ranks table are dropped with a warning; whether
			// they should instead surface as a crash with an unknown rank
			// is an open question, and the drop is the chosen behavior.
			info, ok := e.ranks[event.ActorID.Proc]
			if !ok {
				log.Warn().Str("actor", event.ActorID.String()).
					Msg("proc supervision: actor belongs to an unmapped proc; dropping event")
				continue
			}
			metrics.ProcMeshActorFailures.WithLabelValues(event.ActorID.Name).Inc()
			return ProcCrashed{Rank: info.rank, Reason: event.String()}, true
		}
	}
}

func (e *ProcEvents) rankOfKey(key alloc.CreateKey) (rankInfo, actor.ProcID, bool) {
	for procID, info := range e.ranks {
		if info.createKey == key {
			return info, procID, true
		}
	}
	return rankInfo{}, actor.ProcID{}, false
}

// IntoAlloc releases the underlying alloc back to the caller.
func (e *ProcEvents) IntoAlloc() alloc.Alloc {
	return e.state.alloc
}
