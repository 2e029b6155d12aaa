// Package agent implements the per-proc mesh agent: the actor that accepts
// configure / gspawn / stop-actor requests from a proc mesh, hosts the
// spawned actors, and reports their failures to the mesh's supervision
// port.
package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/channel"
)

// AgentName is the reserved actor name of the mesh agent on every proc.
const AgentName = "agent"

// Envelope is the unit of delivery on a proc's channel: a destination actor
// and a payload, with optional headers echoed on supervision events.
type Envelope struct {
	To      actor.ActorID
	Msg     any
	Headers *actor.Headers
}

// Configure transmits the mesh wiring to an agent: its rank, the router
// address, the supervision port, and the full proc address book. The agent
// acks by sending its rank on ConfigPort.
type Configure struct {
	Rank            int
	RouterAddr      channel.Addr
	SupervisionPort chan<- actor.SupervisionEvent
	AddressBook     map[actor.ProcID]channel.Addr
	ConfigPort      chan<- int
}

// GSpawn asks an agent to spawn one actor of a registered type.
type GSpawn struct {
	ActorType  string
	Name       string
	Params     []byte
	Completion chan<- GspawnResult
}

// GspawnResult reports a spawn outcome; Err is empty on success.
type GspawnResult struct {
	Rank    int
	ActorID actor.ActorID
	Err     string
}

// StopActor asks an agent to stop a hosted actor within the timeout.
type StopActor struct {
	ActorID actor.ActorID
	Timeout time.Duration
	Reply   chan<- StopActorResult
}

// StopActorResult is the per-agent outcome of a stop request.
type StopActorResult int

const (
	StopSuccess StopActorResult = iota
	StopNotFound
	StopTimeout
)

func (r StopActorResult) String() string {
	switch r {
	case StopSuccess:
		return "success"
	case StopNotFound:
		return "not found"
	case StopTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Agent is a booted mesh agent serving one proc.
type Agent struct {
	procID actor.ProcID
	addr   channel.Addr
	logger zerolog.Logger

	mu          sync.Mutex
	rank        int
	supervision chan<- actor.SupervisionEvent
	addressBook map[actor.ProcID]channel.Addr
	actors      map[string]*hosted
	stopped     bool
}

type hosted struct {
	id    actor.ActorID
	inbox chan Envelope
	stop  chan struct{}
	done  chan struct{}
}

// Boot serves a fresh channel for the proc and starts the agent loop.
func Boot(procID actor.ProcID, transport channel.Transport) (*Agent, channel.Addr, error) {
	addr, rx, err := channel.Serve(transport)
	if err != nil {
		return nil, "", fmt.Errorf("agent boot: %w", err)
	}
	a := &Agent{
		procID: procID,
		addr:   addr,
		logger: log.With().Str("proc", procID.String()).Logger(),
		actors: make(map[string]*hosted),
	}
	go a.serve(rx)
	return a, addr, nil
}

// ProcID returns the proc this agent serves.
func (a *Agent) ProcID() actor.ProcID { return a.procID }

// Addr returns the proc's served channel address.
func (a *Agent) Addr() channel.Addr { return a.addr }

// Ref returns the agent's own actor reference.
func (a *Agent) Ref() actor.Ref {
	return actor.Ref{ID: a.procID.ActorID(AgentName, 0)}
}

func (a *Agent) serve(rx <-chan any) {
	for raw := range rx {
		env, ok := raw.(Envelope)
		if !ok {
			a.logger.Warn().Msgf("agent: dropping non-envelope message %T", raw)
			continue
		}
		a.deliver(env)
	}
}

func (a *Agent) deliver(env Envelope) {
	if env.To.Name == AgentName {
		a.handleControl(env.Msg)
		return
	}
	a.mu.Lock()
	h, ok := a.actors[actorKey(env.To)]
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}
	if !ok {
		a.logger.Warn().Str("actor", env.To.String()).Msg("undeliverable: no such actor")
		a.supervise(actor.SupervisionEvent{
			ActorID: env.To,
			Status:  actor.Failed(fmt.Sprintf("message undeliverable: no actor %s", env.To)),
			Headers: env.Headers,
		})
		return
	}
	select {
	case h.inbox <- env:
	case <-h.done:
	}
}

func (a *Agent) handleControl(msg any) {
	switch m := msg.(type) {
	case Configure:
		a.mu.Lock()
		a.rank = m.Rank
		a.supervision = m.SupervisionPort
		a.addressBook = m.AddressBook
		a.mu.Unlock()
		m.ConfigPort <- m.Rank
	case GSpawn:
		a.handleGSpawn(m)
	case StopActor:
		a.handleStopActor(m)
	default:
		a.logger.Warn().Msgf("agent: unknown control message %T", msg)
	}
}

func (a *Agent) handleGSpawn(m GSpawn) {
	a.mu.Lock()
	rank := a.rank
	key := m.Name + "[0]"
	if _, exists := a.actors[key]; exists {
		a.mu.Unlock()
		m.Completion <- GspawnResult{Rank: rank, Err: fmt.Sprintf("actor %s already spawned on %s", m.Name, a.procID)}
		return
	}
	a.mu.Unlock()

	inst, err := actor.New(m.ActorType)
	if err != nil {
		m.Completion <- GspawnResult{Rank: rank, Err: err.Error()}
		return
	}

	id := a.procID.ActorID(m.Name, 0)
	ctx := &actor.Context{
		Self: id,
		Send: func(to actor.ActorID, msg any) error {
			return a.send(to, msg, nil)
		},
		SendWithHeaders: a.send,
	}
	if err := inst.Init(ctx, m.Params); err != nil {
		m.Completion <- GspawnResult{Rank: rank, Err: fmt.Sprintf("init %s: %v", id, err)}
		return
	}

	h := &hosted{
		id:    id,
		inbox: make(chan Envelope, 256),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	a.mu.Lock()
	a.actors[key] = h
	a.mu.Unlock()
	go a.run(inst, ctx, h)

	a.logger.Debug().Str("actor", id.String()).Str("type", m.ActorType).Msg("spawned actor")
	m.Completion <- GspawnResult{Rank: rank, ActorID: id}
}

// run drives one hosted actor. A Handle error or panic fails the actor and
// raises a supervision event carrying the message's headers.
func (a *Agent) run(inst actor.Actor, ctx *actor.Context, h *hosted) {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			return
		case env := <-h.inbox:
			err := a.handleOne(inst, ctx, env)
			if err != nil {
				a.supervise(actor.SupervisionEvent{
					ActorID:  h.id,
					Status:   actor.Failed(err.Error()),
					Headers:  env.Headers,
					CausedBy: err,
				})
				a.mu.Lock()
				delete(a.actors, actorKey(h.id))
				a.mu.Unlock()
				return
			}
		}
	}
}

func (a *Agent) handleOne(inst actor.Actor, ctx *actor.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return inst.Handle(ctx, env.Msg)
}

func (a *Agent) handleStopActor(m StopActor) {
	a.mu.Lock()
	h, ok := a.actors[actorKey(m.ActorID)]
	if ok {
		delete(a.actors, actorKey(m.ActorID))
	}
	a.mu.Unlock()
	if !ok {
		m.Reply <- StopNotFound
		return
	}
	close(h.stop)
	select {
	case <-h.done:
		m.Reply <- StopSuccess
	case <-time.After(m.Timeout):
		m.Reply <- StopTimeout
	}
}

// send routes a message from a hosted actor to any actor in the mesh,
// resolving the destination proc through the configured address book.
// Failures are forwarded to the supervision port as undeliverables.
func (a *Agent) send(to actor.ActorID, msg any, headers *actor.Headers) error {
	a.mu.Lock()
	addr, ok := a.addressBook[to.Proc]
	a.mu.Unlock()
	if !ok {
		err := fmt.Errorf("no route to proc %s", to.Proc)
		a.supervise(actor.SupervisionEvent{ActorID: to, Status: actor.Failed(err.Error()), Headers: headers})
		return err
	}
	sender, err := channel.Dial(addr)
	if err != nil {
		a.supervise(actor.SupervisionEvent{ActorID: to, Status: actor.Failed(err.Error()), Headers: headers})
		return err
	}
	return sender.Send(Envelope{To: to, Msg: msg, Headers: headers})
}

// supervise forwards one event to the configured supervision port, if any.
func (a *Agent) supervise(event actor.SupervisionEvent) {
	a.mu.Lock()
	port := a.supervision
	a.mu.Unlock()
	if port == nil {
		a.logger.Warn().Str("actor", event.ActorID.String()).Msg("supervision event with no port configured")
		return
	}
	port <- event
}

// Stop tears down the agent: all hosted actors are stopped and the proc's
// channel is closed.
func (a *Agent) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	actors := a.actors
	a.actors = make(map[string]*hosted)
	a.mu.Unlock()

	for _, h := range actors {
		close(h.stop)
		<-h.done
	}
	channel.Close(a.addr)
}

func actorKey(id actor.ActorID) string {
	return fmt.Sprintf("%s[%d]", id.Name, id.PID)
}
