// Package actor defines the identities, statuses, and supervision events
// shared by the allocator, the mesh agents, and the proc mesh, plus the
// process-global registry of spawnable actor types.
package actor

import (
	"fmt"
	"sync"
)

// WorldID names a collection of procs allocated together.
type WorldID string

func (w WorldID) String() string { return string(w) }

// ProcID identifies a proc within a world by rank.
type ProcID struct {
	World WorldID
	Rank  int
}

func (p ProcID) String() string { return fmt.Sprintf("%s[%d]", p.World, p.Rank) }

// ActorID identifies an actor instance hosted on a proc.
type ActorID struct {
	Proc ProcID
	Name string
	PID  int
}

func (a ActorID) String() string { return fmt.Sprintf("%s.%s[%d]", a.Proc, a.Name, a.PID) }

// ActorID builds the id of the actor with the given name and pid on proc p.
func (p ProcID) ActorID(name string, pid int) ActorID {
	return ActorID{Proc: p, Name: name, PID: pid}
}

// Ref is a reference to a (possibly remote) actor. Sends resolve the
// destination proc through the mesh's router.
type Ref struct {
	ID ActorID
}

func (r Ref) String() string { return r.ID.String() }

// StatusKind enumerates actor lifecycle statuses.
type StatusKind int

const (
	StatusRunning StatusKind = iota
	StatusStopping
	StatusStopped
	StatusFailed
)

// Status is an actor lifecycle status, optionally carrying a failure
// message.
type Status struct {
	Kind StatusKind
	Msg  string
}

// Failed builds a failure status with the given message.
func Failed(msg string) Status { return Status{Kind: StatusFailed, Msg: msg} }

func (s Status) String() string {
	switch s.Kind {
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return fmt.Sprintf("failed: %s", s.Msg)
	default:
		return "unknown"
	}
}

// ActorMeshID identifies a named actor mesh within a proc mesh; carried in
// cast headers so supervision events observed inside the comm tree can be
// attributed to the logical mesh.
type ActorMeshID struct {
	World WorldID
	Name  string
}

func (m ActorMeshID) String() string { return fmt.Sprintf("%s.%s", m.World, m.Name) }

// Headers are optional message headers attached to an envelope and echoed
// on supervision events raised while the message was being handled.
type Headers struct {
	// CastActorMeshID is set when the message traveled through the
	// comm-actor tree on behalf of a named actor mesh.
	CastActorMeshID *ActorMeshID
}

// SupervisionEvent reports an actor status change or failure.
type SupervisionEvent struct {
	ActorID  ActorID
	Status   Status
	Headers  *Headers
	CausedBy error
}

func (e SupervisionEvent) String() string {
	s := fmt.Sprintf("actor %s: %s", e.ActorID, e.Status)
	if e.CausedBy != nil {
		s += fmt.Sprintf(" (caused by: %v)", e.CausedBy)
	}
	return s
}

// Context is handed to actor callbacks; it carries the actor's own identity
// and send functions routed through the hosting proc.
type Context struct {
	Self ActorID
	// Send delivers a message to another actor in the mesh.
	Send func(to ActorID, msg any) error
	// SendWithHeaders is Send with message headers attached; the headers
	// are echoed on any supervision event the message provokes.
	SendWithHeaders func(to ActorID, msg any, h *Headers) error
}

// Actor is the behavior contract for spawnable actors. Init receives the
// serialized spawn parameters; Handle is invoked once per delivered
// message. A Handle error (or panic) fails the actor and raises a
// supervision event.
type Actor interface {
	Init(ctx *Context, params []byte) error
	Handle(ctx *Context, msg any) error
}

// Factory constructs a fresh actor instance.
type Factory func() Actor

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an actor type spawnable by name across the process.
// Bindings are idempotent; re-registering a name replaces the factory.
func Register(actorType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[actorType] = f
}

// New instantiates a registered actor type.
func New(actorType string) (Actor, error) {
	registryMu.RLock()
	f, ok := registry[actorType]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("actor type %q not registered", actorType)
	}
	return f(), nil
}
