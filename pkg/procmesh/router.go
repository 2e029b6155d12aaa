package procmesh

import (
	"fmt"
	"sync"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/agent"
	"github.com/jihwankim/actormesh/pkg/channel"
)

// Router maps proc ids to channel addresses, with an optional fallback
// consulted on a local miss. Bindings are idempotent; lookups are
// lock-free.
type Router struct {
	bindings sync.Map // actor.ProcID -> channel.Addr
	fallback *Router
}

var processRouter = &Router{}

// GlobalRouter returns the process-wide name-to-address registry.
func GlobalRouter() *Router { return processRouter }

// NewDialRouter creates a router seeded with the given fallback (typically
// the global router).
func NewDialRouter(fallback *Router) *Router {
	return &Router{fallback: fallback}
}

// Bind associates a proc with an address. Rebinding the same proc replaces
// the address.
func (r *Router) Bind(proc actor.ProcID, addr channel.Addr) {
	r.bindings.Store(proc, addr)
}

// Lookup resolves a proc to an address, falling back to the parent router.
func (r *Router) Lookup(proc actor.ProcID) (channel.Addr, bool) {
	if v, ok := r.bindings.Load(proc); ok {
		return v.(channel.Addr), true
	}
	if r.fallback != nil {
		return r.fallback.Lookup(proc)
	}
	return "", false
}

// BindAll merges this router's bindings into the destination router.
func (r *Router) BindAll(dst *Router) {
	r.bindings.Range(func(k, v any) bool {
		dst.Bind(k.(actor.ProcID), v.(channel.Addr))
		return true
	})
}

// Send routes one envelope to its destination proc.
func (r *Router) Send(to actor.ActorID, msg any, headers *actor.Headers) error {
	addr, ok := r.Lookup(to.Proc)
	if !ok {
		return fmt.Errorf("router: no binding for proc %s", to.Proc)
	}
	sender, err := channel.Dial(addr)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	return sender.Send(agent.Envelope{To: to, Msg: msg, Headers: headers})
}

// Serve runs the router on a fresh channel, forwarding every received
// envelope to its destination proc. Agents use the returned address to
// reach procs they have no direct binding for.
func (r *Router) Serve(transport channel.Transport) (channel.Addr, error) {
	addr, rx, err := channel.Serve(transport)
	if err != nil {
		return "", err
	}
	go func() {
		for raw := range rx {
			env, ok := raw.(agent.Envelope)
			if !ok {
				continue
			}
			// A forwarding failure drops the message; nothing is reported
			// back to the sender.
			_ = r.Send(env.To, env.Msg, env.Headers)
		}
	}()
	return addr, nil
}
