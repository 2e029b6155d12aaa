package procmesh

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/agent"
	"github.com/jihwankim/actormesh/pkg/channel"
)

const supervisionDepth = 256

// Client is the synthetic rank-0 mesh client: a proc-like endpoint the mesh
// owner uses to talk to agents and receive supervision events.
type Client struct {
	procID       actor.ProcID
	addr         channel.Addr
	router       *Router
	supervisionc chan actor.SupervisionEvent
	logger       zerolog.Logger
}

// newClient serves the client proc on an ephemeral channel and opens its
// supervision port.
func newClient(world actor.WorldID, transport channel.Transport, router *Router) (*Client, error) {
	procID := actor.ProcID{World: actor.WorldID(string(world) + "_client"), Rank: 0}
	addr, rx, err := channel.Serve(transport)
	if err != nil {
		return nil, err
	}
	c := &Client{
		procID:       procID,
		addr:         addr,
		router:       router,
		supervisionc: make(chan actor.SupervisionEvent, supervisionDepth),
		logger:       log.With().Str("client", procID.String()).Logger(),
	}
	go c.serve(rx)
	return c, nil
}

func (c *Client) serve(rx <-chan any) {
	for raw := range rx {
		switch m := raw.(type) {
		case actor.SupervisionEvent:
			c.supervisionc <- m
		case agent.Envelope:
			c.logger.Debug().Str("actor", m.To.String()).Msg("client: message delivered to client proc")
		default:
			c.logger.Warn().Msgf("client: dropping message %T", raw)
		}
	}
}

// ProcID returns the client proc's id.
func (c *Client) ProcID() actor.ProcID { return c.procID }

// Addr returns the client proc's served address.
func (c *Client) Addr() channel.Addr { return c.addr }

// SupervisionPort returns the client's supervision port; agents and the
// per-mesh undeliverable binding both feed it.
func (c *Client) SupervisionPort() chan actor.SupervisionEvent { return c.supervisionc }

// Send routes one message from the client. A routing failure is forwarded
// into the mesh's supervision port as an undeliverable; this is the
// per-mesh undeliverable binding, independent of the global sink.
func (c *Client) Send(to actor.ActorID, msg any, headers *actor.Headers) error {
	err := c.router.Send(to, msg, headers)
	if err != nil {
		c.logger.Info().Str("actor", to.String()).Msg("per-mesh client undeliverable observed")
		c.supervisionc <- actor.SupervisionEvent{
			ActorID:  to,
			Status:   actor.Failed(err.Error()),
			Headers:  headers,
			CausedBy: err,
		}
	}
	return err
}

// Close stops serving the client proc.
func (c *Client) Close() {
	channel.Close(c.addr)
}
