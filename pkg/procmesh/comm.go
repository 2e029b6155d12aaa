package procmesh

import (
	"fmt"
	"sync"

	"github.com/jihwankim/actormesh/pkg/actor"
)

// CommActorType is the registered type of the per-proc comm actor.
const CommActorType = "comm"

// CommActorName is the actor name comm actors are spawned under.
const CommActorName = "comm"

func init() {
	actor.Register(CommActorType, func() actor.Actor { return &CommActor{} })
}

// CommActorMode switches a comm actor into mesh mode: it learns its own
// rank and the references of every comm actor in the mesh.
type CommActorMode struct {
	Rank        int
	AddressBook map[int]actor.Ref
}

// CastMessage asks the comm fabric to deliver a payload to the named actor
// mesh. Ranks selects the destination ranks; nil means every rank.
type CastMessage struct {
	MeshID actor.ActorMeshID
	Ranks  []int
	Msg    any
}

// castFrame is one hop of tree distribution: the subtree of target ranks
// this comm actor is responsible for.
type castFrame struct {
	Cast    CastMessage
	Subtree []int
}

// CommActor forms a per-proc tree-distribution fabric for casts: a cast
// enters at one comm actor and fans out along a binary tree, with each hop
// delivering locally and forwarding the rest.
type CommActor struct {
	mu   sync.Mutex
	rank int
	book map[int]actor.Ref
}

// Init brings the actor up in standalone mode; it joins the mesh when the
// mode message arrives.
func (c *CommActor) Init(ctx *actor.Context, params []byte) error {
	return nil
}

// Handle processes mode switches, cast entries, and cast frames.
func (c *CommActor) Handle(ctx *actor.Context, msg any) error {
	switch m := msg.(type) {
	case CommActorMode:
		c.mu.Lock()
		c.rank = m.Rank
		c.book = m.AddressBook
		c.mu.Unlock()
		return nil
	case CastMessage:
		c.mu.Lock()
		book := c.book
		c.mu.Unlock()
		if book == nil {
			return fmt.Errorf("comm actor %s: cast before mesh mode", ctx.Self)
		}
		targets := m.Ranks
		if targets == nil {
			targets = make([]int, len(book))
			for i := range targets {
				targets[i] = i
			}
		}
		return c.handleFrame(ctx, castFrame{Cast: m, Subtree: targets})
	case castFrame:
		return c.handleFrame(ctx, m)
	default:
		return fmt.Errorf("comm actor %s: unknown message %T", ctx.Self, msg)
	}
}

func (c *CommActor) handleFrame(ctx *actor.Context, frame castFrame) error {
	c.mu.Lock()
	rank := c.rank
	book := c.book
	c.mu.Unlock()

	// Deliver locally when this rank is targeted, tagging the message so
	// any failure it provokes can be attributed to the logical actor mesh.
	rest := make([]int, 0, len(frame.Subtree))
	for _, t := range frame.Subtree {
		if t == rank {
			dest := ctx.Self.Proc.ActorID(frame.Cast.MeshID.Name, 0)
			headers := &actor.Headers{CastActorMeshID: &frame.Cast.MeshID}
			if err := ctx.SendWithHeaders(dest, frame.Cast.Msg, headers); err != nil {
				return err
			}
			continue
		}
		rest = append(rest, t)
	}

	// Fan the remainder out along a binary tree: split in half and hand
	// each half to the comm actor of its first rank.
	for _, half := range split(rest) {
		next, ok := book[half[0]]
		if !ok {
			return fmt.Errorf("comm actor %s: no comm actor for rank %d", ctx.Self, half[0])
		}
		if err := ctx.Send(next.ID, castFrame{Cast: frame.Cast, Subtree: half}); err != nil {
			return err
		}
	}
	return nil
}

func split(ranks []int) [][]int {
	switch len(ranks) {
	case 0:
		return nil
	case 1:
		return [][]int{ranks}
	default:
		mid := len(ranks) / 2
		return [][]int{ranks[:mid], ranks[mid:]}
	}
}
