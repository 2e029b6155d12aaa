package procmesh

import (
	"context"
	"fmt"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/mesh"
	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// RootActorMesh is a spawned actor mesh: one actor per proc, addressed by
// rank, with a private supervision event stream. It holds only the
// receiver end of its event channel; the sender side lives in the proc
// mesh's actor event router.
type RootActorMesh struct {
	procMesh *ProcMesh
	name     string
	actors   *mesh.ValueMesh[actor.Ref]
	events   <-chan actor.SupervisionEvent
}

func newRootActorMesh(pm *ProcMesh, name string, actors *mesh.ValueMesh[actor.Ref], events <-chan actor.SupervisionEvent) *RootActorMesh {
	return &RootActorMesh{procMesh: pm, name: name, actors: actors, events: events}
}

// Name returns the actor mesh name.
func (m *RootActorMesh) Name() string { return m.name }

// MeshID returns the mesh's logical id, used in cast headers.
func (m *RootActorMesh) MeshID() actor.ActorMeshID {
	return actor.ActorMeshID{World: m.procMesh.WorldID(), Name: m.name}
}

// Actors returns the actor references, one per rank.
func (m *RootActorMesh) Actors() *mesh.ValueMesh[actor.Ref] { return m.actors }

// Get returns the actor reference at the given rank.
func (m *RootActorMesh) Get(rank int) (actor.Ref, bool) {
	return m.actors.Get(rank)
}

// Extent returns the mesh's extent.
func (m *RootActorMesh) Extent() ndshape.Extent { return m.actors.Extent() }

// Events returns the mesh's supervision event stream. The channel closes
// when the proc mesh's event stream terminates.
func (m *RootActorMesh) Events() <-chan actor.SupervisionEvent { return m.events }

// Cast delivers a message to the actors at the given ranks through the
// comm-actor tree. Nil ranks means every rank.
func (m *RootActorMesh) Cast(ranks []int, msg any) error {
	comm := m.procMesh.CommActor()
	return m.procMesh.Client().Send(comm.ID, CastMessage{
		MeshID: m.MeshID(),
		Ranks:  ranks,
		Msg:    msg,
	}, nil)
}

// CastRank delivers a message to the actor at one rank.
func (m *RootActorMesh) CastRank(rank int, msg any) error {
	if rank < 0 || rank >= m.actors.Len() {
		return fmt.Errorf("cast: no rank %d in %s", rank, m.name)
	}
	return m.Cast([]int{rank}, msg)
}

// CastAll delivers a message to every actor in the mesh.
func (m *RootActorMesh) CastAll(msg any) error {
	return m.Cast(nil, msg)
}

// Stop stops the mesh's actors on every proc; outcomes are logged, not
// returned.
func (m *RootActorMesh) Stop(ctx context.Context) error {
	return m.procMesh.StopActorByName(ctx, m.name)
}
