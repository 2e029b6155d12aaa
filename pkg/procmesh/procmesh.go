package procmesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/agent"
	"github.com/jihwankim/actormesh/pkg/alloc"
	"github.com/jihwankim/actormesh/pkg/channel"
	"github.com/jihwankim/actormesh/pkg/mesh"
	"github.com/jihwankim/actormesh/pkg/metrics"
	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// DefaultStopActorTimeout bounds each per-agent stop-actor request.
const DefaultStopActorTimeout = 10 * time.Second

// rankEntry is one allocated slot in rank order.
type rankEntry struct {
	createKey alloc.CreateKey
	procID    actor.ProcID
	addr      channel.Addr
	agentRef  actor.Ref
}

// eventState holds the resources consumed by the mesh's event stream. It is
// handed out once, on the first Events call.
type eventState struct {
	alloc        alloc.Alloc
	supervisionc <-chan actor.SupervisionEvent
}

// ProcMesh is a fully-allocated, routable mesh of procs.
type ProcMesh struct {
	extent  ndshape.Extent
	worldID actor.WorldID

	ranks      []rankEntry
	client     *Client
	router     *Router
	routerAddr channel.Addr
	commActors []actor.Ref

	// actorEventRouter maps actor mesh names to their supervision event
	// senders. It is shared with ProcEvents and outlives any single spawn,
	// which keeps the mesh and its actor meshes acyclic: actor meshes hold
	// only the receiver ends.
	actorEventRouter *sync.Map // string -> chan actor.SupervisionEvent

	mu         sync.Mutex
	eventState *eventState
}

// Allocate builds a proc mesh from the provided alloc. It returns after the
// mesh has been fully allocated and wired, and fails (tearing down the
// partial mesh) on any allocation failure.
func Allocate(ctx context.Context, al alloc.Alloc) (*ProcMesh, error) {
	world := al.WorldID()
	log.Info().Str("world", world.String()).Str("extent", al.Extent().String()).
		Msg("allocating proc mesh")

	// 1. Initialize the alloc, producing the ranked procs.
	running, err := al.Initialize(ctx)
	if err != nil {
		return nil, fmt.Errorf("proc mesh allocate: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = al.Stop(context.Background())
		}
	}()

	// 2. Route to the initialized procs through a dial router seeded with
	// the process-global router.
	router := NewDialRouter(GlobalRouter())
	for _, p := range running {
		router.Bind(p.ProcID, p.Addr)
	}

	// 3. A client proc for the mesh itself, wired into the same router so
	// the whole mesh can reach it.
	client, err := newClient(world, al.Transport(), router)
	if err != nil {
		return nil, fmt.Errorf("proc mesh allocate: client: %w", err)
	}
	defer func() {
		if !ok {
			client.Close()
		}
	}()
	router.Bind(client.ProcID(), client.Addr())

	// 4. Fold the dial router's bindings into the global router so the
	// process stays connected to a single root.
	router.BindAll(GlobalRouter())

	// 5. Supervision: open the supervision port and install this mesh's
	// sink as the process-global one. Last sink wins; the replaced handle
	// is surfaced for logging. The root client re-reads the sink per
	// event. Per-mesh undeliverables (client.Send failures) feed the same
	// port independently of the global sink.
	supervisionc := client.SupervisionPort()
	if prev := SetGlobalSupervisionSink(supervisionc); prev != nil {
		log.Info().Str("world", world.String()).
			Msg("replaced previously installed global supervision sink")
	}
	GlobalRootClient()

	// 6. Serve the router so agents can reach procs they hold no direct
	// binding for, then transmit the address book to every agent.
	routerAddr, err := router.Serve(al.Transport())
	if err != nil {
		return nil, fmt.Errorf("proc mesh allocate: router serve: %w", err)
	}
	log.Info().Str("addr", string(routerAddr)).Msg("router channel listening")

	addressBook := make(map[actor.ProcID]channel.Addr, len(running))
	for _, p := range running {
		addressBook[p.ProcID] = p.Addr
	}
	addressBook[client.ProcID()] = client.Addr()

	configc := make(chan int, len(running))
	g, _ := errgroup.WithContext(ctx)
	for rank, p := range running {
		rank, p := rank, p
		g.Go(func() error {
			return client.Send(p.MeshAgent.ID, agent.Configure{
				Rank:            rank,
				RouterAddr:      routerAddr,
				SupervisionPort: supervisionc,
				AddressBook:     addressBook,
				ConfigPort:      configc,
			}, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("proc mesh allocate: configure: %w", err)
	}

	completed := NewRanks[int](len(running))
	for !completed.Full() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("proc mesh allocate: configure: %w", ctx.Err())
		case rank := <-configc:
			if completed.Insert(rank, rank) {
				log.Warn().Int("rank", rank).Msg("multiple configure completions received for rank")
			}
		}
	}

	// 7. Spawn a comm actor on every proc, then kick them into mesh mode
	// so they form the tree-distribution fabric.
	agents := make([]actor.Ref, len(running))
	for i, p := range running {
		agents[i] = p.MeshAgent
	}
	commActors, err := spawnOnProcs(ctx, client, agents, CommActorType, CommActorName, nil)
	if err != nil {
		return nil, fmt.Errorf("proc mesh allocate: comm actors: %w", err)
	}
	commBook := make(map[int]actor.Ref, len(commActors))
	for rank, ref := range commActors {
		commBook[rank] = ref
	}
	for rank, ref := range commActors {
		if err := client.Send(ref.ID, CommActorMode{Rank: rank, AddressBook: commBook}, nil); err != nil {
			return nil, fmt.Errorf("proc mesh allocate: comm mode: %w", err)
		}
	}

	ranks := make([]rankEntry, len(running))
	for i, p := range running {
		ranks[i] = rankEntry{
			createKey: p.CreateKey,
			procID:    p.ProcID,
			addr:      p.Addr,
			agentRef:  p.MeshAgent,
		}
	}

	metrics.ProcMeshAllocations.Inc()
	ok = true
	return &ProcMesh{
		extent:           al.Extent(),
		worldID:          world,
		ranks:            ranks,
		client:           client,
		router:           router,
		routerAddr:       routerAddr,
		commActors:       commActors,
		actorEventRouter: &sync.Map{},
		eventState: &eventState{
			alloc:        al,
			supervisionc: supervisionc,
		},
	}, nil
}

// spawnOnProcs launches the same actor type on every agent and awaits one
// completion per rank. Any per-rank error fails the whole spawn;
// already-spawned actors on other ranks are left running.
func spawnOnProcs(ctx context.Context, client *Client, agents []actor.Ref, actorType, name string, params []byte) ([]actor.Ref, error) {
	completionc := make(chan agent.GspawnResult, len(agents))
	g, _ := errgroup.WithContext(ctx)
	for _, ag := range agents {
		ag := ag
		g.Go(func() error {
			return client.Send(ag.ID, agent.GSpawn{
				ActorType:  actorType,
				Name:       name,
				Params:     params,
				Completion: completionc,
			}, nil)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gspawn %s: %w", name, err)
	}

	completed := NewRanks[actor.ActorID](len(agents))
	for !completed.Full() {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gspawn %s: %w", name, ctx.Err())
		case result := <-completionc:
			if result.Err != "" {
				metrics.ProcMeshActorFailures.WithLabelValues(name).Inc()
				return nil, fmt.Errorf("gspawn failed: %s", result.Err)
			}
			if completed.Insert(result.Rank, result.ActorID) {
				log.Warn().Int("rank", result.Rank).Msg("multiple completions received for rank")
			}
		}
	}

	refs := make([]actor.Ref, len(agents))
	for i, id := range completed.Values() {
		refs[i] = actor.Ref{ID: id}
	}
	return refs, nil
}

// Spawn launches an actor mesh: one actor of the registered type on every
// proc, under the given mesh name. The mesh's supervision routing is
// installed before any actor is spawned. Params are serialized and handed
// to every actor's Init.
func (m *ProcMesh) Spawn(ctx context.Context, actorType, name string, params any) (*RootActorMesh, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: params: %w", name, err)
	}

	// Instantiate supervision routing BEFORE spawning the actor mesh.
	events := make(chan actor.SupervisionEvent, supervisionDepth)
	m.actorEventRouter.Store(name, events)
	log.Info().Str("actor_name", name).Msg("registered actor mesh supervision route")

	agents := make([]actor.Ref, len(m.ranks))
	for i, r := range m.ranks {
		agents[i] = r.agentRef
	}
	refs, err := spawnOnProcs(ctx, m.client, agents, actorType, name, raw)
	if err != nil {
		return nil, err
	}
	actors := mesh.BuildDenseUnchecked(m.extent.Region(), refs)
	return newRootActorMesh(m, name, actors, events), nil
}

// StopActorByName fans a stop request for the named actor mesh out to every
// agent and logs each outcome. The operation is idempotent and non-fatal:
// timeouts and misses are logged, not returned.
func (m *ProcMesh) StopActorByName(ctx context.Context, name string) error {
	type outcome struct {
		actorID actor.ActorID
		result  agent.StopActorResult
		err     error
	}
	outcomes := make([]outcome, len(m.ranks))

	g, _ := errgroup.WithContext(ctx)
	for i, r := range m.ranks {
		i, r := i, r
		g.Go(func() error {
			actorID := r.procID.ActorID(name, 0)
			reply := make(chan agent.StopActorResult, 1)
			err := m.client.Send(r.agentRef.ID, agent.StopActor{
				ActorID: actorID,
				Timeout: DefaultStopActorTimeout,
				Reply:   reply,
			}, nil)
			if err != nil {
				outcomes[i] = outcome{actorID: actorID, err: err}
				return nil
			}
			select {
			case res := <-reply:
				outcomes[i] = outcome{actorID: actorID, result: res}
			case <-ctx.Done():
				outcomes[i] = outcome{actorID: actorID, err: ctx.Err()}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch {
		case o.err != nil:
			log.Warn().Str("actor", o.actorID.String()).Err(o.err).Msg("error stopping actor")
		case o.result == agent.StopTimeout:
			log.Warn().Str("actor", o.actorID.String()).Msg("timed out while stopping actor")
		case o.result == agent.StopNotFound:
			log.Warn().Str("actor", o.actorID.String()).Msg("no such actor on proc")
		default:
			log.Info().Str("actor", o.actorID.String()).Msg("stopped actor")
		}
	}
	return nil
}

// Client returns the mesh's client, used to communicate with any member.
func (m *ProcMesh) Client() *Client { return m.client }

// ProcID returns the client proc's id.
func (m *ProcMesh) ProcID() actor.ProcID { return m.client.ProcID() }

// WorldID returns the mesh's world id.
func (m *ProcMesh) WorldID() actor.WorldID { return m.worldID }

// Extent returns the mesh's extent.
func (m *ProcMesh) Extent() ndshape.Extent { return m.extent }

// Get returns the proc id at the given rank.
func (m *ProcMesh) Get(rank int) (actor.ProcID, bool) {
	if rank < 0 || rank >= len(m.ranks) {
		return actor.ProcID{}, false
	}
	return m.ranks[rank].procID, true
}

// Agents returns the mesh agents in rank order.
func (m *ProcMesh) Agents() []actor.Ref {
	out := make([]actor.Ref, len(m.ranks))
	for i, r := range m.ranks {
		out[i] = r.agentRef
	}
	return out
}

// CommActor returns the comm actor to which casts should be forwarded.
func (m *ProcMesh) CommActor() actor.Ref { return m.commActors[0] }

// Events takes the mesh's event stream. Each mesh produces only one; the
// second and subsequent calls return nil.
func (m *ProcMesh) Events() *ProcEvents {
	m.mu.Lock()
	state := m.eventState
	m.eventState = nil
	m.mu.Unlock()
	if state == nil {
		return nil
	}
	ranks := make(map[actor.ProcID]rankInfo, len(m.ranks))
	for rank, r := range m.ranks {
		ranks[r.procID] = rankInfo{rank: rank, createKey: r.createKey}
	}
	return newProcEvents(state, ranks, m.actorEventRouter)
}

// Stop tears the mesh down: the alloc is stopped (if the event stream was
// never taken) and the client proc is closed.
func (m *ProcMesh) Stop(ctx context.Context) error {
	m.mu.Lock()
	state := m.eventState
	m.eventState = nil
	m.mu.Unlock()
	var err error
	if state != nil {
		err = state.alloc.Stop(ctx)
	}
	m.client.Close()
	return err
}

func (m *ProcMesh) String() string {
	return fmt.Sprintf("ProcMesh(%s, %s)", m.worldID, m.extent)
}
