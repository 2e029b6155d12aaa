package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/channel"
)

const flakyType = "agent-test-flaky"

type flakyActor struct{}

type flakyPing struct{ Reply chan<- string }
type flakyFail struct{ Msg string }
type flakyPanic struct{}

func (f *flakyActor) Init(ctx *actor.Context, params []byte) error { return nil }

func (f *flakyActor) Handle(ctx *actor.Context, msg any) error {
	switch m := msg.(type) {
	case flakyPing:
		m.Reply <- ctx.Self.String()
		return nil
	case flakyFail:
		return errors.New(m.Msg)
	case flakyPanic:
		panic("flaky actor panicking")
	default:
		return nil
	}
}

func init() {
	actor.Register(flakyType, func() actor.Actor { return &flakyActor{} })
}

func bootAgent(t *testing.T) (*Agent, channel.Addr, chan actor.SupervisionEvent) {
	t.Helper()
	procID := actor.ProcID{World: "agent-test", Rank: 0}
	ag, addr, err := Boot(procID, channel.TransportLocal)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(ag.Stop)

	supervision := make(chan actor.SupervisionEvent, 16)
	configc := make(chan int, 1)
	send(t, addr, Envelope{
		To: ag.Ref().ID,
		Msg: Configure{
			Rank:            0,
			SupervisionPort: supervision,
			AddressBook:     map[actor.ProcID]channel.Addr{procID: addr},
			ConfigPort:      configc,
		},
	})
	select {
	case rank := <-configc:
		if rank != 0 {
			t.Fatalf("configure ack rank = %d", rank)
		}
	case <-time.After(time.Second):
		t.Fatal("configure ack timed out")
	}
	return ag, addr, supervision
}

func send(t *testing.T, addr channel.Addr, env Envelope) {
	t.Helper()
	sender, err := channel.Dial(addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := sender.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func spawn(t *testing.T, ag *Agent, addr channel.Addr, name string) actor.ActorID {
	t.Helper()
	completion := make(chan GspawnResult, 1)
	send(t, addr, Envelope{
		To:  ag.Ref().ID,
		Msg: GSpawn{ActorType: flakyType, Name: name, Completion: completion},
	})
	select {
	case res := <-completion:
		if res.Err != "" {
			t.Fatalf("gspawn: %s", res.Err)
		}
		return res.ActorID
	case <-time.After(time.Second):
		t.Fatal("gspawn timed out")
		return actor.ActorID{}
	}
}

func TestGspawnAndDeliver(t *testing.T) {
	ag, addr, _ := bootAgent(t)
	id := spawn(t, ag, addr, "worker")

	reply := make(chan string, 1)
	send(t, addr, Envelope{To: id, Msg: flakyPing{Reply: reply}})
	select {
	case got := <-reply:
		if got != id.String() {
			t.Errorf("reply = %q, want %q", got, id)
		}
	case <-time.After(time.Second):
		t.Fatal("ping timed out")
	}
}

func TestGspawnDuplicateName(t *testing.T) {
	ag, addr, _ := bootAgent(t)
	spawn(t, ag, addr, "solo")

	completion := make(chan GspawnResult, 1)
	send(t, addr, Envelope{
		To:  ag.Ref().ID,
		Msg: GSpawn{ActorType: flakyType, Name: "solo", Completion: completion},
	})
	select {
	case res := <-completion:
		if res.Err == "" {
			t.Error("duplicate gspawn should fail")
		}
	case <-time.After(time.Second):
		t.Fatal("gspawn timed out")
	}
}

func TestFailureRaisesSupervisionEvent(t *testing.T) {
	ag, addr, supervision := bootAgent(t)
	id := spawn(t, ag, addr, "failing")

	headers := &actor.Headers{CastActorMeshID: &actor.ActorMeshID{World: "w", Name: "failing"}}
	send(t, addr, Envelope{To: id, Msg: flakyFail{Msg: "boom"}, Headers: headers})

	select {
	case event := <-supervision:
		if event.ActorID != id {
			t.Errorf("event actor = %s", event.ActorID)
		}
		if event.Status.Kind != actor.StatusFailed {
			t.Errorf("event status = %s", event.Status)
		}
		if event.Headers == nil || event.Headers.CastActorMeshID == nil {
			t.Error("message headers should be echoed on the event")
		}
	case <-time.After(time.Second):
		t.Fatal("supervision event timed out")
	}
}

func TestPanicIsContained(t *testing.T) {
	ag, addr, supervision := bootAgent(t)
	id := spawn(t, ag, addr, "panicky")

	send(t, addr, Envelope{To: id, Msg: flakyPanic{}})
	select {
	case event := <-supervision:
		if event.Status.Kind != actor.StatusFailed {
			t.Errorf("event status = %s", event.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("supervision event timed out")
	}
}

func TestStopActor(t *testing.T) {
	ag, addr, _ := bootAgent(t)
	id := spawn(t, ag, addr, "stoppable")

	reply := make(chan StopActorResult, 1)
	send(t, addr, Envelope{
		To:  ag.Ref().ID,
		Msg: StopActor{ActorID: id, Timeout: time.Second, Reply: reply},
	})
	select {
	case res := <-reply:
		if res != StopSuccess {
			t.Errorf("stop result = %s", res)
		}
	case <-time.After(time.Second):
		t.Fatal("stop timed out")
	}

	// Stopping again reports NotFound.
	reply2 := make(chan StopActorResult, 1)
	send(t, addr, Envelope{
		To:  ag.Ref().ID,
		Msg: StopActor{ActorID: id, Timeout: time.Second, Reply: reply2},
	})
	select {
	case res := <-reply2:
		if res != StopNotFound {
			t.Errorf("second stop result = %s", res)
		}
	case <-time.After(time.Second):
		t.Fatal("second stop timed out")
	}
}

func TestUndeliverableRaisesEvent(t *testing.T) {
	ag, addr, supervision := bootAgent(t)
	_ = ag

	ghost := actor.ProcID{World: "agent-test", Rank: 0}.ActorID("ghost", 0)
	send(t, addr, Envelope{To: ghost, Msg: flakyPanic{}})
	select {
	case event := <-supervision:
		if event.ActorID != ghost {
			t.Errorf("event actor = %s", event.ActorID)
		}
		if event.Status.Kind != actor.StatusFailed {
			t.Errorf("event status = %s", event.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("undeliverable event timed out")
	}
}
