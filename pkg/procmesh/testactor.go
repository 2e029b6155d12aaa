package procmesh

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jihwankim/actormesh/pkg/actor"
)

// TestActorType is a registered actor type used by the test suite and the
// CLI demo: it echoes pings and fails on command.
const TestActorType = "testactor"

func init() {
	actor.Register(TestActorType, func() actor.Actor { return &TestActor{} })
}

// TestActorParams configures a TestActor.
type TestActorParams struct {
	Greeting string `json:"greeting,omitempty"`
}

// TestPing requests an echo; the actor replies with its own id and the
// configured greeting.
type TestPing struct {
	Reply chan<- string
}

// TestError makes the receiving actor fail with the given message.
type TestError struct {
	Msg string
}

// TestActor is a minimal mesh actor for exercising spawn, cast, and
// supervision paths.
type TestActor struct {
	params TestActorParams
}

// Init decodes the spawn parameters.
func (t *TestActor) Init(ctx *actor.Context, params []byte) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, &t.params); err != nil {
		return fmt.Errorf("test actor params: %w", err)
	}
	return nil
}

// Handle echoes pings and fails on TestError.
func (t *TestActor) Handle(ctx *actor.Context, msg any) error {
	switch m := msg.(type) {
	case TestPing:
		greeting := t.params.Greeting
		if greeting == "" {
			greeting = "hello"
		}
		m.Reply <- fmt.Sprintf("%s from %s", greeting, ctx.Self)
		return nil
	case TestError:
		return errors.New(m.Msg)
	default:
		return fmt.Errorf("test actor %s: unknown message %T", ctx.Self, msg)
	}
}
