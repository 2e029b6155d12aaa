package alloc

import (
	"context"
	"testing"
	"time"

	"github.com/jihwankim/actormesh/pkg/channel"
	"github.com/jihwankim/actormesh/pkg/ndshape"
)

func testExtent(t *testing.T, labels []string, sizes []int) ndshape.Extent {
	t.Helper()
	e, err := ndshape.NewExtent(labels, sizes)
	if err != nil {
		t.Fatalf("NewExtent: %v", err)
	}
	return e
}

func TestLocalAllocLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allocator := &LocalAllocator{}
	al, err := allocator.Allocate(ctx, AllocSpec{Extent: testExtent(t, []string{"replica"}, []int{4})})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	// Lifecycle order per create key: Created before Running.
	created := map[CreateKey]bool{}
	runningCount := 0
	for runningCount < 4 {
		st, ok := al.Next(ctx)
		if !ok {
			t.Fatal("stream closed before all ranks running")
		}
		switch s := st.(type) {
		case Created:
			created[s.CreateKey] = true
		case Running:
			if !created[s.CreateKey] {
				t.Errorf("Running before Created for key %s", s.CreateKey)
			}
			runningCount++
		case StoppedState, Failed:
			t.Fatalf("unexpected terminal state %T", st)
		}
	}

	if err := al.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stopped := 0
	for {
		st, ok := al.Next(ctx)
		if !ok {
			break
		}
		if s, isStop := st.(StoppedState); isStop {
			if s.Reason.Kind != StopStopped {
				t.Errorf("stop reason = %s, want stopped", s.Reason)
			}
			stopped++
		}
	}
	if stopped != 4 {
		t.Errorf("observed %d stopped states, want 4", stopped)
	}
	// Stop is idempotent.
	if err := al.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestLocalAllocInitialize(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allocator := &LocalAllocator{}
	al, err := allocator.Allocate(ctx, AllocSpec{Extent: testExtent(t, []string{"host", "gpu"}, []int{2, 2})})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer al.Stop(ctx)

	procs, err := al.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(procs) != 4 {
		t.Fatalf("initialized %d procs, want 4", len(procs))
	}
	world := al.WorldID()
	for rank, p := range procs {
		if p.ProcID.Rank != rank {
			t.Errorf("slot %d has proc rank %d", rank, p.ProcID.Rank)
		}
		if p.ProcID.World != world {
			t.Errorf("slot %d world = %s, want %s", rank, p.ProcID.World, world)
		}
		if p.Addr == "" {
			t.Errorf("slot %d has no address", rank)
		}
	}
}

func TestChaosMonkey(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allocator := &LocalAllocator{}
	al, err := allocator.Allocate(ctx, AllocSpec{Extent: testExtent(t, []string{"replica"}, []int{2})})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	local := al.(*LocalAlloc)
	if _, err := local.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	local.ChaosMonkey()(1, Killed(9, true))
	st, ok := al.Next(ctx)
	if !ok {
		t.Fatal("stream closed")
	}
	s, isStop := st.(StoppedState)
	if !isStop {
		t.Fatalf("got %T, want StoppedState", st)
	}
	if s.Reason.Kind != StopKilled || s.Reason.Signal != 9 || !s.Reason.Core {
		t.Errorf("reason = %+v", s.Reason)
	}
	local.Stopper()()
}

func TestSimAllocRegistersProcs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel.StartSimNet(0, 0)
	al, err := SimAllocator{}.Allocate(ctx, AllocSpec{
		Extent: testExtent(t, []string{"zone", "host"}, []int{2, 2}),
	})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer al.Stop(ctx)

	if al.Transport() != channel.TransportSim {
		t.Errorf("transport = %s, want sim", al.Transport())
	}

	procs, err := al.Initialize(ctx)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	registered := map[string]bool{}
	for _, id := range channel.SimNetHandle().RegisteredProcs() {
		registered[id] = true
	}
	for _, p := range procs {
		if !registered[p.ProcID.String()] {
			t.Errorf("proc %s not registered with simnet", p.ProcID)
		}
	}
	// The manager client is registered too.
	manager := al.(*SimAlloc).Name() + "_manager[0]"
	if !registered[manager] {
		t.Errorf("manager proc %s not registered with simnet", manager)
	}
}

func TestStopReasonString(t *testing.T) {
	cases := []struct {
		reason StopReason
		want   string
	}{
		{Stopped(), "stopped"},
		{Killed(9, false), "killed with signal 9"},
		{Killed(6, true), "killed with signal 6 (core dumped)"},
		{FailedReason("oom"), "failed: oom"},
	}
	for _, tc := range cases {
		if got := tc.reason.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
