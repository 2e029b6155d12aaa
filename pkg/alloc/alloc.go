// Package alloc defines the allocator abstraction: producers of proc
// lifecycle state streams toward a target extent, plus the local and
// simulated allocators.
package alloc

import (
	"context"
	"fmt"

	"github.com/jihwankim/actormesh/pkg/actor"
	"github.com/jihwankim/actormesh/pkg/channel"
	"github.com/jihwankim/actormesh/pkg/ndshape"
)

// CreateKey is the opaque token identifying a proc slot throughout its
// lifecycle.
type CreateKey string

// AllocConstraints narrow where procs may be placed. Allocators that do not
// understand a constraint ignore it.
type AllocConstraints struct {
	MatchLabels map[string]string
}

// AllocSpec describes a requested allocation.
type AllocSpec struct {
	Extent      ndshape.Extent
	Constraints AllocConstraints
	// ProcName, when set, overrides the generated world name.
	ProcName string
}

// StopKind enumerates why a proc went away.
type StopKind int

const (
	// StopStopped is an orderly stop.
	StopStopped StopKind = iota
	// StopKilled is a signal-delivered kill.
	StopKilled
	// StopFailed is an abnormal failure with a message.
	StopFailed
)

// StopReason describes why a proc stopped.
type StopReason struct {
	Kind   StopKind
	Signal int
	Core   bool
	Msg    string
}

// Stopped is the orderly stop reason.
func Stopped() StopReason { return StopReason{Kind: StopStopped} }

// Killed is the signal-kill reason.
func Killed(signal int, core bool) StopReason {
	return StopReason{Kind: StopKilled, Signal: signal, Core: core}
}

// FailedReason is the abnormal-failure reason.
func FailedReason(msg string) StopReason { return StopReason{Kind: StopFailed, Msg: msg} }

func (r StopReason) String() string {
	switch r.Kind {
	case StopStopped:
		return "stopped"
	case StopKilled:
		core := ""
		if r.Core {
			core = " (core dumped)"
		}
		return fmt.Sprintf("killed with signal %d%s", r.Signal, core)
	case StopFailed:
		return fmt.Sprintf("failed: %s", r.Msg)
	default:
		return "unknown"
	}
}

// ProcState is one lifecycle state flowing out of an allocator. Consumers
// must ignore variants they do not recognize.
type ProcState interface {
	isProcState()
	Key() CreateKey
}

// Created reports that a proc slot has been reserved at a coordinate.
type Created struct {
	CreateKey CreateKey
	Point     ndshape.Point
}

// Running reports that a proc is reachable and hosts a mesh agent.
type Running struct {
	CreateKey CreateKey
	ProcID    actor.ProcID
	Addr      channel.Addr
	MeshAgent actor.Ref
}

// StoppedState reports that a proc is gone.
type StoppedState struct {
	CreateKey CreateKey
	Reason    StopReason
}

// Failed is an informational variant reporting an allocation-side failure
// for a slot that never ran.
type Failed struct {
	CreateKey CreateKey
	Err       error
}

func (Created) isProcState()      {}
func (Running) isProcState()      {}
func (StoppedState) isProcState() {}
func (Failed) isProcState()       {}

func (s Created) Key() CreateKey      { return s.CreateKey }
func (s Running) Key() CreateKey      { return s.CreateKey }
func (s StoppedState) Key() CreateKey { return s.CreateKey }
func (s Failed) Key() CreateKey       { return s.CreateKey }

// AllocatedProc is one fully-running slot in rank order, as returned by
// Initialize.
type AllocatedProc struct {
	CreateKey CreateKey
	ProcID    actor.ProcID
	Addr      channel.Addr
	MeshAgent actor.Ref
}

// Allocator produces allocations toward a target extent.
type Allocator interface {
	Allocate(ctx context.Context, spec AllocSpec) (Alloc, error)
}

// Alloc is a live allocation: a stream of proc lifecycle states plus static
// accessors and orderly teardown.
type Alloc interface {
	// Next returns the next lifecycle state, or ok=false once the allocator
	// is fully stopped.
	Next(ctx context.Context) (ProcState, bool)
	// Initialize drives the state stream until every rank is running,
	// returning the ordered slot list, or fails on the first terminal state.
	Initialize(ctx context.Context) ([]AllocatedProc, error)
	Spec() *AllocSpec
	Extent() ndshape.Extent
	WorldID() actor.WorldID
	Transport() channel.Transport
	// Stop requests orderly teardown; after the final Stopped state, Next
	// returns ok=false.
	Stop(ctx context.Context) error
}

// initialize drives an alloc's state stream until every rank is running.
// Ranks are assigned in Created order. Any terminal state observed first
// fails the initialization and stops the alloc.
func initialize(ctx context.Context, a Alloc, name string) ([]AllocatedProc, error) {
	n := a.Extent().NumRanks()
	order := make(map[CreateKey]int, n)
	running := make([]*AllocatedProc, n)
	have := 0

	for have < n {
		st, ok := a.Next(ctx)
		if !ok {
			return nil, fmt.Errorf("alloc %s: state stream closed during initialization", name)
		}
		switch s := st.(type) {
		case Created:
			order[s.CreateKey] = len(order)
		case Running:
			rank, ok := order[s.CreateKey]
			if !ok {
				return nil, fmt.Errorf("alloc %s: running state for unknown create key %s", name, s.CreateKey)
			}
			if running[rank] == nil {
				have++
			}
			running[rank] = &AllocatedProc{
				CreateKey: s.CreateKey,
				ProcID:    s.ProcID,
				Addr:      s.Addr,
				MeshAgent: s.MeshAgent,
			}
		case StoppedState:
			_ = a.Stop(ctx)
			return nil, fmt.Errorf("alloc %s: proc %s stopped during initialization: %s", name, s.CreateKey, s.Reason)
		case Failed:
			_ = a.Stop(ctx)
			return nil, fmt.Errorf("alloc %s: proc %s failed during initialization: %w", name, s.CreateKey, s.Err)
		default:
			// Informational variant; ignore.
		}
	}

	out := make([]AllocatedProc, n)
	for i, p := range running {
		out[i] = *p
	}
	return out, nil
}
