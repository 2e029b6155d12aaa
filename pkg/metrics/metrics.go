// Package metrics exposes the process-wide Prometheus counters bumped by
// the proc mesh.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcMeshAllocations counts successfully allocated proc meshes.
	ProcMeshAllocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "actormesh_proc_mesh_allocations_total",
		Help: "Number of proc meshes successfully allocated.",
	})

	// ProcMeshActorFailures counts actor spawn failures and supervision
	// failures, labeled by actor mesh name.
	ProcMeshActorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actormesh_proc_mesh_actor_failures_total",
		Help: "Number of actor spawn failures and supervision failures.",
	}, []string{"actor_name"})

	// ProcMeshProcStopped counts proc stop events observed on the event
	// stream, labeled by stop reason.
	ProcMeshProcStopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actormesh_proc_mesh_proc_stopped_total",
		Help: "Number of proc stop events observed.",
	}, []string{"reason"})
)
