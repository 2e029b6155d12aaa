package rdma

import (
	"context"
	"time"
)

// DeviceSubmitter drives a queue pair from device-initiated code: WQEs and
// doorbells are produced through the engine's device entry points.
// Completions are polled through the same host-side poll as QueuePair; the
// engine has no device-side poll entry point. The ring discipline and
// counters are exactly those of the host path.
type DeviceSubmitter struct {
	qp *QueuePair
}

// Device returns the device-initiated submitter for a queue pair. The
// queue pair must not be driven from host and device concurrently.
func (qp *QueuePair) Device() *DeviceSubmitter {
	return &DeviceSubmitter{qp: qp}
}

// EnqueuePut stages an RDMA write from device code.
func (d *DeviceSubmitter) EnqueuePut(local, remote Buffer) error {
	d.qp.enqueue(OpWrite, local, remote)
	return nil
}

// EnqueueGet stages an RDMA read from device code.
func (d *DeviceSubmitter) EnqueueGet(local, remote Buffer) error {
	d.qp.enqueue(OpRead, local, remote)
	return nil
}

// RingDoorbell submits all staged slots with device-originated register
// writes.
func (d *DeviceSubmitter) RingDoorbell() error {
	return d.qp.ringDoorbell(OriginDevice)
}

// Put stages and submits one RDMA write from device code.
func (d *DeviceSubmitter) Put(local, remote Buffer) error {
	if err := d.EnqueuePut(local, remote); err != nil {
		return err
	}
	return d.RingDoorbell()
}

// Recv posts one receive work request from device code.
func (d *DeviceSubmitter) Recv(local Buffer) error {
	qp := d.qp
	wqe := WQE{
		LAddr:    local.Addr,
		Length:   uint32(local.Size),
		LKey:     local.LKey,
		WrID:     qp.nextWrID(),
		Op:       OpRecv,
		Signaled: true,
		QPNum:    qp.qpNum,
	}
	qp.rq[qp.recvWqeIdx%qp.wqeCnt] = wqe
	qp.recvWqeIdx++
	qp.recvDbIdx++
	return qp.engine.PostRecv(OriginDevice, qp.qpNum, wqe)
}

// WaitForCompletion delegates to QueuePair.WaitForCompletion; polling
// runs on the host path, not through a device kernel.
func (d *DeviceSubmitter) WaitForCompletion(ctx context.Context, target PollTarget, timeout time.Duration) error {
	return d.qp.WaitForCompletion(ctx, target, timeout)
}
