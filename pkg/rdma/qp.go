package rdma

import (
	"context"
	"fmt"
	"time"
)

// pollBackoff is the sleep between completion polls.
const pollBackoff = time.Millisecond

// QueuePair owns a send queue, a receive queue, and their completion
// queues, each a fixed power-of-two ring. Ring indices are monotonically
// non-decreasing 64-bit counters; the hardware slot is idx mod wqeCnt.
//
// Invariants, per queue: wqeIdx ≥ dbIdx ≥ cqIdx. Staging does not check
// the ring bound; a send-queue gap wqeIdx − dbIdx larger than wqeCnt is an
// overflow that RingDoorbell and Validate report as ErrWQEOverflow. A queue pair is owned by a single user; concurrent
// mutation is a program error.
type QueuePair struct {
	engine Engine
	qpNum  uint32
	wqeCnt uint64
	stride uint32

	sq []WQE
	rq []WQE

	sendWqeIdx uint64
	sendDbIdx  uint64
	sendCqIdx  uint64
	recvWqeIdx uint64
	recvDbIdx  uint64
	recvCqIdx  uint64

	wrID uint64
}

// NewQueuePair creates a queue pair with the given ring slot count (a
// power of two) and byte stride.
func NewQueuePair(engine Engine, qpNum uint32, wqeCnt uint64, stride uint32) (*QueuePair, error) {
	if wqeCnt == 0 || wqeCnt&(wqeCnt-1) != 0 {
		return nil, fmt.Errorf("rdma: wqe count %d is not a power of two", wqeCnt)
	}
	return &QueuePair{
		engine: engine,
		qpNum:  qpNum,
		wqeCnt: wqeCnt,
		stride: stride,
		sq:     make([]WQE, wqeCnt),
		rq:     make([]WQE, wqeCnt),
	}, nil
}

// QPNum returns the queue pair number.
func (qp *QueuePair) QPNum() uint32 { return qp.qpNum }

// Counters returns the six ring counters in order (send wqe/db/cq, recv
// wqe/db/cq).
func (qp *QueuePair) Counters() [6]uint64 {
	return [6]uint64{
		qp.sendWqeIdx, qp.sendDbIdx, qp.sendCqIdx,
		qp.recvWqeIdx, qp.recvDbIdx, qp.recvCqIdx,
	}
}

// Validate checks the ring invariants.
func (qp *QueuePair) Validate() error {
	if qp.sendWqeIdx < qp.sendDbIdx || qp.sendDbIdx < qp.sendCqIdx {
		return fmt.Errorf("rdma: send ring counters out of order: wqe=%d db=%d cq=%d",
			qp.sendWqeIdx, qp.sendDbIdx, qp.sendCqIdx)
	}
	if qp.sendWqeIdx-qp.sendDbIdx > qp.wqeCnt {
		return ErrWQEOverflow
	}
	if qp.recvWqeIdx < qp.recvDbIdx || qp.recvDbIdx < qp.recvCqIdx {
		return fmt.Errorf("rdma: recv ring counters out of order: wqe=%d db=%d cq=%d",
			qp.recvWqeIdx, qp.recvDbIdx, qp.recvCqIdx)
	}
	return nil
}

func (qp *QueuePair) nextWrID() uint64 {
	qp.wrID++
	return qp.wrID
}

// enqueue writes one descriptor into the send ring at wqeIdx mod wqeCnt
// and advances the index.
func (qp *QueuePair) enqueue(op Opcode, local, remote Buffer) {
	wqe := WQE{
		LAddr:    local.Addr,
		Length:   uint32(local.Size),
		LKey:     local.LKey,
		WrID:     qp.nextWrID(),
		Op:       op,
		RAddr:    remote.Addr,
		RKey:     remote.RKey,
		Signaled: true,
		QPNum:    qp.qpNum,
	}
	qp.sq[qp.sendWqeIdx%qp.wqeCnt] = wqe
	qp.sendWqeIdx++
}

// EnqueuePut stages an RDMA write of local into remote without ringing the
// doorbell.
func (qp *QueuePair) EnqueuePut(local, remote Buffer) error {
	qp.enqueue(OpWrite, local, remote)
	return nil
}

// EnqueueGet stages an RDMA read of remote into local without ringing the
// doorbell.
func (qp *QueuePair) EnqueueGet(local, remote Buffer) error {
	qp.enqueue(OpRead, local, remote)
	return nil
}

// ringDoorbell submits every staged slot in [dbIdx, wqeIdx), failing on
// ring overflow before any slot is handed over.
func (qp *QueuePair) ringDoorbell(origin Origin) error {
	if qp.sendWqeIdx-qp.sendDbIdx > qp.wqeCnt {
		return ErrWQEOverflow
	}
	for qp.sendDbIdx < qp.sendWqeIdx {
		slot := qp.sq[qp.sendDbIdx%qp.wqeCnt]
		if err := qp.engine.Submit(origin, qp.qpNum, slot); err != nil {
			return fmt.Errorf("rdma: submit: %w", err)
		}
		qp.sendDbIdx++
	}
	return nil
}

// RingDoorbell submits all staged send work requests from the host.
func (qp *QueuePair) RingDoorbell() error {
	return qp.ringDoorbell(OriginHost)
}

// Put stages and submits one RDMA write.
func (qp *QueuePair) Put(local, remote Buffer) error {
	if err := qp.EnqueuePut(local, remote); err != nil {
		return err
	}
	return qp.RingDoorbell()
}

// Get stages and submits one RDMA read.
func (qp *QueuePair) Get(local, remote Buffer) error {
	if err := qp.EnqueueGet(local, remote); err != nil {
		return err
	}
	return qp.RingDoorbell()
}

// PutWithRecv stages and submits a write-with-immediate, which consumes a
// receive work request posted by the peer.
func (qp *QueuePair) PutWithRecv(local, remote Buffer) error {
	qp.enqueue(OpWriteImm, local, remote)
	return qp.RingDoorbell()
}

// Recv posts one receive work request for a peer's write-with-immediate.
func (qp *QueuePair) Recv(local Buffer) error {
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
	return qp.engine.PostRecv(OriginHost, qp.qpNum, wqe)
}

// PollCompletion reads the completion at the target's cq index; on PollOK
// the index advances by one.
func (qp *QueuePair) PollCompletion(target PollTarget) (CQE, Poll) {
	switch target {
	case TargetSend:
		cqe, p := qp.engine.PollSend(qp.qpNum, qp.sendCqIdx)
		if p == PollOK {
			qp.sendCqIdx++
		}
		return cqe, p
	default:
		cqe, p := qp.engine.PollRecv(qp.qpNum, qp.recvCqIdx)
		if p == PollOK {
			qp.recvCqIdx++
		}
		return cqe, p
	}
}

// WaitForCompletion polls the target queue with a 1 ms backoff until a
// completion lands or the timeout elapses. A timeout does not cancel the
// operation engine-side.
func (qp *QueuePair) WaitForCompletion(ctx context.Context, target PollTarget, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		cqe, p := qp.PollCompletion(target)
		switch p {
		case PollOK:
			return nil
		case PollError:
			return fmt.Errorf("rdma: %s completion error: %s", target, cqe.Err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollBackoff):
		}
	}
	return fmt.Errorf("rdma: timed out waiting for %s completion after %s", target, timeout)
}
