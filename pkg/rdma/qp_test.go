package rdma

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func newPair(t *testing.T, engine *LoopbackEngine, qpNum uint32, wqeCnt uint64) *QueuePair {
	t.Helper()
	qp, err := NewQueuePair(engine, qpNum, wqeCnt, 64)
	if err != nil {
		t.Fatalf("NewQueuePair: %v", err)
	}
	return qp
}

func checkInvariants(t *testing.T, qp *QueuePair) {
	t.Helper()
	if err := qp.Validate(); err != nil {
		t.Fatalf("ring invariant violated: %v (counters %v)", err, qp.Counters())
	}
}

func TestQueuePairRejectsNonPowerOfTwo(t *testing.T) {
	engine := NewLoopbackEngine()
	for _, cnt := range []uint64{0, 3, 6, 100} {
		if _, err := NewQueuePair(engine, 1, cnt, 64); err == nil {
			t.Errorf("wqe count %d should be rejected", cnt)
		}
	}
}

func TestPutMovesBytes(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qp := newPair(t, engine, 1, 16)

	src := engine.RegisterMemory([]byte("the quick brown fox"))
	dstData := make([]byte, 19)
	dst := engine.RegisterMemory(dstData)

	if err := qp.Put(src, dst); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := qp.WaitForCompletion(ctx, TargetSend, time.Second); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	if string(dstData) != "the quick brown fox" {
		t.Errorf("dst = %q", dstData)
	}
	checkInvariants(t, qp)
}

func TestGetMovesBytes(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qp := newPair(t, engine, 1, 16)

	remote := engine.RegisterMemory([]byte("payload"))
	localData := make([]byte, 7)
	local := engine.RegisterMemory(localData)

	if err := local.ReadInto(ctx, qp, remote, time.Second); err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	if string(localData) != "payload" {
		t.Errorf("local = %q", localData)
	}
}

// Ring invariant: at every protocol step wqe ≥ db ≥ cq and wqe−db ≤ cnt.
func TestRingInvariantStepping(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qp := newPair(t, engine, 1, 4)

	src := engine.RegisterMemory(make([]byte, 8))
	dst := engine.RegisterMemory(make([]byte, 8))

	for step := 0; step < 10; step++ {
		if err := qp.EnqueuePut(src, dst); err != nil {
			t.Fatalf("EnqueuePut: %v", err)
		}
		checkInvariants(t, qp)
		if err := qp.RingDoorbell(); err != nil {
			t.Fatalf("RingDoorbell: %v", err)
		}
		checkInvariants(t, qp)
		if err := qp.WaitForCompletion(ctx, TargetSend, time.Second); err != nil {
			t.Fatalf("WaitForCompletion: %v", err)
		}
		checkInvariants(t, qp)
	}
	counters := qp.Counters()
	if counters[0] != 10 || counters[1] != 10 || counters[2] != 10 {
		t.Errorf("send counters = %v, want 10/10/10", counters[:3])
	}
}

func TestWQEOverflow(t *testing.T) {
	engine := NewLoopbackEngine()
	qp := newPair(t, engine, 1, 4)

	src := engine.RegisterMemory(make([]byte, 8))
	dst := engine.RegisterMemory(make([]byte, 8))

	// Five staged entries in a four-slot ring: the doorbell must refuse.
	for i := 0; i < 5; i++ {
		if err := qp.EnqueuePut(src, dst); err != nil {
			t.Fatalf("EnqueuePut %d: %v", i, err)
		}
	}
	if err := qp.RingDoorbell(); !errors.Is(err, ErrWQEOverflow) {
		t.Fatalf("RingDoorbell = %v, want ErrWQEOverflow", err)
	}
}

// Four puts fitting exactly in half the buffer, each awaited, then a fifth
// put covering the full buffer; the peer buffer must match byte-for-byte.
func TestWraparound(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qp := newPair(t, engine, 1, 4)

	const size = 64
	srcData := make([]byte, size)
	for i := range srcData {
		srcData[i] = byte(i * 7)
	}
	dstData := make([]byte, size)
	src := engine.RegisterMemory(srcData)
	dst := engine.RegisterMemory(dstData)

	chunk := size / 2 / 4 // four puts over half the buffer
	for i := 0; i < 4; i++ {
		off := i * chunk
		srcWin, err := src.Window(off, chunk)
		if err != nil {
			t.Fatalf("Window: %v", err)
		}
		dstWin, err := dst.Window(off, chunk)
		if err != nil {
			t.Fatalf("Window: %v", err)
		}
		if err := qp.Put(srcWin, dstWin); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
		if err := qp.WaitForCompletion(ctx, TargetSend, time.Second); err != nil {
			t.Fatalf("WaitForCompletion %d: %v", i, err)
		}
		checkInvariants(t, qp)
	}

	// The fifth put wraps the four-slot ring and covers the whole buffer.
	if err := qp.Put(src, dst); err != nil {
		t.Fatalf("fifth Put: %v", err)
	}
	if err := qp.WaitForCompletion(ctx, TargetSend, time.Second); err != nil {
		t.Fatalf("fifth WaitForCompletion: %v", err)
	}
	if !bytes.Equal(dstData, srcData) {
		t.Error("peer buffer does not match source after wraparound")
	}
	if counters := qp.Counters(); counters[0] != 5 {
		t.Errorf("send wqe idx = %d, want 5", counters[0])
	}
	checkInvariants(t, qp)
}

func TestPutWithRecv(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qpA := newPair(t, engine, 1, 8)
	qpB := newPair(t, engine, 2, 8)
	engine.Connect(1, 2)

	srcData := []byte("immediate")
	dstData := make([]byte, len(srcData))
	src := engine.RegisterMemory(srcData)
	dst := engine.RegisterMemory(dstData)

	// Peer posts a receive, then the write-with-immediate consumes it.
	if err := qpB.Recv(dst); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := qpA.PutWithRecv(src, dst); err != nil {
		t.Fatalf("PutWithRecv: %v", err)
	}
	if err := qpA.WaitForCompletion(ctx, TargetSend, time.Second); err != nil {
		t.Fatalf("send completion: %v", err)
	}
	if err := qpB.WaitForCompletion(ctx, TargetRecv, time.Second); err != nil {
		t.Fatalf("recv completion: %v", err)
	}
	if string(dstData) != "immediate" {
		t.Errorf("dst = %q", dstData)
	}
	checkInvariants(t, qpA)
	checkInvariants(t, qpB)
}

func TestPutWithRecvWithoutPostedRecv(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qpA := newPair(t, engine, 1, 8)
	newPair(t, engine, 2, 8)
	engine.Connect(1, 2)

	src := engine.RegisterMemory(make([]byte, 4))
	dst := engine.RegisterMemory(make([]byte, 4))

	if err := qpA.PutWithRecv(src, dst); err != nil {
		t.Fatalf("PutWithRecv: %v", err)
	}
	err := qpA.WaitForCompletion(ctx, TargetSend, time.Second)
	if err == nil {
		t.Fatal("expected a completion error with no posted receive")
	}
}

func TestWaitForCompletionTimeout(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qp := newPair(t, engine, 1, 8)

	err := qp.WaitForCompletion(ctx, TargetSend, 10*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
}

func TestDeviceInitiatedPath(t *testing.T) {
	ctx := context.Background()
	engine := NewLoopbackEngine()
	qp := newPair(t, engine, 1, 4)
	dev := qp.Device()

	srcData := []byte("gpu path")
	dstData := make([]byte, len(srcData))
	src := engine.RegisterMemory(srcData)
	dst := engine.RegisterMemory(dstData)

	if err := dev.Put(src, dst); err != nil {
		t.Fatalf("device Put: %v", err)
	}
	if err := dev.WaitForCompletion(ctx, TargetSend, time.Second); err != nil {
		t.Fatalf("device WaitForCompletion: %v", err)
	}
	if string(dstData) != "gpu path" {
		t.Errorf("dst = %q", dstData)
	}
	// Device and host submissions share the same counters and discipline.
	if err := qp.Put(src, dst); err != nil {
		t.Fatalf("host Put after device Put: %v", err)
	}
	if err := qp.WaitForCompletion(ctx, TargetSend, time.Second); err != nil {
		t.Fatalf("host WaitForCompletion: %v", err)
	}
	if counters := qp.Counters(); counters[0] != 2 || counters[2] != 2 {
		t.Errorf("counters = %v", counters)
	}
	checkInvariants(t, qp)
}
