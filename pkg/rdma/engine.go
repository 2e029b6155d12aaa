package rdma

import (
	"fmt"
	"sync"
)

// LoopbackEngine is an in-process Engine: it moves bytes between registered
// memory regions immediately on submission and completes work requests in
// order. It exists for tests and for single-host runs without RDMA
// hardware.
type LoopbackEngine struct {
	mu       sync.Mutex
	nextBase uint64
	nextKey  uint32
	regions  map[uint32][]byte // lkey/rkey -> backing memory
	bases    map[uint32]uint64 // key -> base address
	peers    map[uint32]uint32 // qpNum -> peer qpNum

	sendCQs map[uint32][]CQE
	recvCQs map[uint32][]CQE
	posted  map[uint32][]WQE // posted receive WRs per qp
}

// NewLoopbackEngine creates an empty loopback engine.
func NewLoopbackEngine() *LoopbackEngine {
	return &LoopbackEngine{
		nextBase: 0x1000_0000,
		regions:  make(map[uint32][]byte),
		bases:    make(map[uint32]uint64),
		peers:    make(map[uint32]uint32),
		sendCQs:  make(map[uint32][]CQE),
		recvCQs:  make(map[uint32][]CQE),
		posted:   make(map[uint32][]WQE),
	}
}

// RegisterMemory registers a backing buffer and returns its handle. The
// loopback engine uses one key for both local and remote access.
func (e *LoopbackEngine) RegisterMemory(data []byte) Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextKey++
	key := e.nextKey
	base := e.nextBase
	e.nextBase += uint64(len(data)) + 0x1000
	e.regions[key] = data
	e.bases[key] = base
	return Buffer{Addr: base, Size: len(data), LKey: key, RKey: key}
}

// Connect pairs two queue pairs so write-with-immediate completions land in
// the peer's receive queue.
func (e *LoopbackEngine) Connect(a, b uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peers[a] = b
	e.peers[b] = a
}

// slice resolves (key, addr, length) to the registered backing memory.
func (e *LoopbackEngine) slice(key uint32, addr uint64, length uint32) ([]byte, error) {
	region, ok := e.regions[key]
	if !ok {
		return nil, fmt.Errorf("loopback: unknown memory key %d", key)
	}
	base := e.bases[key]
	if addr < base || addr+uint64(length) > base+uint64(len(region)) {
		return nil, fmt.Errorf("loopback: access [%#x, +%d) outside region %d", addr, length, key)
	}
	off := addr - base
	return region[off : off+uint64(length)], nil
}

// Submit executes one send-side work request synchronously and appends its
// completion.
func (e *LoopbackEngine) Submit(origin Origin, qpNum uint32, wqe WQE) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	complete := func(err error) {
		cqe := CQE{WrID: wqe.WrID, Op: wqe.Op}
		if err != nil {
			cqe.Err = err.Error()
		}
		e.sendCQs[qpNum] = append(e.sendCQs[qpNum], cqe)
	}

	local, err := e.slice(wqe.LKey, wqe.LAddr, wqe.Length)
	if err != nil {
		complete(err)
		return nil
	}
	remote, err := e.slice(wqe.RKey, wqe.RAddr, wqe.Length)
	if err != nil {
		complete(err)
		return nil
	}

	switch wqe.Op {
	case OpWrite:
		copy(remote, local)
		complete(nil)
	case OpRead:
		copy(local, remote)
		complete(nil)
	case OpWriteImm:
		copy(remote, local)
		peer, ok := e.peers[qpNum]
		if !ok {
			complete(fmt.Errorf("loopback: qp %d has no connected peer", qpNum))
			return nil
		}
		queue := e.posted[peer]
		if len(queue) == 0 {
			complete(fmt.Errorf("loopback: peer qp %d has no posted receive", peer))
			return nil
		}
		recvWR := queue[0]
		e.posted[peer] = queue[1:]
		e.recvCQs[peer] = append(e.recvCQs[peer], CQE{WrID: recvWR.WrID, Op: OpRecv})
		complete(nil)
	default:
		complete(fmt.Errorf("loopback: bad send opcode %s", wqe.Op))
	}
	return nil
}

// PostRecv queues a receive work request for consumption by a peer's
// write-with-immediate.
func (e *LoopbackEngine) PostRecv(origin Origin, qpNum uint32, wqe WQE) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.posted[qpNum] = append(e.posted[qpNum], wqe)
	return nil
}

// PollSend reads the send CQ entry at idx.
func (e *LoopbackEngine) PollSend(qpNum uint32, idx uint64) (CQE, Poll) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pollCQ(e.sendCQs[qpNum], idx)
}

// PollRecv reads the receive CQ entry at idx.
func (e *LoopbackEngine) PollRecv(qpNum uint32, idx uint64) (CQE, Poll) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pollCQ(e.recvCQs[qpNum], idx)
}

func pollCQ(cq []CQE, idx uint64) (CQE, Poll) {
	if idx >= uint64(len(cq)) {
		return CQE{}, PollEmpty
	}
	cqe := cq[idx]
	if cqe.Err != "" {
		return cqe, PollError
	}
	return cqe, PollOK
}
