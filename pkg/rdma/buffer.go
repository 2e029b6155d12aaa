package rdma

import (
	"context"
	"fmt"
	"time"

	"github.com/jihwankim/actormesh/pkg/actor"
)

// Buffer is a registered memory region handle, shareable with peers.
type Buffer struct {
	Addr  uint64
	Size  int
	LKey  uint32
	RKey  uint32
	Owner actor.Ref
}

// Window narrows the buffer to [off, off+size).
func (b Buffer) Window(off, size int) (Buffer, error) {
	if off < 0 || size < 0 || off+size > b.Size {
		return Buffer{}, fmt.Errorf("rdma: window [%d, +%d) outside buffer of size %d", off, size, b.Size)
	}
	out := b
	out.Addr += uint64(off)
	out.Size = size
	return out, nil
}

// ReadInto pulls the peer buffer's contents into b: it posts one RDMA read
// on the queue pair and awaits its completion.
func (b Buffer) ReadInto(ctx context.Context, qp *QueuePair, peer Buffer, timeout time.Duration) error {
	if err := qp.Get(b, peer); err != nil {
		return err
	}
	return qp.WaitForCompletion(ctx, TargetSend, timeout)
}

// WriteFrom pushes b's contents into the peer buffer: it posts one RDMA
// write on the queue pair and awaits its completion.
func (b Buffer) WriteFrom(ctx context.Context, qp *QueuePair, peer Buffer, timeout time.Duration) error {
	if err := qp.Put(b, peer); err != nil {
		return err
	}
	return qp.WaitForCompletion(ctx, TargetSend, timeout)
}
