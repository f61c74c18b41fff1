package node

import (
	"context"

	"github.com/google/uuid"

	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/ringid"
)

// UpdateFingerTableStatic rewrites every local finger-table entry whose
// target id falls in the inclusive arc [fromIdx, toIdx] to point at
// newOwner (callers wanting (a, b] pass a+1 as fromIdx). fromIdx/toIdx are
// themselves ring ids, not slice
// indices — "static" distinguishes this from UpdateAllFingerTables, which
// additionally propagates the update around the whole ring.
func (n *Node) UpdateFingerTableStatic(fromIdx, toIdx uint64, newOwner proto.NodeRef) {
	bitlen := n.cfg.IDBitLen
	mod := ringid.Modulus(bitlen)
	self := n.self

	for i := uint(0); i < bitlen; i++ {
		entryID := (self.ID + (uint64(1) << i)) % mod
		if ringid.IsInArc(entryID, fromIdx, toIdx, bitlen) {
			n.setFingerEntry(int(i), newOwner)
		}
	}
}

// UpdateAllFingerTables walks the ring clockwise from this node's
// successor back around to itself, pushing a finger-table correction to
// every member along the way, then rotates the ring signature. Pass zero
// values for from/to/newOwner to run the default "announce myself as the
// new owner of (predecessor, self]" case used after a join.
//
// This is an O(N) ring walk, not O(log N); a gossip-based alternative would
// avoid touching every member on each join, but is out of scope here.
func (n *Node) UpdateAllFingerTables(ctx context.Context, fromIdx, toIdx *uint64, newOwner *proto.NodeRef) error {
	bitlen := n.cfg.IDBitLen
	mod := ringid.Modulus(bitlen)
	self := n.self

	var from, to uint64
	var owner proto.NodeRef
	if fromIdx == nil || toIdx == nil || newOwner == nil {
		owner = self
		from = (n.Predecessor().ID + 1) % mod
		to = self.ID
	} else {
		from, to, owner = *fromIdx, *toIdx, *newOwner
	}

	newSignature := uuid.NewString()

	last := self
	current := n.Successor()

	for current.ID != self.ID {
		n.UpdateFingerTableStatic((last.ID+1)%mod, current.ID, current)

		resp, err := n.transport.Send(ctx, addrOf(current), proto.Envelope{
			Kind:          proto.KindUpdateFTableReq,
			SourceID:      self.ID,
			RingSignature: n.RingSignature(),
			Payload: proto.UpdateFTableReq{
				From:         from,
				To:           to,
				NewOwner:     owner,
				NewSignature: newSignature,
			},
		}, RPCDeadline)
		if err != nil {
			return err
		}

		body, ok := resp.Payload.(proto.SuccResp)
		if !ok || !body.Success {
			return errWrongSignature
		}

		last = current
		current = body.Ref
	}

	n.UpdateFingerTableStatic((n.Predecessor().ID+1)%mod, self.ID, self)
	n.setRingSignature(newSignature)
	return nil
}
