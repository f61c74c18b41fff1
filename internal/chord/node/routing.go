package node

import (
	"context"
	"fmt"

	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/ringid"
)

// FindSuccessor returns the ring member responsible for target: the first
// node whose id is greater than or equal to target walking clockwise.
//
// The search order — "is target already in my own wedge", then "is it in
// my successor's wedge", then "walk the finger table for the best hop" —
// mirrors the original prototype's find_successor rather than the
// textbook closest_preceding_finger binary search; with finger tables this
// small (<=64 entries) the difference is not worth diverging from the
// grounded implementation.
func (n *Node) FindSuccessor(ctx context.Context, target uint64) (proto.NodeRef, error) {
	self := n.self
	bitlen := n.cfg.IDBitLen
	mod := ringid.Modulus(bitlen)

	pred := n.Predecessor()
	if ringid.IsInArc(target, (pred.ID+1)%mod, self.ID, bitlen) {
		return self, nil
	}

	succ := n.Successor()
	if ringid.IsInArc(target, (self.ID+1)%mod, succ.ID, bitlen) {
		return succ, nil
	}

	bestMatch := succ
	for _, entry := range n.FingerTable() {
		if ringid.IsInArc(target, self.ID, entry.ID, bitlen) {
			break
		}
		bestMatch = entry
	}

	if bestMatch.ID == self.ID {
		return self, nil
	}

	resp, err := n.transport.Send(ctx, addrOf(bestMatch), proto.Envelope{
		Kind:          proto.KindSuccReq,
		SourceID:      self.ID,
		RingSignature: n.RingSignature(),
		Payload:       proto.SuccReq{Target: target},
	}, RPCDeadline)
	if err != nil {
		return proto.NodeRef{}, fmt.Errorf("find successor for %d via %s: %w", target, addrOf(bestMatch), err)
	}

	body, ok := resp.Payload.(proto.SuccResp)
	if !ok || !body.Success {
		return proto.NodeRef{}, fmt.Errorf("find successor for %d: peer rejected request", target)
	}
	return body.Ref, nil
}

// FindPredecessor locates target's successor and asks it for its own
// predecessor, which is the node immediately before target on the ring.
func (n *Node) FindPredecessor(ctx context.Context, target uint64) (proto.NodeRef, error) {
	succ, err := n.FindSuccessor(ctx, target)
	if err != nil {
		return proto.NodeRef{}, err
	}

	if succ.ID == n.self.ID {
		return n.Predecessor(), nil
	}

	resp, err := n.transport.Send(ctx, addrOf(succ), proto.Envelope{
		Kind:          proto.KindPredReq,
		SourceID:      n.self.ID,
		RingSignature: n.RingSignature(),
		Payload:       proto.PredReq{Target: target},
	}, RPCDeadline)
	if err != nil {
		return proto.NodeRef{}, fmt.Errorf("find predecessor for %d via %s: %w", target, addrOf(succ), err)
	}

	body, ok := resp.Payload.(proto.PredResp)
	if !ok {
		return proto.NodeRef{}, fmt.Errorf("find predecessor for %d: unexpected response", target)
	}
	return body.Ref, nil
}

func addrOf(ref proto.NodeRef) string {
	return fmt.Sprintf("%s:%d", ref.IP, ref.Port)
}
