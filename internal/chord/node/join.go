package node

import (
	"context"
	"fmt"

	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/ringid"
)

// RequestJoin asks the node at seedAddr to admit this node into its ring.
func (n *Node) RequestJoin(ctx context.Context, seedIP string, seedPort int) error {
	resp, err := n.transport.Send(ctx, fmt.Sprintf("%s:%d", seedIP, seedPort), proto.Envelope{
		Kind:          proto.KindJoinReq,
		SourceID:      n.self.ID,
		RingSignature: "",
		Payload: proto.JoinReq{
			IP:     n.self.IP,
			Port:   n.self.Port,
			ID:     n.self.ID,
			BitLen: n.self.BitLen,
		},
	}, RPCDeadline)
	if err != nil {
		return fmt.Errorf("request join via %s:%d: %w", seedIP, seedPort, err)
	}

	body, ok := resp.Payload.(proto.JoinResp)
	if !ok {
		return fmt.Errorf("request join via %s:%d: unexpected response", seedIP, seedPort)
	}
	if !body.Success {
		return fmt.Errorf("join rejected: %s", body.Message)
	}

	n.setSuccessor(body.Succ)
	n.setPredecessor(body.Pred)
	n.setRingSignature(body.RingSignature)

	n.log.Info("joined ring")
	return n.UpdateAllFingerTables(ctx, nil, nil, nil)
}

// handleJoinReq admits a joining node into the ring and wires its
// predecessor/successor neighbors to it. Requires no prior ring signature
// — it is how a brand-new member is first authenticated onto the ring.
func (n *Node) handleJoinReq(ctx context.Context, req proto.JoinReq) proto.JoinResp {
	mod := ringid.Modulus(n.cfg.IDBitLen)
	if req.ID >= mod {
		return proto.JoinResp{Success: false, Message: "your id is not valid"}
	}

	succ, err := n.FindSuccessor(ctx, req.ID)
	if err != nil {
		return proto.JoinResp{Success: false, Message: err.Error()}
	}
	if succ.ID == req.ID {
		return proto.JoinResp{Success: false, Message: "your id is already being used"}
	}

	pred, err := n.FindPredecessor(ctx, req.ID)
	if err != nil {
		return proto.JoinResp{Success: false, Message: err.Error()}
	}

	newRef := proto.NodeRef{IP: req.IP, Port: req.Port, ID: req.ID, BitLen: n.cfg.IDBitLen}

	n.requestUpdateSuccessor(ctx, pred, newRef)
	n.requestUpdatePredecessor(ctx, succ, newRef)

	return proto.JoinResp{
		Success:       true,
		Message:       "welcome to the ring",
		Succ:          succ,
		Pred:          pred,
		RingSignature: n.RingSignature(),
	}
}

// handleAdoptReq accepts an adoption offer only if this node is currently
// isolated (its own predecessor and successor). A node already wired into
// a ring cannot be adopted into another.
func (n *Node) handleAdoptReq(newSignature string) proto.GenericResp {
	self := n.self
	if n.Predecessor().ID == self.ID && n.Successor().ID == self.ID {
		n.setRingSignature(newSignature)
		return proto.GenericResp{Success: true}
	}
	return proto.GenericResp{Success: false, Message: errHasFamily.Error()}
}

// JoinNode is the discovery-driven counterpart to RequestJoin: having
// heard about ref via multicast, find where it belongs on the ring, offer
// it adoption, and wire it in on success.
func (n *Node) JoinNode(ctx context.Context, ref proto.NodeRef) error {
	succ, err := n.FindSuccessor(ctx, ref.ID)
	if err != nil {
		return err
	}
	if succ.ID == ref.ID {
		return nil // already in the ring
	}

	pred, err := n.FindPredecessor(ctx, succ.ID)
	if err != nil {
		return err
	}

	n.log.WithField("peer", addrOf(ref)).Debug("attempting to adopt discovered node")

	resp, err := n.transport.Send(ctx, addrOf(ref), proto.Envelope{
		Kind:          proto.KindAdoptReq,
		SourceID:      n.self.ID,
		RingSignature: n.RingSignature(),
		Payload:       proto.AdoptReq{},
	}, RPCDeadline)
	if err != nil {
		n.log.WithError(err).Debug("cannot adopt discovered node")
		return nil
	}

	body, ok := resp.Payload.(proto.GenericResp)
	if !ok || !body.Success {
		n.log.Debug("discovered node declined adoption")
		return nil
	}

	n.requestUpdateSuccessor(ctx, ref, succ)
	n.requestUpdatePredecessor(ctx, ref, pred)
	n.requestUpdateSuccessor(ctx, pred, ref)
	n.requestUpdatePredecessor(ctx, succ, ref)

	n.log.WithField("peer", addrOf(ref)).Info("adopted discovered node into ring")
	return nil
}

func (n *Node) requestUpdateSuccessor(ctx context.Context, target, newSucc proto.NodeRef) {
	if target.ID == n.self.ID {
		n.setSuccessor(newSucc)
		return
	}
	env := proto.Envelope{
		Kind:          proto.KindUpdateSuccReq,
		SourceID:      n.self.ID,
		RingSignature: n.RingSignature(),
		Payload:       proto.UpdateSuccReq{Ref: newSucc},
	}
	if err := n.transport.SendOneWay(ctx, addrOf(target), env, RPCDeadline); err != nil {
		n.log.WithError(err).Debug("failed to notify peer of new successor")
	}
}

func (n *Node) requestUpdatePredecessor(ctx context.Context, target, newPred proto.NodeRef) {
	if target.ID == n.self.ID {
		n.setPredecessor(newPred)
		return
	}
	env := proto.Envelope{
		Kind:          proto.KindUpdatePredReq,
		SourceID:      n.self.ID,
		RingSignature: n.RingSignature(),
		Payload:       proto.UpdatePredReq{Ref: newPred},
	}
	if err := n.transport.SendOneWay(ctx, addrOf(target), env, RPCDeadline); err != nil {
		n.log.WithError(err).Debug("failed to notify peer of new predecessor")
	}
}
