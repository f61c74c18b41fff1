package node

import (
	"context"
	"time"

	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/ringid"
)

// pingResult is what a live successor reports about its own neighbors.
type pingResult struct {
	pred proto.NodeRef
	succ proto.NodeRef
}

// pingNode sends a one-second PING and reports the peer's own
// predecessor/successor, or ok=false if it didn't answer in time.
func (n *Node) pingNode(ctx context.Context, target proto.NodeRef) (pingResult, bool) {
	resp, err := n.transport.Send(ctx, addrOf(target), proto.Envelope{
		Kind:          proto.KindPing,
		SourceID:      n.self.ID,
		RingSignature: n.RingSignature(),
		Payload:       proto.Ping{},
	}, RPCDeadline)
	if err != nil {
		return pingResult{}, false
	}

	body, ok := resp.Payload.(proto.PingResp)
	if !ok {
		return pingResult{}, false
	}
	return pingResult{pred: body.Pred, succ: body.Succ}, true
}

// Stabilize runs the periodic liveness and finger-table maintenance loop
// until ctx is canceled. It keeps a rolling two-deep fallback chain
// (successor's successor, and that node's successor) so a dead immediate
// successor can be bypassed without a full re-join.
//
// Predecessor failure is not detected here: it heals only via the next
// join between the dead predecessor and this node, or via the stabilization
// of the dead node's own predecessor, which promotes this node to its
// successor and sends it an UpdatePredReq.
func (n *Node) Stabilize(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.StabilizeInterval)
	defer ticker.Stop()

	fallback := n.Successor()
	fallbackFallback := n.Successor()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n.RefreshPending() {
				if err := n.UpdateAllFingerTables(ctx, nil, nil, nil); err != nil {
					n.log.WithError(err).Warn("deferred finger table refresh failed")
				} else {
					n.SetRefreshPending(false)
				}
			}

			succ := n.Successor()
			if succ.ID == n.self.ID {
				continue
			}

			n.log.WithField("successor", succ.ID).Debug("pinging successor")

			result, alive := n.pingNode(ctx, succ)
			if !alive {
				n.log.WithField("successor", succ.ID).Warn("successor died, stabilizing")

				_, backupAlive := n.pingNode(ctx, fallback)
				var newSucc proto.NodeRef
				if backupAlive {
					newSucc = fallback
				} else {
					newSucc = fallbackFallback
				}
				n.setSuccessor(newSucc)

				n.requestUpdatePredecessor(ctx, newSucc, n.self)

				mod := ringid.Modulus(n.cfg.IDBitLen)
				from := (n.self.ID + 1) % mod
				if err := n.UpdateAllFingerTables(ctx, &from, &newSucc.ID, &newSucc); err != nil {
					n.log.WithError(err).Warn("finger table re-announcement after failover failed")
				}

				n.log.Info("stabilization complete")
				continue
			}

			fallback = result.succ
			if result2, ok := n.pingNode(ctx, fallback); ok {
				fallbackFallback = result2.succ
			}
		}
	}
}
