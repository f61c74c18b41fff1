package node

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"

	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/transport"
)

// BlobStore is the narrow interface the node dispatcher needs from the
// replication engine to answer CHECK_FILE / FILE_SEND_REQUEST, kept
// separate so the node package never imports the replica package.
type BlobStore interface {
	HasBlob(id string) bool
	ReceiveBlob(conn net.Conn, id string, size int64) error
}

// Dispatch returns a transport.Handler bound to this node, routing each
// decoded envelope by Kind through a type switch over compile-time-checked
// concrete payload types, never a runtime isinstance check.
func (n *Node) Dispatch(blobs BlobStore) transport.Handler {
	return func(conn net.Conn, req proto.Envelope) {
		ctx := context.Background()

		// Adoption is the one RPC a brand-new, unsigned node can send.
		if req.Kind == proto.KindAdoptReq {
			resp := n.handleAdoptReq(req.RingSignature)
			n.reply(conn, proto.KindGenericResp, resp)
			return
		}
		// A join request also arrives unsigned, from a node with no ring
		// membership yet.
		if req.Kind == proto.KindJoinReq {
			body, ok := req.Payload.(proto.JoinReq)
			if !ok {
				n.reply(conn, proto.KindGenericResp, proto.GenericResp{Success: false, Message: "malformed join request"})
				return
			}
			resp := n.handleJoinReq(ctx, body)
			n.reply(conn, proto.KindJoinResp, resp)
			return
		}

		if !n.checkRingSignature(req.RingSignature) {
			n.log.WithField("peer", req.SourceID).Debug("rejecting message with invalid ring signature")
			n.reply(conn, proto.KindGenericResp, proto.GenericResp{Success: false, Message: errWrongSignature.Error()})
			return
		}

		switch body := req.Payload.(type) {
		case proto.SuccReq:
			ref, err := n.FindSuccessor(ctx, body.Target)
			if err != nil {
				n.reply(conn, proto.KindSuccResp, proto.SuccResp{Success: false})
				return
			}
			n.reply(conn, proto.KindSuccResp, proto.SuccResp{Success: true, Ref: ref})

		case proto.PredReq:
			n.reply(conn, proto.KindPredResp, proto.PredResp{Ref: n.Predecessor()})

		case proto.UpdateFTableReq:
			n.UpdateFingerTableStatic(body.From, body.To, body.NewOwner)
			n.setRingSignature(body.NewSignature)
			n.reply(conn, proto.KindSuccResp, proto.SuccResp{Success: true, Ref: n.Successor()})

		case proto.UpdateSuccReq:
			n.setSuccessor(body.Ref)
			// no reply: the original design's fire-and-forget notification

		case proto.UpdatePredReq:
			n.setPredecessor(body.Ref)
			// no reply, same as UpdateSuccReq

		case proto.UpdateAllFTablesReq:
			n.SetRefreshPending(true)
			n.reply(conn, proto.KindGenericResp, proto.GenericResp{Success: true})

		case proto.Ping:
			n.reply(conn, proto.KindPingResp, proto.PingResp{Succ: n.Successor(), Pred: n.Predecessor()})

		case proto.CheckFileReq:
			found := blobs != nil && blobs.HasBlob(body.BlobID)
			msg := "file not found"
			if found {
				msg = "file found"
			}
			n.reply(conn, proto.KindGenericResp, proto.GenericResp{Success: found, Message: msg})

		case proto.SendFileReq:
			n.reply(conn, proto.KindGenericResp, proto.GenericResp{Success: true})
			if blobs != nil {
				if err := blobs.ReceiveBlob(conn, body.BlobID, body.Size); err != nil {
					n.log.WithError(err).Warn("failed to receive replicated blob")
				}
			}

		default:
			n.log.WithField("kind", req.Kind).Debug("unhandled message kind")
		}
	}
}

func (n *Node) reply(conn net.Conn, kind proto.Kind, payload proto.Payload) {
	env := proto.Envelope{
		Kind:          kind,
		SourceID:      n.self.ID,
		RingSignature: n.RingSignature(),
		Payload:       payload,
	}
	if err := transport.Reply(conn, env); err != nil {
		n.log.WithError(err).Debug("failed to write reply")
	}
}

// Logger exposes the node's component-scoped logger for callers that run
// their own long-lived loops (e.g. the discovery handler in cmd/chordnode).
func (n *Node) Logger() *logrus.Entry {
	return n.log
}
