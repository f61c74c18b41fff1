package replica

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"chordkv/internal/chord/proto"
)

// ring3 is a fixed three-node ring (ids 10 -> 20 -> 30 -> wraps to 10)
// used to exercise GetReplicants and the repair sweep without any real
// network or TLS.
type ring3 struct {
	mu      sync.Mutex
	engines map[uint64]*Engine
	succOf  map[uint64]proto.NodeRef
}

func (r *ring3) Send(ctx context.Context, addr string, env proto.Envelope, _ time.Duration) (proto.Envelope, error) {
	target := r.engineAt(addr)
	if target == nil {
		return proto.Envelope{}, errNoNode(addr)
	}
	switch body := env.Payload.(type) {
	case proto.CheckFileReq:
		return proto.Envelope{Payload: proto.GenericResp{Success: target.HasBlob(body.BlobID)}}, nil
	}
	return proto.Envelope{}, errNoNode(addr)
}

func (r *ring3) OpenStream(ctx context.Context, addr string, env proto.Envelope, _ time.Duration) (net.Conn, proto.Envelope, error) {
	target := r.engineAt(addr)
	if target == nil {
		return nil, proto.Envelope{}, errNoNode(addr)
	}
	body := env.Payload.(proto.SendFileReq)

	clientConn, serverConn := net.Pipe()
	go func() {
		defer serverConn.Close()
		_ = target.ReceiveBlob(serverConn, body.BlobID, body.Size)
	}()
	return clientConn, proto.Envelope{Payload: proto.GenericResp{Success: true}}, nil
}

func (r *ring3) engineAt(addr string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.engines {
		if addrOf(e.finder.Self()) == addr {
			return e
		}
	}
	return nil
}

type errNoNode string

func (e errNoNode) Error() string { return "no node at " + string(e) }

// fakeFinder serves a fixed ring topology (3 nodes, ids 10/20/30).
type fakeFinder struct {
	self proto.NodeRef
	succ proto.NodeRef
	ring *ring3
}

func (f *fakeFinder) Self() proto.NodeRef      { return f.self }
func (f *fakeFinder) Successor() proto.NodeRef { return f.succ }
func (f *fakeFinder) RingSignature() string    { return "ring3-fake-signature" }
func (f *fakeFinder) FindSuccessor(ctx context.Context, target uint64) (proto.NodeRef, error) {
	// Three nodes on an 8-bit ring: 10, 20, 30.
	switch {
	case target <= 10:
		return f.ring.succOf[0], nil
	case target <= 20:
		return f.ring.succOf[10], nil
	case target <= 30:
		return f.ring.succOf[20], nil
	default:
		return f.ring.succOf[30], nil
	}
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(discardWriter{})
	return logrus.NewEntry(log)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func buildRing3(t *testing.T) (*ring3, map[uint64]*Engine) {
	t.Helper()
	r := &ring3{engines: make(map[uint64]*Engine)}

	nodeRefs := map[uint64]proto.NodeRef{
		10: {IP: "10.0.0.1", Port: 5000, ID: 10, BitLen: 8},
		20: {IP: "10.0.0.2", Port: 5000, ID: 20, BitLen: 8},
		30: {IP: "10.0.0.3", Port: 5000, ID: 30, BitLen: 8},
	}
	r.succOf = map[uint64]proto.NodeRef{
		0:  nodeRefs[10],
		10: nodeRefs[20],
		20: nodeRefs[30],
		30: nodeRefs[10],
	}

	succFor := map[uint64]proto.NodeRef{10: nodeRefs[20], 20: nodeRefs[30], 30: nodeRefs[10]}

	for id, ref := range nodeRefs {
		finder := &fakeFinder{self: ref, succ: succFor[id], ring: r}
		engine := New(finder, r, t.TempDir(), 8, 3, testLogger())
		r.engines[id] = engine
	}
	return r, r.engines
}

func TestGetReplicantsWalksSuccessorChain(t *testing.T) {
	_, engines := buildRing3(t)
	e10 := engines[10]

	got, err := e10.GetReplicants(context.Background(), 3, nil)
	if err != nil {
		t.Fatalf("GetReplicants: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetReplicants returned %d nodes, want 3", len(got))
	}
	if got[0].ID != 10 || got[1].ID != 20 || got[2].ID != 30 {
		t.Fatalf("unexpected replica order: %+v", got)
	}
}

func TestGetReplicantsStopsAtRingSize(t *testing.T) {
	_, engines := buildRing3(t)
	e10 := engines[10]

	// Ask for more replicas than ring members; the walk must stop once it
	// wraps back to the origin rather than looping forever.
	got, err := e10.GetReplicants(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("GetReplicants: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("GetReplicants returned %d nodes, want 3 (ring size)", len(got))
	}
}

func TestStoreBlobLandsOnHomeNode(t *testing.T) {
	r, engines := buildRing3(t)
	e10 := engines[10]

	data := []byte("hello chord")
	id, err := e10.StoreBlob(context.Background(), data)
	if err != nil {
		t.Fatalf("StoreBlob: %v", err)
	}

	// Whichever node is actually home for this id should have the file;
	// find it by asking each engine.
	var found bool
	for _, e := range engines {
		if e.HasBlob(id) {
			found = true
		}
	}
	if !found {
		t.Fatalf("blob %s not found on any node after StoreBlob", id)
	}
	_ = r
}

func TestReceiveBlobDiscardsShortTransfer(t *testing.T) {
	_, engines := buildRing3(t)
	e := engines[10]

	clientConn, serverConn := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- e.ReceiveBlob(serverConn, "deadbeef", 100)
	}()

	clientConn.Write([]byte("short"))
	clientConn.Close()

	if err := <-done; err == nil {
		t.Fatal("expected error for a short blob transfer")
	}

	if _, err := os.Stat(filepath.Join(e.blobDir, "deadbeef")); err == nil {
		t.Fatal("short transfer should not leave a blob file behind")
	}
}

func TestRepairOnceSkipsWhenSolo(t *testing.T) {
	_, engines := buildRing3(t)
	e := engines[10]
	// Force solo by pointing successor at self.
	e.finder.(*fakeFinder).succ = e.finder.Self()
	e.repairOnce(context.Background()) // must not panic or block
}
