package replica

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/ringid"
)

// transferChunkSize matches the original prototype's 1024-byte read/write
// loop for streaming a blob over an already-open connection.
const transferChunkSize = 1024

// StoreBlob computes data's content-hash id, routes it to its home node
// (the successor of the hex id read as an integer mod 2^m), and lands it there — locally if
// this engine's node is the home, or via a streamed FILE_SEND_REQUEST
// otherwise. Propagation to the rest of the replica set happens
// asynchronously via the repair sweep, not synchronously here.
func (e *Engine) StoreBlob(ctx context.Context, data []byte) (string, error) {
	id := ringid.BlobID(data)

	homeID, err := ringid.BlobHomeID(id, e.bitlen)
	if err != nil {
		return "", fmt.Errorf("compute home id for blob %s: %w", id, err)
	}
	home, err := e.finder.FindSuccessor(ctx, homeID)
	if err != nil {
		return "", fmt.Errorf("locate home for blob %s: %w", id, err)
	}

	if home.ID == e.finder.Self().ID {
		if err := e.writeLocal(id, data); err != nil {
			return "", err
		}
		return id, nil
	}

	if err := e.sendBlobTo(ctx, home, id, data); err != nil {
		return "", fmt.Errorf("send blob %s to home %d: %w", id, home.ID, err)
	}
	return id, nil
}

func (e *Engine) writeLocal(id string, data []byte) error {
	path := e.blobPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", id, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize blob %s: %w", id, err)
	}
	return nil
}

func (e *Engine) blobPath(id string) string {
	return filepath.Join(e.blobDir, id)
}

// HasBlob reports whether id is present locally, backing CHECK_FILE.
func (e *Engine) HasBlob(id string) bool {
	info, err := os.Stat(e.blobPath(id))
	return err == nil && !info.IsDir()
}

// ReadBlob returns a locally stored blob's bytes.
func (e *Engine) ReadBlob(id string) ([]byte, error) {
	return os.ReadFile(e.blobPath(id))
}

// checkRemote asks target whether it already has id, backing the repair
// sweep's "don't resend what's already there" check.
func (e *Engine) checkRemote(ctx context.Context, target proto.NodeRef, id string) bool {
	resp, err := e.transport.Send(ctx, addrOf(target), proto.Envelope{
		Kind:          proto.KindCheckFileReq,
		SourceID:      e.finder.Self().ID,
		RingSignature: e.finder.RingSignature(),
		Payload:       proto.CheckFileReq{BlobID: id},
	}, 2*time.Second)
	if err != nil {
		return false
	}
	body, ok := resp.Payload.(proto.GenericResp)
	return ok && body.Success
}

// sendBlobTo streams a local blob's already-loaded bytes to target.
func (e *Engine) sendBlobTo(ctx context.Context, target proto.NodeRef, id string, data []byte) error {
	conn, resp, err := e.transport.OpenStream(ctx, addrOf(target), proto.Envelope{
		Kind:          proto.KindSendFileReq,
		SourceID:      e.finder.Self().ID,
		RingSignature: e.finder.RingSignature(),
		Payload:       proto.SendFileReq{BlobID: id, Size: int64(len(data))},
	}, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	body, ok := resp.Payload.(proto.GenericResp)
	if !ok || !body.Success {
		return fmt.Errorf("peer declined blob %s", id)
	}

	for offset := 0; offset < len(data); offset += transferChunkSize {
		end := offset + transferChunkSize
		if end > len(data) {
			end = len(data)
		}
		if _, err := conn.Write(data[offset:end]); err != nil {
			return fmt.Errorf("stream blob %s: %w", id, err)
		}
	}
	return nil
}

// replicateLocalFile reads a blob already on disk and streams it to
// target, used by the repair sweep (it reads, StoreBlob/sendBlobTo take
// already-in-memory data for the API path).
func (e *Engine) replicateLocalFile(ctx context.Context, target proto.NodeRef, id string) error {
	data, err := e.ReadBlob(id)
	if err != nil {
		return fmt.Errorf("read local blob %s: %w", id, err)
	}
	return e.sendBlobTo(ctx, target, id, data)
}

// ReceiveBlob reads size bytes off conn and writes them to the blob
// directory, discarding the file if the stream came up short — a torn
// transfer is worse than no replica at all.
func (e *Engine) ReceiveBlob(conn net.Conn, id string, size int64) error {
	path := e.blobPath(id)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create blob %s: %w", id, err)
	}

	written, copyErr := io.CopyN(f, conn, size)
	closeErr := f.Close()

	if copyErr != nil && copyErr != io.EOF {
		os.Remove(tmp)
		return fmt.Errorf("receive blob %s: %w", id, copyErr)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize blob %s: %w", id, closeErr)
	}
	if written < size {
		os.Remove(tmp)
		return fmt.Errorf("blob %s is corrupted: got %d of %d bytes, discarding", id, written, size)
	}

	return os.Rename(tmp, path)
}

func addrOf(ref proto.NodeRef) string {
	return fmt.Sprintf("%s:%d", ref.IP, ref.Port)
}
