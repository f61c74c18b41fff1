package replica

import (
	"context"
	"os"
	"time"

	"chordkv/internal/chord/ringid"
)

// RunRepairLoop periodically walks this node's locally stored blobs and
// pushes copies of any that fall in (self, successor] to the current
// replica set, until ctx is canceled.
//
// Only that single arc is examined, matching the original prototype's
// documented best-effort limitation: a blob whose home moved further away
// than the immediate successor during a churn event is not proactively
// re-backed-up by this sweep alone.
func (e *Engine) RunRepairLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.repairOnce(ctx)
		}
	}
}

func (e *Engine) repairOnce(ctx context.Context) {
	succ := e.finder.Successor()
	self := e.finder.Self()
	if succ.ID == self.ID {
		return // solo node, nothing to replicate to yet
	}

	replicants, err := e.GetReplicants(ctx, e.k, nil)
	if err != nil {
		e.log.WithError(err).Debug("failed to compute replica set during repair sweep")
		return
	}

	entries, err := os.ReadDir(e.blobDir)
	if err != nil {
		e.log.WithError(err).Warn("failed to list blob directory during repair sweep")
		return
	}

	mod := uint64(1) << e.bitlen

	for _, replicant := range replicants {
		if replicant.ID == self.ID {
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			id := entry.Name()

			homeID, err := ringid.BlobHomeID(id, e.bitlen)
			if err != nil {
				continue // not a blob file (e.g. a stray .tmp from an aborted transfer)
			}
			if !ringid.IsInArc(homeID, (self.ID+1)%mod, succ.ID, e.bitlen) {
				continue
			}

			if e.checkRemote(ctx, replicant, id) {
				continue
			}

			e.log.WithField("blob_id", id).WithField("replicant", replicant.ID).Debug("backing up blob")
			if err := e.replicateLocalFile(ctx, replicant, id); err != nil {
				e.log.WithError(err).WithField("blob_id", id).Warn("failed to back up blob")
			}
		}
	}
}
