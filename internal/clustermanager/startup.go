package clustermanager

import (
	"fmt"

	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/logger"
	"github.com/infinidb/clusterd/internal/wal"
)

// ApplySyncedLogNolock replays a SyncLog batch whose on_startup flag is
// unset; this includes the catch-up batch the leader sends on registration
// as well as steady-state fan-out. It touches only the storage collaborator
// and takes no Manager lock.
func (m *Manager) ApplySyncedLogNolock(syncedLogs [][]byte) *clustererr.Status {
	var lastTxnID uint64
	var lastCommitTS uint64

	for _, raw := range syncedLogs {
		entry, err := wal.ReadEntry(raw)
		if err != nil {
			return clustererr.UnexpectedError("decode synced log entry: %s", err)
		}
		logger.Debug("applying synced wal entry", logger.Ctx{"entry": entry.String()})

		if err := m.env.Storage.ReplayWALEntry(entry, false); err != nil {
			return clustererr.UnexpectedError("replay wal entry %d: %s", entry.TxnID, err)
		}
		lastTxnID = entry.TxnID
		lastCommitTS = entry.CommitTS
	}

	logger.Info("replicated from leader", logger.Ctx{"commit_ts": lastCommitTS, "txn_id": lastTxnID})

	m.env.Storage.SetNextTxnID(lastTxnID)
	if err := m.env.Storage.UpdateCommitState(lastCommitTS, 0); err != nil {
		return clustererr.UnexpectedError("update commit state: %s", err)
	}
	m.env.Storage.SetStartTS(lastCommitTS)

	return nil
}

// ContinueStartup replays a bootstrap WAL batch, i.e. a SyncLog batch with
// on_startup set; the leader's registration catch-up is sent with that flag
// unset and goes to ApplySyncedLogNolock. It enforces the checkpoint-placement
// invariant: every command up to and including the
// last checkpoint command in a given entry may be a checkpoint command, but
// once a non-checkpoint command is seen, no later command in the replay may
// be a checkpoint — a reordered or truncated bootstrap log is an
// unrecoverable invariant violation rather than something to silently
// tolerate.
func (m *Manager) ContinueStartup(syncedLogs [][]byte) *clustererr.Status {
	isCheckpointPhase := true
	var lastCommitTS uint64

	for _, raw := range syncedLogs {
		entry, err := wal.ReadEntry(raw)
		if err != nil {
			return clustererr.UnexpectedError("decode startup log entry: %s", err)
		}

		for _, cmd := range entry.Cmds {
			if isCheckpointPhase {
				if cmd.Type != wal.CommandCheckpoint {
					isCheckpointPhase = false
				}
			} else if cmd.Type == wal.CommandCheckpoint {
				clustererr.FailFast(fmt.Sprintf("expected non-checkpoint log in entry %d", entry.TxnID))
			}
		}

		logger.Debug("replaying startup wal entry", logger.Ctx{"entry": entry.String()})
		if err := m.env.Storage.ReplayWALEntry(entry, true); err != nil {
			return clustererr.UnexpectedError("replay startup wal entry %d: %s", entry.TxnID, err)
		}
		lastCommitTS = entry.CommitTS
	}

	m.env.Storage.SetReaderStorageContinue(lastCommitTS + 1)
	return nil
}
