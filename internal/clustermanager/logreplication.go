package clustermanager

import (
	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/clustertypes"
	"github.com/infinidb/clusterd/internal/logger"
	"github.com/infinidb/clusterd/internal/peerclient"
)

// PrepareLogs stages a WAL entry for the next SyncLogs fan-out. Callers
// append under their own transaction boundary; SyncLogs drains the batch.
func (m *Manager) PrepareLogs(raw []byte) {
	m.mu.Lock()
	m.logsToSync = append(m.logsToSync, raw)
	m.mu.Unlock()
}

type readerView struct {
	nodeName string
	client   *peerclient.PeerClient
}

// GetReadersInfo snapshots the currently alive followers and learners.
// Leader-only.
func (m *Manager) GetReadersInfo() (followers, learners []readerView, status *clustererr.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.thisNode.NodeRole != clustertypes.NodeRoleLeader {
		return nil, nil, clustererr.InvalidNodeRole("expect leader node")
	}

	for name, info := range m.otherNodeMap {
		if info.NodeStatus != clustertypes.NodeStatusAlive {
			continue
		}
		client, ok := m.readerClientMap[name]
		if !ok {
			continue
		}
		switch info.NodeRole {
		case clustertypes.NodeRoleFollower:
			followers = append(followers, readerView{nodeName: name, client: client})
		case clustertypes.NodeRoleLearner:
			learners = append(learners, readerView{nodeName: name, client: client})
		}
	}

	return followers, learners, nil
}

// SyncLogs fans the staged WAL batch out to every alive follower
// (synchronously) and learner (asynchronously via the learner dispatch
// pool). It repeats the snapshot-and-send loop, re-reading membership on
// every pass, until every reader in the latest snapshot has been sent the
// batch at least once, rather than making a single best-effort pass.
func (m *Manager) SyncLogs() *clustererr.Status {
	logger.Trace("sync logs to followers and learners")

	sent := make(map[string]bool)

	for {
		followers, learners, status := m.GetReadersInfo()
		if status != nil {
			return status
		}

		m.mu.Lock()
		batch := m.logsToSync
		m.mu.Unlock()

		for _, f := range followers {
			if sent[f.nodeName] {
				continue
			}
			if status := m.sendLogs(f.nodeName, f.client, batch, true, false); status == nil {
				sent[f.nodeName] = true
			}
		}

		for _, l := range learners {
			if sent[l.nodeName] {
				continue
			}
			if status := m.dispatchToLearner(l.nodeName, l.client, batch); status == nil {
				sent[l.nodeName] = true
			}
		}

		allSent := true
		for _, f := range followers {
			allSent = allSent && sent[f.nodeName]
		}
		for _, l := range learners {
			allSent = allSent && sent[l.nodeName]
		}
		if allSent {
			m.mu.Lock()
			m.logsToSync = nil
			m.mu.Unlock()
			return nil
		}
	}
}

// dispatchToLearner submits a fire-and-forget SyncLog send onto the bounded
// learner pool so a slow or unreachable learner can't stall the follower
// fan-out happening on the calling goroutine.
func (m *Manager) dispatchToLearner(nodeName string, client *peerclient.PeerClient, batch [][]byte) *clustererr.Status {
	m.mu.Lock()
	pool := m.learnerPool
	m.mu.Unlock()

	if pool == nil {
		return clustererr.UnexpectedError("learner dispatch pool not initialized")
	}

	err := pool.Submit(func() {
		if status := m.sendLogs(nodeName, client, batch, false, false); status != nil {
			logger.Error("async log dispatch to learner failed", logger.Ctx{"node": nodeName, "error": status.Error()})
		}
	})
	if err != nil {
		return clustererr.UnexpectedError("submit learner dispatch for %s: %s", nodeName, err)
	}
	return nil
}
