package clustermanager

import (
	"context"

	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/clustertypes"
	"github.com/infinidb/clusterd/internal/logger"
	"github.com/infinidb/clusterd/internal/peerclient"
)

func (m *Manager) connectToServer(fromNodeName, ip string, port int64) (*peerclient.PeerClient, error) {
	return m.dialPeer(fromNodeName, ip, port)
}

// AddNodeInfo admits a follower/learner into the cluster. It is leader-only.
// A duplicate discovered on the post-sync recheck is rejected and the
// freshly synced client is discarded, rather than treated as success.
func (m *Manager) AddNodeInfo(nodeInfo *clustertypes.NodeInfo) *clustererr.Status {
	m.mu.Lock()
	if m.thisNode.NodeRole != clustertypes.NodeRoleLeader {
		m.mu.Unlock()
		clustererr.FailFast("AddNodeInfo called on a non-leader node")
		return nil
	}
	if nodeInfo.NodeName == m.thisNode.NodeName {
		m.mu.Unlock()
		return clustererr.DuplicateNode(nodeInfo.NodeName)
	}
	if _, exists := m.otherNodeMap[nodeInfo.NodeName]; exists {
		m.mu.Unlock()
		return clustererr.DuplicateNode(nodeInfo.NodeName)
	}
	thisNodeName := m.thisNode.NodeName
	m.mu.Unlock()

	// Network I/O happens outside the lock: dial the joiner and sync the
	// WAL diff before touching membership state.
	client, err := m.connectToServer(thisNodeName, nodeInfo.IPAddress, nodeInfo.Port)
	if err != nil {
		return clustererr.UnexpectedError("dial joining node %s: %s", nodeInfo.NodeName, err)
	}

	if status := m.syncLogsOnRegistration(nodeInfo, client); status != nil {
		_ = client.UnInit(false)
		return status
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.thisNode.NodeRole != clustertypes.NodeRoleLeader {
		clustererr.FailFast("AddNodeInfo called on a non-leader node")
	}

	if _, exists := m.otherNodeMap[nodeInfo.NodeName]; exists {
		// Another registration raced in while the lock was released for
		// the dial and WAL sync above; reject this one and discard the
		// client we just opened rather than silently overwriting state.
		_ = client.UnInit(false)
		return clustererr.DuplicateNode(nodeInfo.NodeName)
	}

	m.otherNodeMap[nodeInfo.NodeName] = nodeInfo
	m.readerClientMap[nodeInfo.NodeName] = client
	return nil
}

// syncLogsOnRegistration is the leader-only WAL catch-up step: query the
// WAL diff since the joiner's txn_timestamp and ship it as a single
// synchronous SyncLog batch before membership is updated.
func (m *Manager) syncLogsOnRegistration(nodeInfo *clustertypes.NodeInfo, client *peerclient.PeerClient) *clustererr.Status {
	entries, err := m.env.Storage.GetDiffWALEntriesSince(nodeInfo.TxnTimestamp)
	if err != nil {
		return clustererr.UnexpectedError("fetch WAL diff for %s: %s", nodeInfo.NodeName, err)
	}

	logger.Trace("leader sending diff logs synchronously", logger.Ctx{"recipient": nodeInfo.NodeName, "count": len(entries)})

	raw := make([][]byte, 0, len(entries))
	for _, e := range entries {
		raw = append(raw, e.Encode())
	}

	return m.sendLogs(nodeInfo.NodeName, client, raw, true, true)
}

// sendLogs wraps a SyncLog dispatch: synchronous callers wait for the
// reply, fire-and-forget callers (learners during steady-state fan-out)
// do not.
func (m *Manager) sendLogs(nodeName string, client *peerclient.PeerClient, entries [][]byte, synchronize bool, onRegister bool) *clustererr.Status {
	t := peerclient.NewSyncLogTask(nodeName, entries, onRegister)
	client.Send(t)

	if !synchronize {
		return nil
	}

	code, message := t.Wait(context.Background())
	if code != 0 {
		logger.Error("failed to sync log to peer", logger.Ctx{"node": nodeName, "error": message})
		return clustererr.FromWire(code, message)
	}
	return nil
}

// RemoveNodeInfo is the leader-side admin removal path.
func (m *Manager) RemoveNodeInfo(nodeName string) *clustererr.Status {
	m.mu.Lock()
	if nodeName == m.thisNode.NodeName {
		m.mu.Unlock()
		return clustererr.InvalidNodeRole("can't remove current node: %s", nodeName)
	}
	if m.thisNode.NodeRole != clustertypes.NodeRoleLeader {
		m.mu.Unlock()
		return clustererr.InvalidNodeRole("can't remove node in %s mode", m.thisNode.NodeRole)
	}

	info, exists := m.otherNodeMap[nodeName]
	if !exists {
		m.mu.Unlock()
		return clustererr.NotExistNode(nodeName)
	}
	info.NodeStatus = clustertypes.NodeStatusRemoved

	client := m.readerClientMap[nodeName]
	delete(m.readerClientMap, nodeName)
	m.mu.Unlock()

	var status *clustererr.Status
	if client != nil {
		t := peerclient.NewChangeRoleTask(nodeName, "admin")
		client.Send(t)
		code, message := t.Wait(context.Background())
		if code != 0 {
			logger.Error("failed to change node role to admin", logger.Ctx{"node": nodeName, "error": message})
			status = clustererr.FromWire(code, message)
		}
	}

	m.mu.Lock()
	delete(m.otherNodeMap, nodeName)
	m.mu.Unlock()

	return status
}

// UpdateNodeByLeader applies an administrative membership change without
// the ChangeRole round trip RemoveNodeInfo performs.
func (m *Manager) UpdateNodeByLeader(nodeName string, op clustertypes.UpdateNodeOp) *clustererr.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.otherNodeMap[nodeName]
	if !exists {
		return clustererr.NotExistNode(nodeName)
	}

	switch op {
	case clustertypes.UpdateNodeRemove:
		delete(m.otherNodeMap, nodeName)
	case clustertypes.UpdateNodeLostConnection:
		info.NodeStatus = clustertypes.NodeStatusLostConnection
	}

	client, exists := m.readerClientMap[nodeName]
	if !exists {
		return clustererr.NotExistNode(nodeName)
	}

	switch op {
	case clustertypes.UpdateNodeRemove:
		_ = client.UnInit(true)
		delete(m.readerClientMap, nodeName)
	case clustertypes.UpdateNodeLostConnection:
		_ = client.UnInit(false)
		delete(m.readerClientMap, nodeName)
	}

	return nil
}
