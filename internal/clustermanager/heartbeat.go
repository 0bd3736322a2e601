package clustermanager

import (
	"context"
	"time"

	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/clustertypes"
	"github.com/infinidb/clusterd/internal/logger"
	"github.com/infinidb/clusterd/internal/peerclient"
	"github.com/infinidb/clusterd/internal/task"
	"github.com/infinidb/clusterd/internal/wal"
)

// RegisterToLeader sends the initial Register RPC and, on success, spawns
// the periodic heartbeat task. Used by followers and learners.
func (m *Manager) RegisterToLeader() *clustererr.Status {
	m.mu.Lock()
	status := m.registerToLeaderNoLock()
	m.mu.Unlock()

	if status != nil {
		return status
	}

	interval := time.Duration(m.env.heartbeatIntervalOrDefaultFromLeader(m)) * time.Millisecond
	stop, reset := task.Start(m.heartBeatToLeader, task.Every(interval))
	m.hbStop = stop
	m.hbReset = reset
	return nil
}

// heartbeatIntervalOrDefaultFromLeader reads the interval the leader
// published during Register, falling back to the package default.
func (e Env) heartbeatIntervalOrDefaultFromLeader(m *Manager) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leaderNode != nil && m.leaderNode.HeartbeatIntervalMS > 0 {
		return m.leaderNode.HeartbeatIntervalMS
	}
	return clustertypes.DefaultHeartbeatIntervalMS
}

func (m *Manager) registerToLeaderNoLock() *clustererr.Status {
	var txnTimestamp uint64
	if m.env.Storage.ReaderInitPhase() == wal.ReaderInitPhase2 {
		txnTimestamp = m.thisNode.TxnTimestamp
	}

	t := peerclient.NewRegisterTask(m.thisNode.NodeName, m.thisNode.NodeRole, m.thisNode.IPAddress, m.thisNode.Port, txnTimestamp)
	m.clientToLeader.Send(t)

	// Sending happens under the main mutex here only because register is a
	// one-shot bootstrap call with no steady-state contention; the
	// recurring heartbeat path below releases the lock before any I/O.
	code, message := t.Wait(context.Background())
	if code != 0 {
		return clustererr.FromWire(code, message)
	}

	m.leaderNode.NodeName = t.LeaderName
	m.leaderNode.NodeStatus = clustertypes.NodeStatusAlive
	m.leaderNode.LastUpdateTS = nowMillis()
	if t.HeartbeatIntervalMS == 0 {
		m.leaderNode.HeartbeatIntervalMS = clustertypes.DefaultHeartbeatIntervalMS
	} else {
		m.leaderNode.HeartbeatIntervalMS = t.HeartbeatIntervalMS
	}

	return nil
}

// heartBeatToLeader is the follower/learner periodic task body. Network I/O
// (reconnect, Send+Wait) happens without holding the main mutex; the mutex
// is only taken to read/write NodeInfo fields.
func (m *Manager) heartBeatToLeader(ctx context.Context) {
	m.mu.Lock()
	client := m.clientToLeader
	thisNode := m.thisNode
	m.mu.Unlock()

	if client == nil || thisNode == nil {
		return
	}

	if !client.ServerConnected() {
		if err := client.Reconnect(); err != nil {
			logger.Error("can't reconnect to leader", logger.Ctx{"error": err.Error()})
			m.mu.Lock()
			m.thisNode.LastUpdateTS = nowMillis()
			m.mu.Unlock()
			return
		}
	}

	m.mu.Lock()
	m.thisNode.LastUpdateTS = nowMillis()
	name, role, ip, port := m.thisNode.NodeName, m.thisNode.NodeRole, m.thisNode.IPAddress, m.thisNode.Port
	m.mu.Unlock()

	hbTask := peerclient.NewHeartBeatTask(name, role, ip, port, m.env.Storage.CurrentCommitTS())
	client.Send(hbTask)
	code, message := hbTask.Wait(ctx)

	if code != 0 {
		logger.Error("can't connect to leader", logger.Ctx{"error": message})
		m.mu.Lock()
		m.leaderNode.NodeStatus = clustertypes.NodeStatusTimeout
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.leaderNode.NodeStatus = clustertypes.NodeStatusAlive
	m.leaderNode.LastUpdateTS = nowMillis()
	m.leaderNode.LeaderTerm = hbTask.LeaderTerm

	m.thisNode.HeartbeatCount++

	m.updateNodeInfoNoLock(hbTask.OtherNodes)

	m.thisNode.NodeStatus = hbTask.SenderStatus
}

// CheckHeartBeat starts the leader-side timeout sweep. Only this manager's
// own role may start it; a given Manager is only ever one role, so
// RegisterToLeader and CheckHeartBeat populate the same hbStop/hbReset
// fields safely: the init state machine guarantees only one of the two is
// ever called.
func (m *Manager) CheckHeartBeat() *clustererr.Status {
	m.mu.Lock()
	if m.thisNode.NodeRole != clustertypes.NodeRoleLeader {
		m.mu.Unlock()
		clustererr.FailFast("CheckHeartBeat called on a non-leader node")
		return nil
	}
	interval := time.Duration(m.thisNode.HeartbeatIntervalMS) * time.Millisecond
	m.mu.Unlock()

	stop, reset := task.Start(m.checkHeartBeatInner, task.Every(interval))
	m.hbStop = stop
	m.hbReset = reset
	return nil
}

func (m *Manager) checkHeartBeatInner(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.thisNode.NodeRole != clustertypes.NodeRoleLeader {
		clustererr.FailFast("checkHeartBeatInner running on a non-leader node")
	}

	m.thisNode.LastUpdateTS = nowMillis()

	for name, info := range m.otherNodeMap {
		if info.NodeStatus == clustertypes.NodeStatusAlive {
			if info.LastUpdateTS+2*m.thisNode.HeartbeatIntervalMS < m.thisNode.LastUpdateTS {
				info.NodeStatus = clustertypes.NodeStatusTimeout
				logger.Info("node is timeout", logger.Ctx{"node": name})
			}
		}
	}
}

// UpdateNodeInfoByHeartBeat is the leader-side heartbeat ingest. An
// unrecognized sender is rejected with NotExistNode rather than
// auto-admitted, forcing a proper Register round trip through AddNodeInfo's
// WAL sync.
func (m *Manager) UpdateNodeInfoByHeartBeat(sender *clustertypes.NodeInfo) ([]peerclient.OtherNodeView, int64, clustertypes.NodeStatus, *clustererr.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.thisNode.NodeRole != clustertypes.NodeRoleLeader {
		clustererr.FailFast("UpdateNodeInfoByHeartBeat called on a non-leader node")
	}

	otherNodes := make([]peerclient.OtherNodeView, 0, len(m.otherNodeMap))
	leaderTerm := m.thisNode.LeaderTerm

	existing, found := m.otherNodeMap[sender.NodeName]
	var senderStatus clustertypes.NodeStatus

	if found {
		if existing.IPAddress != sender.IPAddress || existing.Port != sender.Port {
			return nil, 0, 0, clustererr.NodeInfoUpdated(sender.NodeName)
		}

		switch existing.NodeStatus {
		case clustertypes.NodeStatusAlive, clustertypes.NodeStatusTimeout:
			existing.TxnTimestamp = sender.TxnTimestamp
			existing.LastUpdateTS = nowMillis()
			existing.HeartbeatCount++
			senderStatus = clustertypes.NodeStatusAlive
		case clustertypes.NodeStatusRemoved:
			senderStatus = clustertypes.NodeStatusRemoved
		case clustertypes.NodeStatusLostConnection:
			logger.Error("node can't be connected but still sends heartbeats", logger.Ctx{"node": existing.NodeName})
			senderStatus = clustertypes.NodeStatusLostConnection
		case clustertypes.NodeStatusInvalid:
			clustererr.FailFast("invalid node status observed for " + existing.NodeName)
		}
	} else {
		return nil, 0, 0, clustererr.NotExistNode(sender.NodeName)
	}

	for name, info := range m.otherNodeMap {
		if name == sender.NodeName {
			continue
		}
		if info.NodeStatus != clustertypes.NodeStatusAlive && info.NodeStatus != clustertypes.NodeStatusTimeout {
			clustererr.FailFast("invalid node status in gossip projection for " + name)
		}
		otherNodes = append(otherNodes, peerclient.OtherNodeView{
			NodeName:     info.NodeName,
			NodeIP:       info.IPAddress,
			NodePort:     info.Port,
			NodeType:     nodeTypeWire(info.NodeRole),
			NodeStatus:   nodeStatusWire(info.NodeStatus),
			TxnTimestamp: info.TxnTimestamp,
			HBCount:      info.HeartbeatCount,
		})
	}

	return otherNodes, leaderTerm, senderStatus, nil
}

// updateNodeInfoNoLock is the follower/learner gossip reconciliation step.
// Callers must already hold the main mutex.
func (m *Manager) updateNodeInfoNoLock(views []peerclient.OtherNodeView) {
	seen := make(map[string]bool, len(m.otherNodeMap))
	for name := range m.otherNodeMap {
		seen[name] = false
	}

	now := nowMillis()
	for _, v := range views {
		existing, ok := m.otherNodeMap[v.NodeName]
		if !ok {
			m.otherNodeMap[v.NodeName] = &clustertypes.NodeInfo{
				NodeName:     v.NodeName,
				IPAddress:    v.NodeIP,
				Port:         v.NodePort,
				NodeRole:     nodeTypeFromWire(v.NodeType),
				NodeStatus:   nodeStatusFromWire(v.NodeStatus),
				TxnTimestamp: v.TxnTimestamp,
				HeartbeatCount: v.HBCount,
				LastUpdateTS: now,
			}
			continue
		}

		existing.TxnTimestamp = v.TxnTimestamp
		existing.IPAddress = v.NodeIP
		existing.Port = v.NodePort
		existing.NodeRole = nodeTypeFromWire(v.NodeType)
		existing.NodeStatus = nodeStatusFromWire(v.NodeStatus)
		existing.LastUpdateTS = now
		seen[v.NodeName] = true
	}

	for name, wasSeen := range seen {
		if !wasSeen {
			delete(m.otherNodeMap, name)
		}
	}
}

func nodeTypeWire(r clustertypes.NodeRole) string {
	switch r {
	case clustertypes.NodeRoleLeader:
		return "leader"
	case clustertypes.NodeRoleFollower:
		return "follower"
	case clustertypes.NodeRoleLearner:
		return "learner"
	default:
		return "unknown"
	}
}

func nodeTypeFromWire(s string) clustertypes.NodeRole {
	switch s {
	case "leader":
		return clustertypes.NodeRoleLeader
	case "follower":
		return clustertypes.NodeRoleFollower
	case "learner":
		return clustertypes.NodeRoleLearner
	default:
		return clustertypes.NodeRoleUninitialized
	}
}

func nodeStatusWire(s clustertypes.NodeStatus) string {
	switch s {
	case clustertypes.NodeStatusAlive:
		return "alive"
	case clustertypes.NodeStatusTimeout:
		return "timeout"
	default:
		return "invalid"
	}
}

func nodeStatusFromWire(s string) clustertypes.NodeStatus {
	switch s {
	case "alive":
		return clustertypes.NodeStatusAlive
	case "timeout":
		return clustertypes.NodeStatusTimeout
	case "lost_connection":
		return clustertypes.NodeStatusLostConnection
	case "removed":
		return clustertypes.NodeStatusRemoved
	default:
		return clustertypes.NodeStatusInvalid
	}
}
