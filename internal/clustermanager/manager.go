// Package clustermanager implements the membership state machine and
// replication orchestrator: leader-side registration and log fan-out,
// follower/learner registration and heartbeating, and the gossip
// reconciliation that keeps readers' views of the cluster eventually
// consistent with the leader's.
package clustermanager

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/clustertypes"
	"github.com/infinidb/clusterd/internal/logger"
	"github.com/infinidb/clusterd/internal/peerclient"
)

// Manager is the ClusterManager (C4): the membership state machine and
// replication orchestrator. A single mutex guards every map and NodeInfo
// field below; the heartbeat lifecycle uses its own control channel and
// never holds the main mutex while performing network I/O.
type Manager struct {
	env Env

	mu sync.Mutex

	thisNode   *clustertypes.NodeInfo
	leaderNode *clustertypes.NodeInfo

	otherNodeMap    map[string]*clustertypes.NodeInfo
	readerClientMap map[string]*peerclient.PeerClient // leader only
	clientToLeader  *peerclient.PeerClient             // follower/learner only

	logsToSync [][]byte

	followerCount uint

	hbStop  func(timeout time.Duration) error
	hbReset func()

	learnerPool *ants.Pool

	// dialPeer opens a PeerClient to a newly-registering node. It is a
	// field rather than a direct peerclient.New call so tests can
	// substitute an in-process fake transport instead of dialing real
	// sockets; production code never overrides it.
	dialPeer func(fromNodeName, ip string, port int64) (*peerclient.PeerClient, error)
}

// New constructs an uninitialized Manager. Call one of InitAsLeader,
// InitAsFollower, InitAsLearner before using it.
func New(env Env) *Manager {
	return &Manager{
		env:             env,
		otherNodeMap:    make(map[string]*clustertypes.NodeInfo),
		readerClientMap: make(map[string]*peerclient.PeerClient),
		dialPeer:        dialPeerHTTP,
	}
}

func dialPeerHTTP(fromNodeName, ip string, port int64) (*peerclient.PeerClient, error) {
	client := peerclient.New(fromNodeName, ip, port)
	if err := client.Init(); err != nil {
		return nil, err
	}
	return client, nil
}

// nowMillis is the wall-clock reading stamped into NodeInfo.LastUpdateTS.
// Millisecond resolution keeps the 2x-interval comparison in
// checkHeartBeatInner correct even for sub-second heartbeat intervals,
// without any unit conversion at the comparison site.
func nowMillis() int64 { return time.Now().UnixMilli() }

// InitAsLeader establishes this process as the cluster leader. Re-init
// before UnInit fails with ErrorInit, enforcing invariant 1 (exactly one
// of Leader/Follower/Learner may be set for this_node).
func (m *Manager) InitAsLeader(nodeName string) *clustererr.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.thisNode != nil {
		return clustererr.ErrorInit("init node as leader: already initialized")
	}

	m.thisNode = &clustertypes.NodeInfo{
		NodeName:            nodeName,
		NodeRole:            clustertypes.NodeRoleLeader,
		NodeStatus:          clustertypes.NodeStatusAlive,
		IPAddress:           m.env.PeerServerIP,
		Port:                m.env.PeerServerPort,
		LastUpdateTS:        nowMillis(),
		HeartbeatIntervalMS: m.env.heartbeatIntervalOrDefault(),
		LeaderTerm:          1,
	}

	pool, err := ants.NewPool(8, ants.WithPreAlloc(true))
	if err != nil {
		m.thisNode = nil
		return clustererr.UnexpectedError("create learner dispatch pool: %s", err)
	}
	m.learnerPool = pool

	return nil
}

// InitAsFollower establishes this process as a follower and opens the
// client channel to the leader. Callers must still call RegisterToLeader
// to complete admission and start heartbeating.
func (m *Manager) InitAsFollower(nodeName, leaderIP string, leaderPort int64) *clustererr.Status {
	return m.initAsReader(nodeName, clustertypes.NodeRoleFollower, leaderIP, leaderPort)
}

// InitAsLearner is the learner analogue of InitAsFollower.
func (m *Manager) InitAsLearner(nodeName, leaderIP string, leaderPort int64) *clustererr.Status {
	return m.initAsReader(nodeName, clustertypes.NodeRoleLearner, leaderIP, leaderPort)
}

func (m *Manager) initAsReader(nodeName string, role clustertypes.NodeRole, leaderIP string, leaderPort int64) *clustererr.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.thisNode != nil {
		return clustererr.ErrorInit("init node as %s: already initialized", role)
	}

	m.thisNode = &clustertypes.NodeInfo{
		NodeName:     nodeName,
		NodeRole:     role,
		NodeStatus:   clustertypes.NodeStatusAlive,
		IPAddress:    m.env.PeerServerIP,
		Port:         m.env.PeerServerPort,
		LastUpdateTS: nowMillis(),
	}

	m.leaderNode = &clustertypes.NodeInfo{
		NodeRole:   clustertypes.NodeRoleLeader,
		NodeStatus: clustertypes.NodeStatusInvalid,
		IPAddress:  leaderIP,
		Port:       leaderPort,
	}

	client, err := m.dialPeer(nodeName, leaderIP, leaderPort)
	if err != nil {
		m.thisNode = nil
		m.leaderNode = nil
		return clustererr.UnexpectedError("connect to leader %s:%d: %s", leaderIP, leaderPort, err)
	}
	m.clientToLeader = client

	return nil
}

// UnInit tears the manager down to the terminal state: the heartbeat
// lifecycle is stopped first (cooperatively, via the task package), then
// every map is cleared and every client closed under the main mutex.
func (m *Manager) UnInit(notUnregister bool) *clustererr.Status {
	if m.hbStop != nil {
		_ = m.hbStop(5 * time.Second)
		m.hbStop = nil
		m.hbReset = nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !notUnregister {
		m.unregisterToLeaderNoLock()
	}

	m.otherNodeMap = make(map[string]*clustertypes.NodeInfo)
	m.leaderNode = nil
	m.thisNode = nil

	if m.clientToLeader != nil {
		_ = m.clientToLeader.UnInit(true)
		m.clientToLeader = nil
	}

	for _, client := range m.readerClientMap {
		_ = client.UnInit(true)
	}
	m.readerClientMap = make(map[string]*peerclient.PeerClient)
	m.logsToSync = nil

	if m.learnerPool != nil {
		m.learnerPool.Release()
		m.learnerPool = nil
	}

	return nil
}

func (m *Manager) unregisterToLeaderNoLock() *clustererr.Status {
	if m.thisNode.NodeRole != clustertypes.NodeRoleFollower && m.thisNode.NodeRole != clustertypes.NodeRoleLearner {
		return nil
	}
	if m.leaderNode.NodeStatus != clustertypes.NodeStatusAlive {
		return nil
	}

	t := peerclient.NewUnregisterTask(m.thisNode.NodeName)
	m.clientToLeader.Send(t)
	code, message := t.Wait(context.Background())
	if code != 0 {
		logger.Error("failed to unregister from leader", logger.Ctx{"error": message})
		return clustererr.FromWire(code, message)
	}
	return nil
}

// ChangeRole handles an admin-initiated role transition requested remotely
// via the ChangeRole RPC. Only a transition to "admin" is supported — a
// removed node demoting itself out of the replication topology. Any other
// target is a client-supplied input outside the supported set, reported
// back to the caller rather than treated as a local invariant violation.
func (m *Manager) ChangeRole(target string) *clustererr.Status {
	if target != "admin" {
		return clustererr.NotSupport("not support to change to other type of node: %s", target)
	}
	return m.UnInit(true)
}

// ThisNode returns the local node record.
func (m *Manager) ThisNode() *clustertypes.NodeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thisNode.Clone()
}

// SetFollowerNumber caps the configured follower count at 5 (invariant 5).
func (m *Manager) SetFollowerNumber(n uint) *clustererr.Status {
	if n > clustertypes.MaxFollowerCount {
		return clustererr.NotSupport("attempt to set follower count larger than %d", clustertypes.MaxFollowerCount)
	}
	m.mu.Lock()
	m.followerCount = n
	m.mu.Unlock()
	return nil
}

// GetFollowerNumber returns the configured follower count cap.
func (m *Manager) GetFollowerNumber() uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.followerCount
}

// ListNodes returns this node, the leader (if reader), and every known
// peer — the data backing ADMIN SHOW NODES.
func (m *Manager) ListNodes() []*clustertypes.NodeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*clustertypes.NodeInfo, 0, len(m.otherNodeMap)+2)
	result = append(result, m.thisNode.Clone())
	if m.thisNode.NodeRole == clustertypes.NodeRoleFollower || m.thisNode.NodeRole == clustertypes.NodeRoleLearner {
		result = append(result, m.leaderNode.Clone())
	}
	for _, info := range m.otherNodeMap {
		result = append(result, info.Clone())
	}
	return result
}

// GetNodeInfoPtrByName is the backing implementation for ADMIN SHOW NODE.
func (m *Manager) GetNodeInfoPtrByName(nodeName string) (*clustertypes.NodeInfo, *clustererr.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.thisNode.NodeRole {
	case clustertypes.NodeRoleAdmin, clustertypes.NodeRoleStandalone, clustertypes.NodeRoleUninitialized:
		clustererr.FailFast("GetNodeInfoPtrByName called with invalid node role")
	}

	if m.thisNode.NodeRole == clustertypes.NodeRoleFollower || m.thisNode.NodeRole == clustertypes.NodeRoleLearner {
		if nodeName == m.leaderNode.NodeName {
			return m.leaderNode.Clone(), nil
		}
	}

	if nodeName == m.thisNode.NodeName {
		return m.thisNode.Clone(), nil
	}

	info, ok := m.otherNodeMap[nodeName]
	if !ok {
		return nil, clustererr.NotExistNode(nodeName)
	}
	return info.Clone(), nil
}
