package clustermanager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/clustertypes"
	"github.com/infinidb/clusterd/internal/peerclient"
	"github.com/infinidb/clusterd/internal/wal"
)

// fakeTransport is the same in-process fake used by the peerclient tests,
// reproduced here because it is unexported there; it lets dialPeer hand
// back a working PeerClient without touching a socket.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	respond func(path string, body any) ([]byte, error)
}

func (f *fakeTransport) Do(ctx context.Context, path string, body any) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()
	return f.respond(path, body)
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okBody() ([]byte, error) {
	return json.Marshal(struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}{})
}

func newLeaderManager(t *testing.T) (*Manager, *wal.MemoryStorage) {
	t.Helper()
	storage := wal.NewMemoryStorage(wal.ReaderInitPhase1)
	m := New(Env{Storage: storage, PeerServerIP: "10.0.0.1", PeerServerPort: 23851})
	require.Nil(t, m.InitAsLeader("leader-1"))
	return m, storage
}

func TestAddNodeInfo_SuccessDialsJoinerAndAdmits(t *testing.T) {
	m, _ := newLeaderManager(t)

	ft := &fakeTransport{respond: func(path string, body any) ([]byte, error) { return okBody() }}
	m.dialPeer = func(fromNodeName, ip string, port int64) (*peerclient.PeerClient, error) {
		return peerclient.NewWithTransport(fromNodeName, ft), nil
	}

	joiner := &clustertypes.NodeInfo{NodeName: "follower-1", NodeRole: clustertypes.NodeRoleFollower, IPAddress: "10.0.0.2", Port: 9000}
	status := m.AddNodeInfo(joiner)
	require.Nil(t, status, "%v", status)

	m.mu.Lock()
	_, inMap := m.otherNodeMap["follower-1"]
	_, hasClient := m.readerClientMap["follower-1"]
	m.mu.Unlock()

	assert.True(t, inMap)
	assert.True(t, hasClient)
	assert.Equal(t, 1, ft.callCount())
}

func TestAddNodeInfo_RejectsAlreadyRegistered(t *testing.T) {
	m, _ := newLeaderManager(t)

	dialed := false
	m.dialPeer = func(fromNodeName, ip string, port int64) (*peerclient.PeerClient, error) {
		dialed = true
		return nil, nil
	}

	m.mu.Lock()
	m.otherNodeMap["follower-1"] = &clustertypes.NodeInfo{NodeName: "follower-1"}
	m.mu.Unlock()

	status := m.AddNodeInfo(&clustertypes.NodeInfo{NodeName: "follower-1", IPAddress: "10.0.0.2", Port: 9000})
	require.NotNil(t, status)
	assert.Equal(t, clustererr.CodeDuplicateNode, status.Code)
	assert.False(t, dialed, "a known-duplicate registration should be rejected before any dial")
}

func TestAddNodeInfo_RejectsRaceDiscoveredOnRecheck(t *testing.T) {
	// A second registration for the same node name that races in between
	// the WAL-sync dial (unlocked) and the recheck (locked again) must be
	// rejected, and the client opened for it discarded.
	m, _ := newLeaderManager(t)

	ft := &fakeTransport{respond: func(path string, body any) ([]byte, error) { return okBody() }}
	m.dialPeer = func(fromNodeName, ip string, port int64) (*peerclient.PeerClient, error) {
		m.mu.Lock()
		m.otherNodeMap["follower-1"] = &clustertypes.NodeInfo{NodeName: "follower-1"}
		m.mu.Unlock()
		return peerclient.NewWithTransport(fromNodeName, ft), nil
	}

	status := m.AddNodeInfo(&clustertypes.NodeInfo{NodeName: "follower-1", IPAddress: "10.0.0.2", Port: 9000})
	require.NotNil(t, status)
	assert.Equal(t, clustererr.CodeDuplicateNode, status.Code)

	m.mu.Lock()
	_, hasClient := m.readerClientMap["follower-1"]
	m.mu.Unlock()
	assert.False(t, hasClient, "the client dialed for the losing registration must not be kept")
}

func TestUpdateNodeInfoByHeartBeat_UnknownSenderRejected(t *testing.T) {
	// A heartbeat from a node the leader never admitted via Register is
	// rejected rather than auto-admitted.
	m, _ := newLeaderManager(t)

	_, _, _, status := m.UpdateNodeInfoByHeartBeat(&clustertypes.NodeInfo{NodeName: "ghost", IPAddress: "10.0.0.9", Port: 9000})
	require.NotNil(t, status)
	assert.Equal(t, clustererr.CodeNotExistNode, status.Code)
}

func TestUpdateNodeInfoByHeartBeat_KnownSenderRefreshesState(t *testing.T) {
	m, _ := newLeaderManager(t)

	m.mu.Lock()
	m.otherNodeMap["follower-1"] = &clustertypes.NodeInfo{
		NodeName: "follower-1", IPAddress: "10.0.0.2", Port: 9000,
		NodeStatus: clustertypes.NodeStatusAlive, HeartbeatCount: 1,
	}
	m.mu.Unlock()

	views, leaderTerm, senderStatus, status := m.UpdateNodeInfoByHeartBeat(&clustertypes.NodeInfo{
		NodeName: "follower-1", IPAddress: "10.0.0.2", Port: 9000, TxnTimestamp: 42,
	})
	require.Nil(t, status)
	assert.Equal(t, clustertypes.NodeStatusAlive, senderStatus)
	assert.Empty(t, views)
	assert.Equal(t, int64(1), leaderTerm)

	m.mu.Lock()
	info := m.otherNodeMap["follower-1"]
	m.mu.Unlock()
	assert.Equal(t, uint64(2), info.HeartbeatCount)
	assert.Equal(t, uint64(42), info.TxnTimestamp)
}

func TestUpdateNodeInfoByHeartBeat_AddressChangeRejected(t *testing.T) {
	m, _ := newLeaderManager(t)

	m.mu.Lock()
	m.otherNodeMap["follower-1"] = &clustertypes.NodeInfo{NodeName: "follower-1", IPAddress: "10.0.0.2", Port: 9000, NodeStatus: clustertypes.NodeStatusAlive}
	m.mu.Unlock()

	_, _, _, status := m.UpdateNodeInfoByHeartBeat(&clustertypes.NodeInfo{NodeName: "follower-1", IPAddress: "10.0.0.3", Port: 9000})
	require.NotNil(t, status)
	assert.Equal(t, clustererr.CodeNodeInfoUpdated, status.Code)
}

func TestCheckHeartBeatInner_MarksStaleNodeTimeout(t *testing.T) {
	m, _ := newLeaderManager(t)

	m.mu.Lock()
	// The sweep compares against the wall clock it stamps itself, so the
	// fixtures are placed relative to nowMillis().
	m.thisNode.HeartbeatIntervalMS = 1_000
	now := nowMillis()
	m.otherNodeMap["stale"] = &clustertypes.NodeInfo{NodeName: "stale", NodeStatus: clustertypes.NodeStatusAlive, LastUpdateTS: now - 10_000}
	m.otherNodeMap["fresh"] = &clustertypes.NodeInfo{NodeName: "fresh", NodeStatus: clustertypes.NodeStatusAlive, LastUpdateTS: now - 5}
	m.mu.Unlock()

	m.checkHeartBeatInner(context.Background())

	m.mu.Lock()
	staleStatus := m.otherNodeMap["stale"].NodeStatus
	freshStatus := m.otherNodeMap["fresh"].NodeStatus
	m.mu.Unlock()

	assert.Equal(t, clustertypes.NodeStatusTimeout, staleStatus)
	assert.Equal(t, clustertypes.NodeStatusAlive, freshStatus)
}

func TestSyncLogs_FanOutToFollowerAndLearner(t *testing.T) {
	m, _ := newLeaderManager(t)

	followerFT := &fakeTransport{respond: func(path string, body any) ([]byte, error) { return okBody() }}
	learnerFT := &fakeTransport{respond: func(path string, body any) ([]byte, error) { return okBody() }}

	m.mu.Lock()
	m.otherNodeMap["follower-1"] = &clustertypes.NodeInfo{NodeName: "follower-1", NodeRole: clustertypes.NodeRoleFollower, NodeStatus: clustertypes.NodeStatusAlive}
	m.otherNodeMap["learner-1"] = &clustertypes.NodeInfo{NodeName: "learner-1", NodeRole: clustertypes.NodeRoleLearner, NodeStatus: clustertypes.NodeStatusAlive}
	m.readerClientMap["follower-1"] = peerclient.NewWithTransport("leader-1", followerFT)
	m.readerClientMap["learner-1"] = peerclient.NewWithTransport("leader-1", learnerFT)
	m.logsToSync = [][]byte{{1, 2, 3}}
	m.mu.Unlock()

	status := m.SyncLogs()
	require.Nil(t, status, "%v", status)

	assert.Equal(t, 1, followerFT.callCount())
	assert.Eventually(t, func() bool { return learnerFT.callCount() == 1 }, 200*time.Millisecond, 5*time.Millisecond,
		"learner dispatch runs on the async pool, so the call may land shortly after SyncLogs returns")

	m.mu.Lock()
	remaining := m.logsToSync
	m.mu.Unlock()
	assert.Nil(t, remaining)
}

func TestChangeRole_ToAdminTearsDown(t *testing.T) {
	m, _ := newLeaderManager(t)
	status := m.ChangeRole("admin")
	require.Nil(t, status, "%v", status)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Nil(t, m.thisNode)
}

func TestChangeRole_UnsupportedTargetReturnsError(t *testing.T) {
	m, _ := newLeaderManager(t)
	status := m.ChangeRole("follower")
	require.NotNil(t, status)
	assert.Equal(t, clustererr.CodeNotSupport, status.Code)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.NotNil(t, m.thisNode, "an unsupported target must not tear the node down")
}
