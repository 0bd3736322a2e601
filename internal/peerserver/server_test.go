package peerserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/clustermanager"
	"github.com/infinidb/clusterd/internal/peerserver"
	"github.com/infinidb/clusterd/internal/wal"
)

// newTestServer wires a real Manager (in whatever role the caller's init
// function gives it) and MemoryStorage behind
// an httptest server, the way a deployed peerd process wires them, but
// without a real socket for the cluster side. Tests that would otherwise
// require AddNodeInfo to dial a joining node's address (the success path of
// Register) live in internal/clustermanager instead, where the dial seam
// is reachable; this file exercises request/response plumbing and the
// rejection paths that don't need a populated membership map.
func newTestServer(t *testing.T, role func(*clustermanager.Manager)) (*httptest.Server, *clustermanager.Manager, *wal.MemoryStorage) {
	t.Helper()
	storage := wal.NewMemoryStorage(wal.ReaderInitPhase1)
	manager := clustermanager.New(clustermanager.Env{Storage: storage, PeerServerIP: "127.0.0.1", PeerServerPort: 23851})
	role(manager)
	srv := peerserver.New(manager, storage)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, manager, storage
}

func postJSON(t *testing.T, url string, req, resp any) {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	httpResp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(resp))
}

func TestHandlePing(t *testing.T) {
	ts, _, _ := newTestServer(t, func(m *clustermanager.Manager) {
		require.Nil(t, m.InitAsLeader("leader-1"))
	})

	resp, err := http.Post(ts.URL+"/peer/ping", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleRegister_RejectsWhenNotLeader(t *testing.T) {
	ts, _, _ := newTestServer(t, func(m *clustermanager.Manager) {
		require.Nil(t, m.InitAsFollower("follower-1", "127.0.0.1", 1))
	})

	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	postJSON(t, ts.URL+"/peer/register", map[string]any{
		"node_name": "joiner", "node_type": "follower", "node_ip": "127.0.0.1", "node_port": 9000,
	}, &resp)

	assert.Equal(t, int64(clustererr.CodeInvalidNodeRole), resp.ErrorCode)
}

func TestHandleUnregister_RejectsUnknownNode(t *testing.T) {
	ts, _, _ := newTestServer(t, func(m *clustermanager.Manager) {
		require.Nil(t, m.InitAsLeader("leader-1"))
	})

	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	postJSON(t, ts.URL+"/peer/unregister", map[string]any{"node_name": "ghost"}, &resp)

	assert.Equal(t, int64(clustererr.CodeNotExistNode), resp.ErrorCode)
}

func TestHandleHeartBeat_RejectsUnknownSender(t *testing.T) {
	ts, _, _ := newTestServer(t, func(m *clustermanager.Manager) {
		require.Nil(t, m.InitAsLeader("leader-1"))
	})

	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	postJSON(t, ts.URL+"/peer/heartbeat", map[string]any{
		"node_name": "ghost", "node_type": "follower", "node_ip": "127.0.0.1", "node_port": 9000,
	}, &resp)

	assert.Equal(t, int64(clustererr.CodeNotExistNode), resp.ErrorCode)
}

func TestHandleSyncLog_AppliesOnStartupBatch(t *testing.T) {
	ts, _, storage := newTestServer(t, func(m *clustermanager.Manager) {
		require.Nil(t, m.InitAsLearner("learner-1", "127.0.0.1", 1))
	})

	entry := &wal.Entry{TxnID: 1, CommitTS: 7, Cmds: []wal.Command{{Type: wal.CommandCheckpoint, Payload: []byte("snap")}}}

	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	postJSON(t, ts.URL+"/peer/synclog", map[string]any{
		"log_entries": [][]byte{entry.Encode()},
		"on_register": false,
		"on_startup":  true,
	}, &resp)

	assert.Equal(t, int64(0), resp.ErrorCode, resp.ErrorMessage)
	assert.Equal(t, uint64(8), storage.ContinueTS())
}

func TestHandleChangeRole_ToAdminSucceeds(t *testing.T) {
	ts, manager, _ := newTestServer(t, func(m *clustermanager.Manager) {
		require.Nil(t, m.InitAsLeader("leader-1"))
	})

	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	postJSON(t, ts.URL+"/peer/changerole", map[string]any{"node_name": "leader-1", "target_role": "admin"}, &resp)

	assert.Equal(t, int64(0), resp.ErrorCode, resp.ErrorMessage)
	assert.Nil(t, manager.ThisNode())
}

func TestHandleNewLeader_Acknowledges(t *testing.T) {
	ts, _, _ := newTestServer(t, func(m *clustermanager.Manager) {
		require.Nil(t, m.InitAsLeader("leader-1"))
	})

	resp, err := http.Post(ts.URL+"/peer/newleader", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
