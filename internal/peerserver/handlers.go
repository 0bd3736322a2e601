package peerserver

import (
	"net/http"

	"github.com/infinidb/clusterd/internal/clustererr"
	"github.com/infinidb/clusterd/internal/clustertypes"
	"github.com/infinidb/clusterd/internal/logger"
)

type registerRequest struct {
	NodeName     string `json:"node_name"`
	NodeType     string `json:"node_type"`
	NodeIP       string `json:"node_ip"`
	NodePort     int64  `json:"node_port"`
	TxnTimestamp uint64 `json:"txn_timestamp"`
}

type registerResponse struct {
	LeaderName        string `json:"leader_name"`
	LeaderTerm        int64  `json:"leader_term"`
	HeartBeatInterval int64  `json:"heart_beat_interval"`
	ErrorCode         int64  `json:"error_code"`
	ErrorMessage      string `json:"error_message"`
}

// handleRegister admits a follower/learner.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	logger.Trace("get register request")

	var req registerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, registerResponse{ErrorCode: int64(clustererr.CodeUnexpectedError), ErrorMessage: err.Error()})
		return
	}

	var resp registerResponse

	if s.manager.ThisNode().NodeRole != clustertypes.NodeRoleLeader {
		resp.ErrorCode = int64(clustererr.CodeInvalidNodeRole)
		resp.ErrorMessage = "attempt to register a non-leader node"
		writeJSON(w, resp)
		return
	}

	role, ok := nodeRoleFromWire(req.NodeType)
	if !ok {
		clustererr.FailFast("invalid node type: " + req.NodeType)
		return
	}

	info := &clustertypes.NodeInfo{
		NodeName:     req.NodeName,
		NodeRole:     role,
		NodeStatus:   clustertypes.NodeStatusAlive,
		IPAddress:    req.NodeIP,
		Port:         req.NodePort,
		TxnTimestamp: req.TxnTimestamp,
	}

	if status := s.manager.AddNodeInfo(info); status != nil {
		resp.ErrorCode = int64(status.Code)
		resp.ErrorMessage = status.Message
		writeJSON(w, resp)
		return
	}

	logger.Info("node registered", logger.Ctx{"node": req.NodeName, "type": req.NodeType})
	leader := s.manager.ThisNode()
	resp.LeaderName = leader.NodeName
	resp.LeaderTerm = leader.LeaderTerm
	resp.HeartBeatInterval = leader.HeartbeatIntervalMS
	writeJSON(w, resp)
}

type unregisterRequest struct {
	NodeName string `json:"node_name"`
}

type errorOnlyResponse struct {
	ErrorCode    int64  `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// handleUnregister removes a node at its own request.
func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	logger.Trace("get unregister request")

	var req unregisterRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, errorOnlyResponse{ErrorCode: int64(clustererr.CodeUnexpectedError), ErrorMessage: err.Error()})
		return
	}

	var resp errorOnlyResponse

	if s.manager.ThisNode().NodeRole != clustertypes.NodeRoleLeader {
		resp.ErrorCode = int64(clustererr.CodeInvalidNodeRole)
		resp.ErrorMessage = "attempt to unregister from a non-leader node"
		writeJSON(w, resp)
		return
	}

	if status := s.manager.UpdateNodeByLeader(req.NodeName, clustertypes.UpdateNodeRemove); status != nil {
		resp.ErrorCode = int64(status.Code)
		resp.ErrorMessage = status.Message
		writeJSON(w, resp)
		return
	}

	logger.Info("node unregistered", logger.Ctx{"node": req.NodeName})
	writeJSON(w, resp)
}

type otherNodeViewWire struct {
	NodeName     string `json:"node_name"`
	NodeIP       string `json:"node_ip"`
	NodePort     int64  `json:"node_port"`
	NodeType     string `json:"node_type"`
	NodeStatus   string `json:"node_status"`
	TxnTimestamp uint64 `json:"txn_timestamp"`
	HBCount      uint64 `json:"hb_count"`
}

type heartBeatRequest struct {
	NodeName     string `json:"node_name"`
	NodeType     string `json:"node_type"`
	NodeIP       string `json:"node_ip"`
	NodePort     int64  `json:"node_port"`
	TxnTimestamp uint64 `json:"txn_timestamp"`
}

type heartBeatResponse struct {
	OtherNodes   []otherNodeViewWire `json:"other_nodes"`
	LeaderTerm   int64               `json:"leader_term"`
	SenderStatus string              `json:"sender_status"`
	ErrorCode    int64               `json:"error_code"`
	ErrorMessage string              `json:"error_message"`
}

// handleHeartBeat is the leader-side heartbeat ingest endpoint.
func (s *Server) handleHeartBeat(w http.ResponseWriter, r *http.Request) {
	logger.Debug("get heartbeat request")

	var req heartBeatRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, heartBeatResponse{ErrorCode: int64(clustererr.CodeUnexpectedError), ErrorMessage: err.Error()})
		return
	}

	var resp heartBeatResponse

	if s.manager.ThisNode().NodeRole != clustertypes.NodeRoleLeader {
		resp.ErrorCode = int64(clustererr.CodeInvalidNodeRole)
		resp.ErrorMessage = "attempt to heartbeat to a non-leader node"
		writeJSON(w, resp)
		return
	}

	role, ok := nodeRoleFromWire(req.NodeType)
	if !ok {
		clustererr.FailFast("invalid node type: " + req.NodeType)
		return
	}

	sender := &clustertypes.NodeInfo{
		NodeName:     req.NodeName,
		NodeRole:     role,
		NodeStatus:   clustertypes.NodeStatusAlive,
		IPAddress:    req.NodeIP,
		Port:         req.NodePort,
		TxnTimestamp: req.TxnTimestamp,
	}

	otherNodes, leaderTerm, senderStatus, status := s.manager.UpdateNodeInfoByHeartBeat(sender)
	if status != nil {
		resp.ErrorCode = int64(status.Code)
		resp.ErrorMessage = status.Message
		writeJSON(w, resp)
		return
	}

	resp.LeaderTerm = leaderTerm
	resp.SenderStatus = senderStatus.String()
	resp.OtherNodes = make([]otherNodeViewWire, 0, len(otherNodes))
	for _, v := range otherNodes {
		resp.OtherNodes = append(resp.OtherNodes, otherNodeViewWire{
			NodeName:     v.NodeName,
			NodeIP:       v.NodeIP,
			NodePort:     v.NodePort,
			NodeType:     v.NodeType,
			NodeStatus:   v.NodeStatus,
			TxnTimestamp: v.TxnTimestamp,
			HBCount:      v.HBCount,
		})
	}
	writeJSON(w, resp)
}

type syncLogRequest struct {
	LogEntries [][]byte `json:"log_entries"`
	OnRegister bool     `json:"on_register"`
	OnStartup  bool     `json:"on_startup"`
}

// handleSyncLog applies a replicated WAL batch. An empty batch is a
// protocol violation from the leader, not a recoverable error, and aborts
// unconditionally.
func (s *Server) handleSyncLog(w http.ResponseWriter, r *http.Request) {
	logger.Info("get synclog request")

	var req syncLogRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, errorOnlyResponse{ErrorCode: int64(clustererr.CodeUnexpectedError), ErrorMessage: err.Error()})
		return
	}

	if len(req.LogEntries) == 0 {
		clustererr.FailFast("no log is synced from leader node")
		return
	}

	var resp errorOnlyResponse

	if err := s.storage.FlushLogByReplication(req.LogEntries); err != nil {
		resp.ErrorCode = int64(clustererr.CodeUnexpectedError)
		resp.ErrorMessage = err.Error()
		writeJSON(w, resp)
		return
	}

	var status *clustererr.Status
	if req.OnStartup {
		status = s.manager.ContinueStartup(req.LogEntries)
	} else {
		status = s.manager.ApplySyncedLogNolock(req.LogEntries)
	}

	if status != nil {
		resp.ErrorCode = int64(status.Code)
		resp.ErrorMessage = status.Message
	}
	writeJSON(w, resp)
}

type changeRoleRequest struct {
	NodeName   string `json:"node_name"`
	TargetRole string `json:"target_role"`
}

// handleChangeRole demotes a removed node.
func (s *Server) handleChangeRole(w http.ResponseWriter, r *http.Request) {
	var req changeRoleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSON(w, errorOnlyResponse{ErrorCode: int64(clustererr.CodeUnexpectedError), ErrorMessage: err.Error()})
		return
	}

	var resp errorOnlyResponse
	if status := s.manager.ChangeRole(req.TargetRole); status != nil {
		resp.ErrorCode = int64(status.Code)
		resp.ErrorMessage = status.Message
	}
	writeJSON(w, resp)
}

// handleNewLeader is reserved for leader-election notification; this core
// does not implement leader election, so the handler only acknowledges
// the call with an empty body.
func (s *Server) handleNewLeader(w http.ResponseWriter, r *http.Request) {
	logger.Info("get new leader notification")
	writeJSON(w, struct{}{})
}

func nodeRoleFromWire(s string) (clustertypes.NodeRole, bool) {
	switch s {
	case "leader":
		return clustertypes.NodeRoleLeader, true
	case "follower":
		return clustertypes.NodeRoleFollower, true
	case "learner":
		return clustertypes.NodeRoleLearner, true
	default:
		return clustertypes.NodeRoleUninitialized, false
	}
}
