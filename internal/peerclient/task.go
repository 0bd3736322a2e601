// Package peerclient implements the connected RPC channel to one remote
// node (the peer client) and the typed task objects it carries (request
// objects for Register, Unregister, HeartBeat, SyncLog, and ChangeRole).
package peerclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/infinidb/clusterd/internal/clustertypes"
)

// decodeJSON unmarshals a peer RPC response body, wrapping empty/absent
// bodies with a clearer error than encoding/json's own EOF message.
func decodeJSON(body []byte, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Task is the common contract every request/response carrier implements:
// a path to dispatch on, a way for the transport to deliver the decoded
// response, and a completion signal the caller can Wait on.
type Task interface {
	// Path identifies which RPC endpoint this task targets.
	Path() string
	// Body returns the JSON-serializable request payload.
	Body() any
	// Complete is invoked by the transport exactly once with the raw
	// response bytes (or an error if the exchange itself failed, e.g. a
	// dial/timeout failure rather than an application-level error_code).
	Complete(responseBody []byte, transportErr error)
	// Wait blocks until Complete has run, then returns the accumulated
	// error_code/error_message. Callers doing fire-and-forget dispatch
	// never call Wait.
	Wait(ctx context.Context) (errorCode int64, errorMessage string)
}

// taskBase implements the completion signalling shared by every task type,
// the Go channel analogue of the C++ source's wait/notify pair.
type taskBase struct {
	done         chan struct{}
	errorCode    int64
	errorMessage string
}

func newTaskBase() taskBase {
	return taskBase{done: make(chan struct{})}
}

func (t *taskBase) markDone(code int64, message string) {
	t.errorCode = code
	t.errorMessage = message
	close(t.done)
}

func (t *taskBase) Wait(ctx context.Context) (int64, string) {
	select {
	case <-t.done:
		return t.errorCode, t.errorMessage
	case <-ctx.Done():
		return -1, "wait canceled: " + ctx.Err().Error()
	}
}

// RegisterTask asks the leader to admit this node as a Follower or
// Learner.
type RegisterTask struct {
	taskBase

	NodeName     string
	Role         clustertypes.NodeRole
	IPAddress    string
	Port         int64
	TxnTimestamp uint64

	LeaderName          string
	LeaderTerm          int64
	HeartbeatIntervalMS int64
}

type registerRequestBody struct {
	NodeName     string `json:"node_name"`
	NodeType     string `json:"node_type"`
	NodeIP       string `json:"node_ip"`
	NodePort     int64  `json:"node_port"`
	TxnTimestamp uint64 `json:"txn_timestamp"`
}

// RegisterResponseBody is the wire shape of a Register reply.
type RegisterResponseBody struct {
	LeaderName          string `json:"leader_name"`
	LeaderTerm          int64  `json:"leader_term"`
	HeartbeatInterval   int64  `json:"heart_beat_interval"`
	ErrorCode           int64  `json:"error_code"`
	ErrorMessage        string `json:"error_message"`
}

func NewRegisterTask(nodeName string, role clustertypes.NodeRole, ip string, port int64, txnTimestamp uint64) *RegisterTask {
	return &RegisterTask{
		taskBase:     newTaskBase(),
		NodeName:     nodeName,
		Role:         role,
		IPAddress:    ip,
		Port:         port,
		TxnTimestamp: txnTimestamp,
	}
}

func (t *RegisterTask) Path() string { return "/peer/register" }

func (t *RegisterTask) Body() any {
	nodeType := "follower"
	if t.Role == clustertypes.NodeRoleLearner {
		nodeType = "learner"
	}
	return registerRequestBody{
		NodeName:     t.NodeName,
		NodeType:     nodeType,
		NodeIP:       t.IPAddress,
		NodePort:     t.Port,
		TxnTimestamp: t.TxnTimestamp,
	}
}

func (t *RegisterTask) Complete(responseBody []byte, transportErr error) {
	if transportErr != nil {
		t.markDone(-1, transportErr.Error())
		return
	}
	var resp RegisterResponseBody
	if err := decodeJSON(responseBody, &resp); err != nil {
		t.markDone(-1, err.Error())
		return
	}
	t.LeaderName = resp.LeaderName
	t.LeaderTerm = resp.LeaderTerm
	t.HeartbeatIntervalMS = resp.HeartbeatInterval
	t.markDone(resp.ErrorCode, resp.ErrorMessage)
}

// UnregisterTask asks the leader to forget this node.
type UnregisterTask struct {
	taskBase
	NodeName string
}

type unregisterRequestBody struct {
	NodeName string `json:"node_name"`
}

func NewUnregisterTask(nodeName string) *UnregisterTask {
	return &UnregisterTask{taskBase: newTaskBase(), NodeName: nodeName}
}

func (t *UnregisterTask) Path() string { return "/peer/unregister" }
func (t *UnregisterTask) Body() any    { return unregisterRequestBody{NodeName: t.NodeName} }

func (t *UnregisterTask) Complete(responseBody []byte, transportErr error) {
	if transportErr != nil {
		t.markDone(-1, transportErr.Error())
		return
	}
	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := decodeJSON(responseBody, &resp); err != nil {
		t.markDone(-1, err.Error())
		return
	}
	t.markDone(resp.ErrorCode, resp.ErrorMessage)
}

// OtherNodeView is the projected record for one peer gossiped inside a
// HeartBeat reply.
type OtherNodeView struct {
	NodeName     string                `json:"node_name"`
	NodeIP       string                `json:"node_ip"`
	NodePort     int64                 `json:"node_port"`
	NodeType     string                `json:"node_type"`
	NodeStatus   string                `json:"node_status"`
	TxnTimestamp uint64                `json:"txn_timestamp"`
	HBCount      uint64                `json:"hb_count"`
}

// HeartBeatTask is sent periodically by a follower/learner to the leader.
type HeartBeatTask struct {
	taskBase

	NodeName     string
	Role         clustertypes.NodeRole
	IPAddress    string
	Port         int64
	TxnTimestamp uint64

	OtherNodes   []OtherNodeView
	LeaderTerm   int64
	SenderStatus clustertypes.NodeStatus
}

type heartBeatRequestBody struct {
	NodeName     string `json:"node_name"`
	NodeType     string `json:"node_type"`
	NodeIP       string `json:"node_ip"`
	NodePort     int64  `json:"node_port"`
	TxnTimestamp uint64 `json:"txn_timestamp"`
}

type heartBeatResponseBody struct {
	OtherNodes   []OtherNodeView `json:"other_nodes"`
	LeaderTerm   int64           `json:"leader_term"`
	SenderStatus string          `json:"sender_status"`
	ErrorCode    int64           `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
}

func NewHeartBeatTask(nodeName string, role clustertypes.NodeRole, ip string, port int64, txnTimestamp uint64) *HeartBeatTask {
	return &HeartBeatTask{
		taskBase:     newTaskBase(),
		NodeName:     nodeName,
		Role:         role,
		IPAddress:    ip,
		Port:         port,
		TxnTimestamp: txnTimestamp,
	}
}

func (t *HeartBeatTask) Path() string { return "/peer/heartbeat" }

func (t *HeartBeatTask) Body() any {
	return heartBeatRequestBody{
		NodeName:     t.NodeName,
		NodeType:     nodeTypeString(t.Role),
		NodeIP:       t.IPAddress,
		NodePort:     t.Port,
		TxnTimestamp: t.TxnTimestamp,
	}
}

func (t *HeartBeatTask) Complete(responseBody []byte, transportErr error) {
	if transportErr != nil {
		t.markDone(-1, transportErr.Error())
		return
	}
	var resp heartBeatResponseBody
	if err := decodeJSON(responseBody, &resp); err != nil {
		t.markDone(-1, err.Error())
		return
	}
	t.OtherNodes = resp.OtherNodes
	t.LeaderTerm = resp.LeaderTerm
	t.SenderStatus = statusFromString(resp.SenderStatus)
	t.markDone(resp.ErrorCode, resp.ErrorMessage)
}

// SyncLogTask carries a batch of WAL entries to be replicated to a
// follower or learner.
type SyncLogTask struct {
	taskBase

	RecipientName string
	LogEntries    [][]byte
	OnRegister    bool
	OnStartup     bool
}

type syncLogRequestBody struct {
	LogEntries [][]byte `json:"log_entries"`
	OnRegister bool     `json:"on_register"`
	OnStartup  bool     `json:"on_startup"`
}

func NewSyncLogTask(recipientName string, entries [][]byte, onRegister bool) *SyncLogTask {
	return &SyncLogTask{
		taskBase:      newTaskBase(),
		RecipientName: recipientName,
		LogEntries:    entries,
		OnRegister:    onRegister,
	}
}

func (t *SyncLogTask) Path() string { return "/peer/synclog" }

func (t *SyncLogTask) Body() any {
	return syncLogRequestBody{LogEntries: t.LogEntries, OnRegister: t.OnRegister, OnStartup: t.OnStartup}
}

func (t *SyncLogTask) Complete(responseBody []byte, transportErr error) {
	if transportErr != nil {
		t.markDone(-1, transportErr.Error())
		return
	}
	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := decodeJSON(responseBody, &resp); err != nil {
		t.markDone(-1, err.Error())
		return
	}
	t.markDone(resp.ErrorCode, resp.ErrorMessage)
}

// ChangeRoleTask asks a remote node to transition to a new role, e.g.
// demoting a removed member to "admin".
type ChangeRoleTask struct {
	taskBase

	NodeName   string
	TargetRole string
}

type changeRoleRequestBody struct {
	NodeName   string `json:"node_name"`
	TargetRole string `json:"target_role"`
}

func NewChangeRoleTask(nodeName, targetRole string) *ChangeRoleTask {
	return &ChangeRoleTask{taskBase: newTaskBase(), NodeName: nodeName, TargetRole: targetRole}
}

func (t *ChangeRoleTask) Path() string { return "/peer/changerole" }
func (t *ChangeRoleTask) Body() any {
	return changeRoleRequestBody{NodeName: t.NodeName, TargetRole: t.TargetRole}
}

func (t *ChangeRoleTask) Complete(responseBody []byte, transportErr error) {
	if transportErr != nil {
		t.markDone(-1, transportErr.Error())
		return
	}
	var resp struct {
		ErrorCode    int64  `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	}
	if err := decodeJSON(responseBody, &resp); err != nil {
		t.markDone(-1, err.Error())
		return
	}
	t.markDone(resp.ErrorCode, resp.ErrorMessage)
}

func nodeTypeString(r clustertypes.NodeRole) string {
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

func statusFromString(s string) clustertypes.NodeStatus {
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
