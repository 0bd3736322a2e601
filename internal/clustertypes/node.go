// Package clustertypes holds the plain data types shared by the cluster
// manager, the peer clients, and the peer server handlers: node roles,
// statuses, and the NodeInfo record itself (C1 in the component design).
package clustertypes

// NodeRole is the tagged variant describing what a cluster member is.
type NodeRole int

const (
	NodeRoleUninitialized NodeRole = iota
	NodeRoleAdmin
	NodeRoleStandalone
	NodeRoleLeader
	NodeRoleFollower
	NodeRoleLearner
)

func (r NodeRole) String() string {
	switch r {
	case NodeRoleUninitialized:
		return "uninitialized"
	case NodeRoleAdmin:
		return "admin"
	case NodeRoleStandalone:
		return "standalone"
	case NodeRoleLeader:
		return "leader"
	case NodeRoleFollower:
		return "follower"
	case NodeRoleLearner:
		return "learner"
	default:
		return "unknown"
	}
}

// IsReader reports whether the role receives replicated log entries, i.e.
// is a follower or a learner.
func (r NodeRole) IsReader() bool {
	return r == NodeRoleFollower || r == NodeRoleLearner
}

// NodeStatus is the liveness/membership state of a node as observed by
// whoever holds the record.
type NodeStatus int

const (
	NodeStatusInvalid NodeStatus = iota
	NodeStatusAlive
	NodeStatusTimeout
	NodeStatusLostConnection
	NodeStatusRemoved
)

func (s NodeStatus) String() string {
	switch s {
	case NodeStatusInvalid:
		return "invalid"
	case NodeStatusAlive:
		return "alive"
	case NodeStatusTimeout:
		return "timeout"
	case NodeStatusLostConnection:
		return "lost_connection"
	case NodeStatusRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// UpdateNodeOp selects the leader-side action applied by UpdateNodeByLeader.
type UpdateNodeOp int

const (
	UpdateNodeRemove UpdateNodeOp = iota
	UpdateNodeLostConnection
)

// NodeInfo is the in-memory description of one cluster member. It is owned
// exclusively by whoever holds it (the ClusterManager, under its mutex, or a
// task's request scratch space); NodeInfo itself carries no lock.
//
// The json tags use the record's own field names. They are not the wire
// names of the RPC surface (node_ip, node_port, node_type): the peer
// client and server project NodeInfo into their own request/response
// structs and never serialize it directly.
type NodeInfo struct {
	NodeName            string     `json:"node_name"`
	NodeRole            NodeRole   `json:"node_role"`
	NodeStatus          NodeStatus `json:"node_status"`
	IPAddress           string     `json:"ip_address"`
	Port                int64      `json:"port"`
	TxnTimestamp        uint64     `json:"txn_timestamp"`
	LastUpdateTS         int64      `json:"last_update_ts"`
	HeartbeatCount       uint64     `json:"heartbeat_count"`
	HeartbeatIntervalMS  int64      `json:"heartbeat_interval_ms"`
	LeaderTerm           int64      `json:"leader_term"`
}

// Equal compares two node records by name only, per the node-record
// identity rule: node_name is the sole basis for equality.
func (n *NodeInfo) Equal(other *NodeInfo) bool {
	if n == nil || other == nil {
		return n == other
	}
	return n.NodeName == other.NodeName
}

// Clone returns a shallow copy of the record. Callers that need to hand a
// NodeInfo to code outside the ClusterManager's lock (e.g. ListNodes)
// should clone first so that later mutations under the lock don't race with
// a reader outside it.
func (n *NodeInfo) Clone() *NodeInfo {
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}

const DefaultHeartbeatIntervalMS int64 = 1000

// MaxFollowerCount is the hard upper bound on configured follower count.
const MaxFollowerCount = 5
