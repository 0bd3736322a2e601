package clustermanager

import (
	"time"

	"github.com/infinidb/clusterd/internal/wal"
)

// Env is the explicit context a ClusterManager and every peer-server
// handler is constructed with, threaded through constructors instead of
// ambient global state.
type Env struct {
	// Storage is the external WAL/storage collaborator.
	Storage wal.Storage

	// PeerServerIP/Port identify this process's own peer RPC endpoint,
	// published to joiners and peers.
	PeerServerIP   string
	PeerServerPort int64

	// HeartbeatIntervalMS is the leader-published heartbeat cadence. Zero
	// means "use the package default" (clustertypes.DefaultHeartbeatIntervalMS).
	HeartbeatIntervalMS int64

	// DialTimeout is carried for configuration only: peer clients are built
	// by peerclient.New with its own fixed 5s HTTP timeout, and this value
	// is not applied to them.
	DialTimeout time.Duration
}

func (e Env) heartbeatIntervalOrDefault() int64 {
	if e.HeartbeatIntervalMS <= 0 {
		return 1000
	}
	return e.HeartbeatIntervalMS
}

func (e Env) dialTimeoutOrDefault() time.Duration {
	if e.DialTimeout <= 0 {
		return 5 * time.Second
	}
	return e.DialTimeout
}
