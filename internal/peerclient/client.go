package peerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"

	"github.com/infinidb/clusterd/internal/logger"
)

// Transport performs the actual request/response exchange with a remote
// endpoint. It is the seam the cluster core submits tasks through, kept
// separate from PeerClient so tests can substitute an in-process fake
// instead of dialing real sockets.
type Transport interface {
	// Do sends the task's body to path and returns the raw response body.
	// A non-nil error means the exchange itself failed (dial, timeout,
	// non-2xx), as opposed to an application-level error_code in the body.
	Do(ctx context.Context, path string, body any) ([]byte, error)
	Close() error
}

// httpTransport is the real Transport, one HTTP client per remote node.
type httpTransport struct {
	baseURL string
	client  *http.Client
}

func newHTTPTransport(ipAddress string, port int64, dialTimeout time.Duration) *httpTransport {
	return &httpTransport{
		baseURL: fmt.Sprintf("http://%s:%d", ipAddress, port),
		client:  &http.Client{Timeout: dialTimeout},
	}
}

func (t *httpTransport) Do(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.baseURL, err)
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("peer %s returned HTTP %d: %s", t.baseURL, resp.StatusCode, buf.String())
	}

	return buf.Bytes(), nil
}

func (t *httpTransport) Close() error { return nil }

// PeerClient is a connected RPC channel to one remote node. It exclusively
// owns its transport; the transport connection's lifetime ends when the
// last holder (a ClusterManager map entry, or an in-flight task
// referencing it) releases it and UnInit has been invoked.
//
// Send enqueues tasks onto a buffered channel drained by a single
// dispatch goroutine, which gives FIFO ordering per sender for free and
// makes concurrent Send calls from multiple goroutines safe.
type PeerClient struct {
	fromNodeName string
	ipAddress    string
	port         int64
	dialTimeout  time.Duration

	mu        sync.Mutex
	transport Transport
	connected atomic.Bool

	queue  chan Task
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a PeerClient bound to a remote node's address. Callers
// must call Init before Send.
func New(fromNodeName, ipAddress string, port int64) *PeerClient {
	return &PeerClient{
		fromNodeName: fromNodeName,
		ipAddress:    ipAddress,
		port:         port,
		dialTimeout:  5 * time.Second,
		queue:        make(chan Task, 256),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// NewWithTransport builds a PeerClient around a caller-supplied transport,
// used by tests to exercise the queueing/dispatch logic without sockets.
func NewWithTransport(fromNodeName string, transport Transport) *PeerClient {
	c := &PeerClient{
		fromNodeName: fromNodeName,
		queue:        make(chan Task, 256),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	c.transport = transport
	c.connected.Store(true)
	go c.dispatchLoop()
	return c
}

// Init dials the remote endpoint. Idempotent with UnInit: calling Init
// again after a clean UnInit starts a fresh dispatch loop.
func (c *PeerClient) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != nil {
		return nil
	}

	select {
	case <-c.stopCh:
		// A prior UnInit closed these; a fresh dispatch loop needs its own
		// pair so it doesn't immediately observe a closed stopCh.
		c.stopCh = make(chan struct{})
		c.doneCh = make(chan struct{})
	default:
	}

	c.transport = newHTTPTransport(c.ipAddress, c.port, c.dialTimeout)
	c.connected.Store(true)
	go c.dispatchLoop()
	return nil
}

// ServerConnected reports liveness without blocking.
func (c *PeerClient) ServerConnected() bool {
	return c.connected.Load()
}

// Reconnect attempts to re-establish the transport, retrying with a
// capped exponential backoff.
func (c *PeerClient) Reconnect() error {
	c.mu.Lock()
	ip, port, timeout := c.ipAddress, c.port, c.dialTimeout
	c.mu.Unlock()

	if ip == "" {
		return fmt.Errorf("peer client has no configured address to reconnect to")
	}

	err := retry.Retry(func(attempt uint) error {
		transport := newHTTPTransport(ip, port, timeout)
		// A reconnect is only meaningful once we've confirmed the remote
		// is actually reachable; probe with a cheap no-op path.
		_, probeErr := transport.Do(context.Background(), "/peer/ping", struct{}{})
		if probeErr != nil {
			return probeErr
		}
		c.mu.Lock()
		c.transport = transport
		c.mu.Unlock()
		return nil
	}, strategy.Backoff(backoff.BinaryExponential(50*time.Millisecond)), strategy.Limit(5))

	if err != nil {
		c.connected.Store(false)
		return err
	}
	c.connected.Store(true)
	return nil
}

// Send enqueues the task for transmission. Dispatch is non-blocking from
// the caller's perspective (it only blocks if the internal queue is full),
// and is safe to call from multiple goroutines; tasks from one sender are
// delivered FIFO because they funnel through a single queue drained by one
// goroutine.
func (c *PeerClient) Send(t Task) {
	select {
	case c.queue <- t:
	case <-c.stopCh:
		t.Complete(nil, fmt.Errorf("peer client to %s is shutting down", c.fromNodeName))
	}
}

func (c *PeerClient) dispatchLoop() {
	for {
		select {
		case t := <-c.queue:
			c.deliver(t)
		case <-c.stopCh:
			close(c.doneCh)
			return
		}
	}
}

func (c *PeerClient) deliver(t Task) {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()

	if transport == nil {
		t.Complete(nil, fmt.Errorf("peer client not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := transport.Do(ctx, t.Path(), t.Body())
	if err != nil {
		c.connected.Store(false)
		logger.Error("peer RPC failed", logger.Ctx{"path": t.Path(), "error": err.Error()})
	}
	t.Complete(body, err)
}

// UnInit closes the channel. The dispatch goroutine stops without draining
// the queue in either mode: tasks it has not yet picked up are never
// delivered or completed. If graceful is true, UnInit waits for the
// dispatch goroutine to exit, so a delivery already in progress finishes
// first; if false, it returns without waiting.
func (c *PeerClient) UnInit(graceful bool) error {
	c.mu.Lock()
	transport := c.transport
	c.transport = nil
	c.mu.Unlock()

	select {
	case <-c.stopCh:
		// already stopped
	default:
		close(c.stopCh)
	}

	if graceful {
		<-c.doneCh
	}

	c.connected.Store(false)
	if transport != nil {
		return transport.Close()
	}
	return nil
}
