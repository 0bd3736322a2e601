// Command peerd runs one node of the cluster membership and log
// replication core: it hosts a ClusterManager and exposes the peer RPC
// surface (C5) over HTTP for other peerd processes to dial into.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infinidb/clusterd/internal/clustermanager"
	"github.com/infinidb/clusterd/internal/config"
	"github.com/infinidb/clusterd/internal/logger"
	"github.com/infinidb/clusterd/internal/peerserver"
	"github.com/infinidb/clusterd/internal/wal"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	flag.Parse()

	if err := logger.SetLevel(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %s\n", *logLevel, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", logger.Ctx{"error": err.Error()})
	}

	if err := run(cfg); err != nil {
		logger.Fatal("peerd exited with error", logger.Ctx{"error": err.Error()})
	}
}

func run(cfg *config.Config) error {
	storage := wal.NewMemoryStorage(cfg.ReaderInitPhaseValue())

	env := clustermanager.Env{
		Storage:             storage,
		PeerServerIP:        cfg.PeerServerIP,
		PeerServerPort:      cfg.PeerServerPort,
		HeartbeatIntervalMS: cfg.HeartbeatIntervalMS,
		DialTimeout:         cfg.DialTimeout,
	}

	manager := clustermanager.New(env)

	switch cfg.Role {
	case "leader":
		if status := manager.InitAsLeader(cfg.NodeName); status != nil {
			return fmt.Errorf("init as leader: %s", status.Error())
		}
		if status := manager.SetFollowerNumber(cfg.FollowerCount); status != nil {
			return fmt.Errorf("set follower count: %s", status.Error())
		}
		if status := manager.CheckHeartBeat(); status != nil {
			return fmt.Errorf("start heartbeat timeout sweep: %s", status.Error())
		}
	case "follower":
		if status := manager.InitAsFollower(cfg.NodeName, cfg.LeaderIP, cfg.LeaderPort); status != nil {
			return fmt.Errorf("init as follower: %s", status.Error())
		}
		if status := manager.RegisterToLeader(); status != nil {
			return fmt.Errorf("register to leader: %s", status.Error())
		}
	case "learner":
		if status := manager.InitAsLearner(cfg.NodeName, cfg.LeaderIP, cfg.LeaderPort); status != nil {
			return fmt.Errorf("init as learner: %s", status.Error())
		}
		if status := manager.RegisterToLeader(); status != nil {
			return fmt.Errorf("register to leader: %s", status.Error())
		}
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}

	server := peerserver.New(manager, storage)
	addr := fmt.Sprintf("%s:%d", cfg.PeerServerIP, cfg.PeerServerPort)
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("peer server listening", logger.Ctx{"addr": addr, "role": cfg.Role})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", logger.Ctx{"signal": sig.String()})
	}

	shutdownDeadline := 10 * time.Second
	doneCh := make(chan struct{})
	go func() {
		_ = manager.UnInit(false)
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(shutdownDeadline):
		logger.Warn("manager teardown did not complete before deadline", logger.Ctx{"deadline": shutdownDeadline.String()})
	}

	return httpServer.Close()
}
