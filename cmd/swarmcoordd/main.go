package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swarmcoord/swarmcoord/pkg/agents"
	"github.com/swarmcoord/swarmcoord/pkg/config"
	"github.com/swarmcoord/swarmcoord/pkg/logging"
	"github.com/swarmcoord/swarmcoord/pkg/node"
	"github.com/swarmcoord/swarmcoord/pkg/transport"
)

func main() {
	configPath := flag.String("config", "swarmcoord.yaml", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewDefaultLogger()
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetDefaultLogger(logger)

	fmt.Printf("SwarmCoord Node\n")
	fmt.Printf("===============\n\n")
	fmt.Printf("  Node:       %s (%s:%d)\n", cfg.Node.ID, cfg.Node.Address, cfg.Node.Port)
	fmt.Printf("  Transport:  %s\n", cfg.Transport.ListenAddr)
	fmt.Printf("  Seeds:      %d\n", len(cfg.Cluster.SeedNodes))
	fmt.Printf("  Partition:  %s\n", cfg.Partition.Strategy)
	fmt.Printf("  Metrics:    %s\n\n", cfg.MetricsAddr)

	peers := make([]transport.Peer, 0, len(cfg.Cluster.SeedNodes))
	for _, seed := range cfg.Cluster.SeedNodes {
		peers = append(peers, transport.Peer{NodeID: seed.ID, Addr: seed.Address})
	}

	tr := transport.NewBusTransport(transport.BusConfig{
		LocalID:      cfg.Node.ID,
		ListenAddr:   cfg.Transport.ListenAddr,
		Peers:        peers,
		RecvDeadline: time.Duration(cfg.Transport.RecvDeadlineMs) * time.Millisecond,
		SendDeadline: time.Duration(cfg.Transport.SendDeadlineMs) * time.Millisecond,
		Logger:       logger,
	})

	// The daemon hosts no agent runtime of its own; requests routed here are
	// acknowledged and logged so operators can see misdirected traffic.
	dispatch := func(ctx context.Context, req agents.Request) error {
		logger.Warn("request reached a node with no local agent runtime",
			logging.String("request_id", req.ID),
			logging.String("capability", req.Capability),
			logging.AgentID(req.AgentID))
		return nil
	}

	n, err := node.New(cfg, tr, dispatch, nil, logger)
	if err != nil {
		log.Fatalf("Failed to build node: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := n.Start(ctx); err != nil {
		cancel()
		log.Fatalf("Failed to start node: %v", err)
	}
	cancel()

	go serveHTTP(cfg.MetricsAddr, n, logger)

	fmt.Printf("Node started.\n")
	fmt.Printf("  Metrics:  http://localhost%s/metrics\n", cfg.MetricsAddr)
	fmt.Printf("  Health:   http://localhost%s/health\n", cfg.MetricsAddr)
	fmt.Printf("  Cluster:  http://localhost%s/cluster\n\n", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := n.LeaveCluster(leaveCtx); err != nil {
		logger.Warn("graceful leave failed", logging.Error(err))
	}
	leaveCancel()

	n.Stop()
	fmt.Printf("\nShutdown complete.\n")
}

func serveHTTP(addr string, n *node.Node, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		n.Metrics().GetPrometheusRegistry(),
		promhttp.HandlerOpts{},
	))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		view := n.GetClusterHealth()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":          view.Status.String(),
			"healthy_nodes":   view.HealthyNodes,
			"degraded_nodes":  view.DegradedNodes,
			"unhealthy_nodes": view.UnhealthyNodes,
			"offline_nodes":   view.OfflineNodes,
			"checked_at":      view.CheckedAt,
		})
	})

	mux.HandleFunc("/cluster", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(n.GetClusterState())
	})

	mux.HandleFunc("/scaling", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(n.GetScalingRecommendation())
	})

	mux.HandleFunc("/partitions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(n.DetectNetworkPartitions())
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("http server failed", logging.Error(err))
	}
}
