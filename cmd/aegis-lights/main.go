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
	"time"

	"github.com/aegislights/controller/engine"
)

func main() {
	var (
		configPath     string
		topologyPath   string
		phaseLibPath   string
		knowledgePath  string
		knowledgeDrv   string
		simulatorAddr  string
		cyclePeriod    time.Duration
		showVersion    bool
		metricsAddr    string
		healthAddr     string
		metricsBackend string
		enableMetrics  bool
		snapshotEvery  time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (loaded first; the individual flags below are applied on top of it)")
	flag.StringVar(&topologyPath, "topology", "", "Path to YAML network topology file (default: embedded 5-intersection reference network)")
	flag.StringVar(&phaseLibPath, "phase-library", "", "Path to YAML phase library file (default: embedded reference library)")
	flag.StringVar(&knowledgeDrv, "knowledge-driver", "sqlite", "Knowledge Base backend: sqlite|memory")
	flag.StringVar(&knowledgePath, "knowledge-path", "aegis-lights.db", "SQLite Knowledge Base file path")
	flag.StringVar(&simulatorAddr, "simulator", "http://127.0.0.1:8813", "Base URL of the traffic simulator")
	flag.DurationVar(&cyclePeriod, "cycle-period", 0, "MAPE-K cycle period (0 keeps the config file's value, or the 60s default)")
	flag.BoolVar(&showVersion, "version", false, "Show version / build info")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose health endpoint on address (e.g. :9091)")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|noop")
	flag.BoolVar(&enableMetrics, "enable-metrics", false, "Enable metrics provider (required to serve -metrics)")
	flag.DurationVar(&snapshotEvery, "snapshot-interval", 10*time.Second, "Interval between status snapshots logged to stderr (0=disabled)")
	flag.Parse()

	if showVersion {
		fmt.Println("aegis-lights - adaptive traffic signal controller")
		return
	}

	var cfg engine.Config
	if configPath != "" {
		loaded, err := engine.LoadYAML(configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = engine.Defaults()
	}
	if topologyPath != "" {
		cfg.Topology.Path = topologyPath
	}
	if phaseLibPath != "" {
		cfg.PhaseLibrary.Path = phaseLibPath
	}
	if knowledgeDrv != "" {
		cfg.Knowledge.Driver = knowledgeDrv
	}
	if knowledgePath != "" {
		cfg.Knowledge.Path = knowledgePath
	}
	if simulatorAddr != "" {
		cfg.Simulator.BaseURL = simulatorAddr
	}
	if cyclePeriod > 0 {
		cfg.CyclePeriod = cyclePeriod
	}
	if enableMetrics {
		cfg.Telemetry.MetricsEnabled = true
		cfg.Telemetry.MetricsBackend = metricsBackend
	}
	cfg = cfg.Normalize()

	eng, err := engine.New(cfg)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	defer func() { _ = eng.Stop() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown...")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("start engine: %v", err)
	}

	if configPath != "" {
		if err := eng.WatchConfig(configPath, func(updated engine.Config) {
			log.Printf("config changed on disk; the running engine keeps its current settings until restart")
			_ = updated
		}, func(err error) {
			log.Printf("config watch error: %v", err)
		}); err != nil {
			log.Printf("config hot-reload disabled: %v", err)
		}
	}

	if metricsAddr != "" && cfg.Telemetry.MetricsEnabled {
		mux := http.NewServeMux()
		if h := eng.MetricsHandler(); h != nil {
			mux.Handle("/metrics", h)
		}
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			log.Printf("metrics listening on %s (backend=%s)", metricsAddr, cfg.Telemetry.MetricsBackend)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			hs := eng.HealthSnapshot(r.Context())
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": hs.Overall, "probes": hs.Probes, "generated": hs.Generated, "ttl": hs.TTL.Seconds(),
			})
		})
		srv := &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		go func() {
			log.Printf("health endpoint listening on %s", healthAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("health server: %v", err)
			}
		}()
	}

	var ticker *time.Ticker
	if snapshotEvery > 0 {
		ticker = time.NewTicker(snapshotEvery)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ticker.C:
					snap := eng.Snapshot()
					b, _ := json.MarshalIndent(snap, "", "  ")
					fmt.Fprintf(os.Stderr, "\n=== SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	<-ctx.Done()
	final := eng.Snapshot()
	b, _ := json.MarshalIndent(final, "", "  ")
	fmt.Fprintf(os.Stderr, "\n=== FINAL SNAPSHOT %s ===\n%s\n", time.Now().Format(time.RFC3339), string(b))
}
