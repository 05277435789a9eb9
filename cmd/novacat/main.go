package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tuannm99/novacat/internal"
	"github.com/tuannm99/novacat/internal/engine"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	serve := flag.Bool("serve", false, "Keep running after bootstrap (serves /metrics when enabled)")
	metricsAddr := flag.String("metrics-addr", ":9187", "Listen address for /metrics")
	flag.Parse()

	if err := run(*configPath, *serve, *metricsAddr); err != nil {
		log.Printf("novacat: %v", err)
		os.Exit(1)
	}
}

// run never exits the process; the deferred Close must run on every path.
func run(configPath string, serve bool, metricsAddr string) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, level := internal.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger.With("app", cfg.AppName))
	if err := internal.WatchLogLevel(configPath, level); err != nil {
		slog.Warn("config watch disabled", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	db, err := engine.Open(ctx, cfg, reg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("close database", "err", err)
		}
	}()

	if err := printCatalog(ctx, os.Stdout, db); err != nil {
		return fmt.Errorf("list catalog: %w", err)
	}

	if !serve {
		return nil
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}

	fmt.Printf("novacat running with data directory: %s\n", db.DataDir)
	<-ctx.Done()
	fmt.Println("Shutting down...")
	return nil
}

func printCatalog(ctx context.Context, out io.Writer, db *engine.Database) error {
	rels, err := db.Relations(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OID\tNAMESPACE\tNAME\tKIND\tCOLUMNS\tCHECKS\tPINNED")
	for _, r := range rels {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%t\n", r.ID, r.Namespace, r.Name, r.Kind, r.Natts, r.Checks, r.Pinned)
	}
	return w.Flush()
}
