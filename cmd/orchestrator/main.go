// Command orchestrator runs a local task orchestrator for development and
// testing. Prover nodes started with --environment local talk to it.
//
// Configuration is read from the environment:
//
//	ORCHESTRATOR_ADDR        listen address (default :50505)
//	ORCHESTRATOR_LEASE_TTL   how long a node may hold a task (default 10m)
//	ORCHESTRATOR_MAX_LEASES  outstanding tasks per node, 0 = unlimited (default 0)
//	ORCHESTRATOR_LOG_LEVEL   log level (default info)
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/proofnode/internal/coordinator"
	"github.com/dreamware/proofnode/internal/logging"
	"github.com/dreamware/proofnode/internal/storage"
)

// logFatal is a variable to allow mocking fatal exits in tests.
var logFatal = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type settings struct {
	addr      string
	logLevel  string
	leaseTTL  time.Duration
	maxLeases int
}

func loadSettings() (settings, error) {
	s := settings{
		addr:     getenv("ORCHESTRATOR_ADDR", ":50505"),
		logLevel: getenv("ORCHESTRATOR_LOG_LEVEL", "info"),
	}
	ttl, err := time.ParseDuration(getenv("ORCHESTRATOR_LEASE_TTL", "10m"))
	if err != nil || ttl <= 0 {
		return s, fmt.Errorf("invalid ORCHESTRATOR_LEASE_TTL: %q", os.Getenv("ORCHESTRATOR_LEASE_TTL"))
	}
	s.leaseTTL = ttl
	s.maxLeases, err = strconv.Atoi(getenv("ORCHESTRATOR_MAX_LEASES", "0"))
	if err != nil || s.maxLeases < 0 {
		return s, fmt.Errorf("invalid ORCHESTRATOR_MAX_LEASES: %q", os.Getenv("ORCHESTRATOR_MAX_LEASES"))
	}
	return s, nil
}

func main() {
	s, err := loadSettings()
	if err != nil {
		logFatal("orchestrator: %v", err)
	}
	logger, err := logging.New("orchestrator", logging.Options{Level: s.logLevel})
	if err != nil {
		logFatal("orchestrator: %v", err)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		logFatal("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, ln, s, logger); err != nil {
		logFatal("orchestrator: %v", err)
	}
}

// serve runs the orchestrator on ln until ctx is cancelled, then shuts down
// gracefully.
func serve(ctx context.Context, ln net.Listener, s settings, logger zerolog.Logger) error {
	registry := coordinator.NewTaskRegistry(coordinator.DefaultCatalog(), coordinator.RegistryConfig{
		TTL:              s.leaseTTL,
		MaxLeasesPerNode: s.maxLeases,
	})
	store := storage.NewMemoryStore()

	monitor := coordinator.NewLeaseMonitor(registry, sweepInterval(s.leaseTTL), logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	httpSrv := &http.Server{
		Handler:           coordinator.NewServer(registry, store, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Dur("lease_ttl", s.leaseTTL).Msg("orchestrator listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	stats := store.Stats()
	logger.Info().Int("proofs", stats.Proofs).Int("reclaimed", monitor.Reclaimed()).Msg("orchestrator stopped")
	return nil
}

// sweepInterval checks a few times per TTL, but no more than every second.
func sweepInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, time.Second)
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
