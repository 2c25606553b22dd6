// Package supervisor starts and stops a prover node: it resolves the
// identity, sizes the worker pool, wires the shared collaborators and waits
// for every worker to finish.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/proofnode/internal/analytics"
	"github.com/dreamware/proofnode/internal/config"
	"github.com/dreamware/proofnode/internal/identity"
	"github.com/dreamware/proofnode/internal/metrics"
	"github.com/dreamware/proofnode/internal/orchestrator"
	"github.com/dreamware/proofnode/internal/progress"
	"github.com/dreamware/proofnode/internal/prover"
	"github.com/dreamware/proofnode/internal/sysinfo"
	"github.com/dreamware/proofnode/internal/worker"
)

// Supervisor owns one run of the node.
type Supervisor struct {
	cfg        *config.Config
	logger     zerolog.Logger
	out        io.Writer
	prover     prover.Prover
	identity   *identity.Store
	telemetry  analytics.Telemetry
	metrics    *metrics.Node
	httpClient *http.Client
	nodeInfo   func() orchestrator.NodeTelemetry
	sleep      func(context.Context, time.Duration) error
	sink       *progress.Sink
	cpus       int
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithProver replaces the external prover command.
func WithProver(p prover.Prover) Option {
	return func(s *Supervisor) { s.prover = p }
}

// WithIdentityStore replaces the identity file location.
func WithIdentityStore(st *identity.Store) Option {
	return func(s *Supervisor) { s.identity = st }
}

// WithOutput sets where status lines are printed. Nil silences them.
func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) { s.out = w }
}

// WithTelemetry replaces the analytics sink.
func WithTelemetry(t analytics.Telemetry) Option {
	return func(s *Supervisor) { s.telemetry = t }
}

// WithHTTPClient sets the client used to reach the orchestrator.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Supervisor) { s.httpClient = c }
}

// WithCPUs overrides the detected number of cores.
func WithCPUs(n int) Option {
	return func(s *Supervisor) { s.cpus = n }
}

// WithNodeInfo replaces the hardware probe.
func WithNodeInfo(fn func() orchestrator.NodeTelemetry) Option {
	return func(s *Supervisor) { s.nodeInfo = fn }
}

// WithSleep replaces the timer used for backoff and cooldown waits.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// New prepares a node run from cfg.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Supervisor, error) {
	s := &Supervisor{
		cfg:     cfg,
		logger:  logger,
		out:     os.Stdout,
		metrics: metrics.New(),
		cpus:    runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.identity == nil {
		path := cfg.IdentityFile
		if path == "" {
			var err error
			if path, err = identity.DefaultPath(); err != nil {
				return nil, err
			}
		}
		s.identity = identity.NewStore(path)
	}
	if s.prover == nil {
		p, err := prover.NewExecProver(cfg.ProverCommand)
		if err != nil {
			return nil, fmt.Errorf("prover: %w", err)
		}
		s.prover = p
	}
	if s.nodeInfo == nil {
		s.nodeInfo = sysinfo.NewProbe(cfg.Location).Telemetry
	}
	return s, nil
}

// Metrics exposes the collectors of this run.
func (s *Supervisor) Metrics() *metrics.Node { return s.metrics }

// Snapshot returns the progress view. It is empty before Run.
func (s *Supervisor) Snapshot() progress.Snapshot {
	if s.sink == nil {
		return progress.Snapshot{}
	}
	return s.sink.Snapshot()
}

// Run starts the workers and blocks until they all stop. It returns nil
// after a normal stop (ctx cancelled or single-shot done) and the first
// fatal worker error otherwise. Identity failures return before any worker
// starts.
func (s *Supervisor) Run(ctx context.Context) error {
	id, err := s.identity.Resolve(identity.ResolveOptions{
		NodeID:    s.cfg.NodeID,
		Anonymous: s.cfg.Anonymous,
	})
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	telemetry := s.telemetry
	if telemetry == nil {
		telemetry = analytics.New(analytics.Config{
			Token:       s.cfg.AnalyticsToken,
			Endpoint:    s.cfg.AnalyticsURL,
			DistinctID:  id.DistinctID(),
			Environment: string(s.cfg.Environment),
		}, s.logger)
		if tr, ok := telemetry.(*analytics.Tracker); ok {
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				_ = tr.Close(flushCtx)
			}()
		}
	}

	workers := worker.ResolveWorkerCount(s.cfg.Speed, s.cfg.MaxThreads, s.cpus)

	clientOpts := []orchestrator.Option{orchestrator.WithNodeType(orchestrator.NodeTypeCLIProver)}
	if s.httpClient != nil {
		clientOpts = append(clientOpts, orchestrator.WithHTTPClient(s.httpClient))
	}
	client := orchestrator.NewClient(s.cfg.BaseURL(), clientOpts...)

	log := s.logger.Info().
		Str("orchestrator", client.BaseURL()).
		Str("environment", string(s.cfg.Environment)).
		Int("workers", workers).
		Int("cpus", s.cpus).
		Bool("anonymous", id.Anonymous).
		Bool("just_once", s.cfg.JustOnce).
		Str("decode_policy", s.cfg.DecodePolicy.String())
	if !id.Anonymous {
		log = log.Str("node_id", id.NodeID)
	}
	log.Msg("starting prover node")

	stopMetrics, err := s.serveMetrics()
	if err != nil {
		return err
	}
	defer stopMetrics()

	var opts []progress.SinkOption
	if s.out != nil {
		opts = append(opts, progress.WithRenderer(progress.NewTerminalRenderer(s.out)))
	}
	s.sink = progress.NewSink(s.logger, opts...)
	status := progress.NewChannel()
	sinkDone := make(chan struct{})
	go func() {
		// drains until close(status)
		s.sink.Run(context.Background(), status)
		close(sinkDone)
	}()

	telemetry.Emit(analytics.EventNodeStarted, analytics.Properties{
		"workers":   workers,
		"anonymous": id.Anonymous,
	})

	pool := worker.Spawn(ctx, workers, worker.Config{
		NodeID:       id.NodeID,
		Anonymous:    id.Anonymous,
		JustOnce:     s.cfg.JustOnce,
		FetchTimeout: s.cfg.FetchTimeout,
		Cooldown:     s.cfg.Cooldown,
		Backoff:      s.cfg.Backoff(),
		Decode:       s.cfg.DecodePolicy,
	}, worker.Deps{
		Client:        client,
		Status:        status,
		Telemetry:     telemetry,
		Metrics:       s.metrics,
		Logger:        s.logger,
		NodeTelemetry: s.nodeInfo,
		Sleep:         s.sleep,
	}, s.prover)

	runErr := pool.Join()
	close(status)
	<-sinkDone

	telemetry.Emit(analytics.EventNodeStopped, analytics.Properties{
		"proofs": pool.Successes(),
	})

	ev := s.logger.Info()
	if runErr != nil {
		ev = s.logger.Error().Err(runErr)
	}
	ev.Int("proofs", pool.Successes()).Msg("prover node stopped")
	return runErr
}

func (s *Supervisor) serveMetrics() (func(), error) {
	if s.cfg.MetricsAddr == "" {
		return func() {}, nil
	}
	ln, err := net.Listen("tcp", s.cfg.MetricsAddr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
