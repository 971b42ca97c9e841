package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-coach/internal/alert"
	"github.com/loqalabs/loqa-coach/internal/bus"
	"github.com/loqalabs/loqa-coach/internal/challenge"
	"github.com/loqalabs/loqa-coach/internal/coach"
	"github.com/loqalabs/loqa-coach/internal/config"
	"github.com/loqalabs/loqa-coach/internal/eventstore"
	"github.com/loqalabs/loqa-coach/internal/httpapi"
	"github.com/loqalabs/loqa-coach/internal/natsserver"
	"github.com/loqalabs/loqa-coach/internal/pace"
	"github.com/loqalabs/loqa-coach/internal/snapcache"
	"github.com/loqalabs/loqa-coach/internal/upstream"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = time.Hour
)

type Runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	version string
	ready   atomic.Bool

	mu          sync.Mutex
	addr        string
	metricsAddr string

	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	events  *eventstore.Store
	redis   *redis.Client
	exec    *alert.ExecSink
	coach   *coach.Service
	monitor *upstream.Monitor
}

func New(cfg config.Config, logger *slog.Logger, version string) *Runtime {
	return &Runtime{
		cfg:     cfg,
		logger:  logger,
		version: version,
	}
}

// Addr returns the API listener address once the runtime is serving.
func (r *Runtime) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// MetricsAddr returns the dedicated Prometheus listener address, if any.
func (r *Runtime) MetricsAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metricsAddr
}

// Ready reports whether every component is wired and serving.
func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

// Start wires every component and blocks until ctx is cancelled or a server
// fails.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	metricsHandler := tel.Handler()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	catalog, err := r.setup(ctx)
	if err != nil {
		r.teardown()
		return err
	}
	defer r.teardown()

	router := httpapi.NewRouter(httpapi.Options{
		Coach:   r.coach,
		Catalog: catalog,
		Ready:   r.ready.Load,
		Checks:  r.checks(),
		Metrics: metricsHandler,
		Logger:  r.logger,
	})
	apiServer, apiLn, err := listen(fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port), router)
	if err != nil {
		return err
	}
	servers := []*http.Server{apiServer}
	listeners := []net.Listener{apiLn}

	var metricsLn net.Listener
	if r.cfg.Telemetry.PrometheusBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		var metricsServer *http.Server
		metricsServer, metricsLn, err = listen(r.cfg.Telemetry.PrometheusBind, mux)
		if err != nil {
			_ = apiLn.Close()
			return err
		}
		servers = append(servers, metricsServer)
		listeners = append(listeners, metricsLn)
	}

	r.mu.Lock()
	r.addr = apiLn.Addr().String()
	if metricsLn != nil {
		r.metricsAddr = metricsLn.Addr().String()
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", ln.Addr(), err)
			}
			return nil
		})
	}
	if r.monitor != nil {
		g.Go(func() error { return r.monitor.Run(gctx) })
	}
	g.Go(func() error { return r.events.RunPruner(gctx, pruneInterval) })
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.Addr()),
		slog.String("metrics_addr", r.MetricsAddr()),
		slog.Int("challenges", catalog.Len()))

	return g.Wait()
}

func (r *Runtime) setup(ctx context.Context) (*challenge.Catalog, error) {
	catalog, err := challenge.LoadCatalog(r.cfg.Challenges.Path, r.cfg.Challenges.IncludeBuiltin)
	if err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}

	busCfg := r.cfg.Bus
	r.nats, err = natsserver.Start(busCfg, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return nil, err
	}
	if r.nats != nil {
		busCfg.Servers = []string{r.nats.ClientURL()}
	}
	r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return nil, err
	}

	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	var cache *snapcache.Cache
	if r.cfg.Cache.Enabled {
		r.redis = snapcache.NewClient(r.cfg.Cache)
		if err := r.redis.Ping(ctx).Err(); err != nil {
			r.logger.Warn("snapshot cache unreachable", slog.String("addr", r.cfg.Cache.Addr), slog.String("error", err.Error()))
		}
		cache = snapcache.New(r.redis, r.cfg.Cache.KeyPrefix, time.Duration(r.cfg.Cache.TTLSeconds)*time.Second)
	}

	sink, err := r.alertSink()
	if err != nil {
		return nil, err
	}

	r.coach, err = coach.New(ctx, coach.Options{
		Config:    r.cfg.Coach,
		Catalog:   catalog,
		Publisher: r.bus,
		AlertSink: sink,
		Cache:     cache,
		Events:    r.events,
		Logger:    r.logger,
	})
	if err != nil {
		return nil, err
	}
	if r.cfg.Upstream.Enabled {
		r.monitor = upstream.NewMonitor(r.cfg.Upstream, r.coach.UpstreamLost, r.logger)
		r.coach.AttachUpstream(r.monitor)
	}
	if err := r.coach.Subscribe(r.bus.Conn()); err != nil {
		return nil, err
	}
	return catalog, nil
}

func (r *Runtime) alertSink() (pace.AlertSink, error) {
	var sinks alert.Multi
	if r.cfg.Alerts.Log {
		sinks = append(sinks, alert.NewLogSink(r.logger))
	}
	if r.cfg.Alerts.Bus {
		sinks = append(sinks, alert.NewBusSink(r.bus))
	}
	if r.cfg.Alerts.ExecCommand != "" {
		exec, err := alert.NewExecSink(r.cfg.Alerts.ExecCommand, time.Duration(r.cfg.Alerts.ExecTimeout)*time.Millisecond, r.logger)
		if err != nil {
			return nil, err
		}
		r.exec = exec
		sinks = append(sinks, exec)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

func (r *Runtime) checks() map[string]httpapi.Check {
	checks := map[string]httpapi.Check{
		"bus": func(context.Context) error {
			if !r.bus.Healthy() {
				return errors.New("not connected")
			}
			return nil
		},
	}
	if r.redis != nil {
		checks["cache"] = func(ctx context.Context) error {
			return r.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// teardown releases components in reverse dependency order. It tolerates a
// partially completed setup.
func (r *Runtime) teardown() {
	if r.coach != nil {
		r.coach.Close()
	}
	if r.exec != nil {
		r.exec.Wait()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.redis != nil {
		if err := r.redis.Close(); err != nil {
			r.logger.Error("cache close error", slog.String("error", err.Error()))
		}
	}
}

func listen(addr string, handler http.Handler) (*http.Server, net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}, ln, nil
}
