package sensorhub

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/sensorhub/internal/adapters/calstore"
	"github.com/ghalamif/sensorhub/internal/adapters/firmware/serialfw"
	"github.com/ghalamif/sensorhub/internal/adapters/firmware/sysfs"
	"github.com/ghalamif/sensorhub/internal/adapters/monitor"
	"github.com/ghalamif/sensorhub/internal/adapters/natspub"
	"github.com/ghalamif/sensorhub/internal/adapters/observability"
	"github.com/ghalamif/sensorhub/internal/adapters/queue"
	"github.com/ghalamif/sensorhub/internal/adapters/sink"
	"github.com/ghalamif/sensorhub/internal/app/broker"
	"github.com/ghalamif/sensorhub/internal/app/pipeline"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
	"github.com/ghalamif/sensorhub/internal/ports"
)

// FirmwareOpener opens a fresh firmware channel. The runtime calls it once per
// firmware generation and closes the channel when the generation ends.
type FirmwareOpener func() (Firmware, error)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	openFirmware  FirmwareOpener
	store         CalibrationStore
	observability Observability
	sinks         []EventSink
	listener      net.Listener
	resources     []ResourceDescriptor
}

// WithFirmware replaces the configured sysfs or serial driver, e.g. with a simulator.
func WithFirmware(open FirmwareOpener) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.openFirmware = open
	}
}

// WithCalibrationStore injects a custom calibration blob store.
func WithCalibrationStore(store CalibrationStore) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.store = store
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithEventSink adds a sink for hub events. It may be given more than once.
func WithEventSink(s EventSink) RuntimeOption {
	return func(o *runtimeOverrides) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithListener serves clients on ln instead of the configured unix socket.
// The caller keeps ownership of ln.
func WithListener(ln net.Listener) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.listener = ln
	}
}

// WithResources supplies a static resource table and skips firmware discovery.
func WithResources(descs ...ResourceDescriptor) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.resources = append(o.resources, descs...)
	}
}

// Runtime owns the broker across firmware generations together with the event
// pipeline and the HTTP surface (metrics, health, websocket monitor).
type Runtime struct {
	cfg          *Config
	policy       ports.Policy
	obs          ports.Observability
	openFirmware FirmwareOpener
	store        ports.CalibrationStore
	resources    []domain.ResourceDescriptor
	events       *queue.MemQueue[domain.HubEvent]
	sinks        []ports.EventSink
	monitor      *monitor.Hub
	nats         *natspub.Publisher
	dbs          []*sql.DB

	ln           net.Listener
	ownsListener bool

	mu     sync.Mutex
	broker *broker.Broker
	bootID string
	idle   bool

	httpSrv      *http.Server
	gaugeStopCh  chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRuntime builds the default adapters from cfg: the firmware driver it
// names, a file or Postgres calibration store, Prometheus observability and
// the enabled event sinks. RuntimeOption values override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	rt := &Runtime{
		cfg:       cfg,
		policy:    cfg.Policy,
		resources: cfg.Resources,
		events:    queue.NewMemQueue[domain.HubEvent](cfg.Policy.MaxEventQueue),
		ln:        overrides.listener,
	}
	if len(overrides.resources) > 0 {
		rt.resources = overrides.resources
	}

	rt.obs = overrides.observability
	if rt.obs == nil {
		logger, err := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
		rt.obs = observability.NewPromObs(logger)
	}

	rt.openFirmware = overrides.openFirmware
	if rt.openFirmware == nil {
		open, err := firmwareOpener(cfg.Firmware)
		if err != nil {
			return nil, err
		}
		rt.openFirmware = open
	}

	rt.store = overrides.store
	if rt.store == nil {
		store, err := rt.openStore()
		if err != nil {
			rt.closeDBs()
			return nil, err
		}
		rt.store = store
	}

	if err := rt.buildSinks(overrides.sinks); err != nil {
		rt.closeDBs()
		return nil, err
	}
	return rt, nil
}

func firmwareOpener(cfg FirmwareConfig) (FirmwareOpener, error) {
	switch cfg.Driver {
	case "", "sysfs":
		return func() (Firmware, error) {
			ch, err := sysfs.Open(cfg.Sysfs)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}, nil
	case "serial":
		return func() (Firmware, error) {
			ch, err := serialfw.Open(cfg.Serial)
			if err != nil {
				return nil, err
			}
			return ch, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown firmware driver %q", cfg.Driver)
	}
}

func (r *Runtime) openStore() (ports.CalibrationStore, error) {
	switch r.cfg.Calibration.Store {
	case "postgres":
		db, err := sql.Open("postgres", r.cfg.Calibration.Postgres.ConnString)
		if err != nil {
			return nil, err
		}
		r.dbs = append(r.dbs, db)
		return calstore.NewSQLStore(db, r.cfg.Calibration.Postgres.Table), nil
	default:
		return calstore.NewFileStore(r.cfg.Calibration.Dir)
	}
}

func (r *Runtime) buildSinks(extra []EventSink) error {
	r.sinks = append(r.sinks, extra...)
	if r.cfg.Monitor.Enabled {
		r.monitor = monitor.NewHub()
		r.sinks = append(r.sinks, r.monitor)
	}
	if r.cfg.NATS.Enabled() {
		pub, err := natspub.Connect(r.cfg.NATS.Config, r.obs)
		if err != nil {
			return err
		}
		r.nats = pub
		r.sinks = append(r.sinks, pub)
	}
	if r.cfg.Journal.Enabled {
		db, err := sql.Open("postgres", r.cfg.Journal.ConnString)
		if err != nil {
			return err
		}
		r.dbs = append(r.dbs, db)
		r.sinks = append(r.sinks, sink.NewJournalSink(db, r.cfg.Journal.Table))
	}
	return nil
}

// Run serves clients until ctx is cancelled, reopening the firmware after
// every fatal channel error. Cancellation is not an error.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("runtime is nil")
	}
	ln, err := r.listen()
	if err != nil {
		return err
	}
	r.startHTTP()

	pipeCtx, stopPipeline := context.WithCancel(context.Background())
	pipeDone := make(chan struct{})
	go func() {
		pipeline.RunEventPipeline(pipeCtx, r.events, r.sinks, r.policy, r.obs)
		close(pipeDone)
	}()

	runErr := r.serveLoop(ctx, ln)

	if r.ownsListener {
		_ = ln.Close()
		_ = os.Remove(r.cfg.Socket.Path)
	}
	r.drainEvents()
	stopPipeline()
	<-pipeDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(runErr, r.Shutdown(shutdownCtx))
}

func (r *Runtime) serveLoop(ctx context.Context, ln net.Listener) error {
	backoff := r.cfg.Firmware.RestartBackoff
	for {
		err := r.serveGeneration(ctx, ln)
		if ctx.Err() != nil {
			return nil
		}
		if !errs.IsFatal(err) {
			return err
		}

		r.obs.IncCounter(ports.MetricFirmwareRestarts, 1)
		r.obs.LogCritical("firmware_restart", err,
			ports.Field{Key: "boot_id", Value: r.BootID()},
			ports.Field{Key: "backoff", Value: backoff.String()})
		pipeline.Emit(r.events, domain.HubEvent{
			Kind:   domain.EventFirmwareRestart,
			BootID: r.BootID(),
			Detail: err.Error(),
		}, r.obs)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// serveGeneration runs one firmware generation: open, setup, discover, serve.
// Sessions do not survive it.
func (r *Runtime) serveGeneration(ctx context.Context, ln net.Listener) error {
	fw, err := r.openFirmware()
	if err != nil {
		return errs.WrapFatal(err, "sensorhub", "Run", "open firmware")
	}
	defer fw.Close()

	descs, err := broker.Setup(ctx, fw, r.resources, r.cfg.Firmware.DiscoverTimeout)
	if err != nil {
		return err
	}

	bootID := uuid.NewString()
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	b, err := broker.New(broker.Options{
		Resources: descs,
		Firmware:  fw,
		Store:     r.store,
		Events:    r.events,
		Policy:    r.policy,
		Obs:       r.obs,
		BootID:    bootID,
		Idle:      idle,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.broker = b
	r.bootID = bootID
	if r.idle != idle {
		b.SetIdle(r.idle)
	}
	r.mu.Unlock()

	r.obs.LogInfo("firmware_ready",
		ports.Field{Key: "boot_id", Value: bootID},
		ports.Field{Key: "resources", Value: len(descs)})

	err = b.Serve(ctx, ln)

	r.mu.Lock()
	r.broker = nil
	r.mu.Unlock()
	return err
}

// SetIdle moves the hub into or out of the idle state. The request outlives
// firmware restarts.
func (r *Runtime) SetIdle(idle bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idle = idle
	if r.broker != nil {
		r.broker.SetIdle(idle)
	}
	r.obs.LogInfo("idle_state_requested", ports.Field{Key: "idle", Value: idle})
}

// BootID identifies the current firmware generation. It is empty before the
// first generation is up.
func (r *Runtime) BootID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bootID
}

// Serving reports whether a broker is currently accepting clients.
func (r *Runtime) Serving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broker != nil
}

func (r *Runtime) listen() (net.Listener, error) {
	if r.ln != nil {
		return r.ln, nil
	}
	path := r.cfg.Socket.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, err
	}
	r.ln = ln
	r.ownsListener = true
	return ln, nil
}

// Shutdown stops the HTTP server and closes the NATS connection and databases.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		var errList []error

		if r.gaugeStopCh != nil {
			close(r.gaugeStopCh)
		}

		if r.httpSrv != nil {
			if err := r.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errList = append(errList, err)
			}
		}

		if r.nats != nil {
			r.nats.Close()
		}

		if err := r.closeDBs(); err != nil {
			errList = append(errList, err)
		}

		r.shutdownErr = errors.Join(errList...)
	})
	return r.shutdownErr
}

func (r *Runtime) closeDBs() error {
	var errList []error
	for _, db := range r.dbs {
		if err := db.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	r.dbs = nil
	return errors.Join(errList...)
}

func (r *Runtime) startHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !r.Serving() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("firmware unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if r.monitor != nil {
		mux.Handle(r.cfg.Monitor.Path, r.monitor)
	}

	r.httpSrv = &http.Server{
		Addr:              r.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := r.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("http_server_exited", err, ports.Field{Key: "addr", Value: r.cfg.Metrics.Addr})
		}
	}()

	r.gaugeStopCh = make(chan struct{})
	go r.recordGauges(r.gaugeStopCh, time.Second)
}

func (r *Runtime) recordGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.obs.SetGauge(ports.MetricEventQueueLength, float64(r.events.Len()))
			if r.monitor != nil {
				r.obs.SetGauge(ports.MetricMonitorClients, float64(r.monitor.Clients()))
			}
		}
	}
}

// drainEvents gives the pipeline a moment to flush the final session events.
func (r *Runtime) drainEvents() {
	deadline := time.Now().Add(time.Second)
	for r.events.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(r.policy.IdleSleep + time.Millisecond)
	}
}
