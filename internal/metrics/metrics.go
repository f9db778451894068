package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "rudis"

// Metrics holds the prometheus collectors of the server. A nil *Metrics disables every hook
type Metrics struct {
	registry *prometheus.Registry

	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	connectedClients  prometheus.Gauge
	persistenceErrors *prometheus.CounterVec
}

// New creates the collectors on a private registry together with the go runtime and process collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Number of processed commands.",
		}, []string{"command"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"command"}),
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of open client connections.",
		}),
		persistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_errors_total",
			Help:      "Failed snapshot and append only file writes.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.commands,
		m.commandDuration,
		m.connectedClients,
		m.persistenceErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry exposes the private registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCommand counts one execution of command and its latency
func (m *Metrics) ObserveCommand(command string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(command).Inc()
	m.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ClientConnected and ClientDisconnected track the open connections
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.connectedClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.connectedClients.Dec()
}

// PersistenceError counts a failed write. kind is "aof" or "rdb"
func (m *Metrics) PersistenceError(kind string) {
	if m == nil {
		return
	}
	m.persistenceErrors.WithLabelValues(kind).Inc()
}

// TrackExpiredKeys exposes a monotonic counter owned by the keyspace
func (m *Metrics) TrackExpiredKeys(value func() uint64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "expired_keys_total",
		Help:      "Keys removed because their TTL passed.",
	}, func() float64 {
		return float64(value())
	}))
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server is the HTTP endpoint exposing /metrics
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// Listen binds address and prepares the /metrics endpoint
func (m *Metrics) Listen(address string, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve blocks until Shutdown
func (s *Server) Serve() {
	s.logger.Info("Metrics endpoint listening", zap.String("address", s.listener.Addr().String()))
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Metrics server failed", zap.Error(err))
	}
}

// Shutdown stops accepting scrapes and waits for in flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
