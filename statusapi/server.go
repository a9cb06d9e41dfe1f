// Package statusapi exposes a loopback-only HTTP surface for health,
// Prometheus metrics, and a live event stream. It is purely ambient: the
// core connection lifecycle never observes or depends on this package.
package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/littledino2112/universal-clipboard/controller"
	"github.com/littledino2112/universal-clipboard/session"
)

// Metrics holds every Prometheus collector this process exposes, all
// registered against a private registry rather than the global default one
// so embedding this module never pollutes a host process's own metrics
// namespace.
type Metrics struct {
	Registry            *prometheus.Registry
	HandshakeAttempts   *prometheus.CounterVec
	HandshakeFailures   *prometheus.CounterVec
	ReconnectAttempts   prometheus.Counter
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	ImageTransferSeconds prometheus.Histogram
}

// NewMetrics builds and registers a fresh Metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		HandshakeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uclip_handshake_attempts_total",
			Help: "Handshake attempts by pattern.",
		}, []string{"pattern"}),
		HandshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uclip_handshake_failures_total",
			Help: "Handshake failures by pattern.",
		}, []string{"pattern"}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uclip_reconnect_attempts_total",
			Help: "Automatic reconnect attempts.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uclip_bytes_sent_total",
			Help: "Application-layer plaintext bytes sent.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uclip_bytes_received_total",
			Help: "Application-layer plaintext bytes received.",
		}),
		ImageTransferSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uclip_image_transfer_seconds",
			Help:    "Duration of completed image transfers.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.HandshakeAttempts, m.HandshakeFailures, m.ReconnectAttempts,
		m.BytesSent, m.BytesReceived, m.ImageTransferSeconds)

	return m
}

// Recorder adapts Metrics into the narrow interfaces Controller.SetMetrics
// and session's writer/dispatcher consume, leaving Metrics's exported
// Counter/Histogram fields free for direct use in tests and other
// collectors.
type Recorder struct {
	m *Metrics
}

// Recorder returns the adapter satisfying controller.MetricsRecorder.
func (m *Metrics) Recorder() Recorder { return Recorder{m: m} }

func (r Recorder) HandshakeAttempt(pattern string) { r.m.HandshakeAttempts.WithLabelValues(pattern).Inc() }
func (r Recorder) HandshakeFailure(pattern string) { r.m.HandshakeFailures.WithLabelValues(pattern).Inc() }
func (r Recorder) ReconnectAttempt()                { r.m.ReconnectAttempts.Inc() }
func (r Recorder) BytesSent(n int)                  { r.m.BytesSent.Add(float64(n)) }
func (r Recorder) BytesReceived(n int)              { r.m.BytesReceived.Add(float64(n)) }
func (r Recorder) ImageTransferObserved(d time.Duration) {
	r.m.ImageTransferSeconds.Observe(d.Seconds())
}

// Server is the loopback status/health/metrics/event-stream HTTP surface.
type Server struct {
	instanceID string
	ctrl       *controller.Controller
	metrics    *Metrics
	router     chi.Router
	upgrader   websocket.Upgrader

	subsMu sync.Mutex
	subs   []*eventSubscriber
}

// New builds a Server. ctrl supplies connection state for /healthz;
// metrics supplies the private registry served at /metrics; bus is
// subscribed to for the /events stream.
func New(ctrl *controller.Controller, metrics *Metrics, bus *session.Bus) *Server {
	s := &Server{
		instanceID: uuid.NewString(),
		ctrl:       ctrl,
		metrics:    metrics,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.Logger)
	r.Use(httprate.LimitByIP(120, time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/events", s.handleEvents)

	s.router = r

	bus.On(s.broadcast)

	return s
}

// ServeHTTP implements http.Handler by delegating to the internal router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthzResponse struct {
	Status          string `json:"status"`
	InstanceID      string `json:"instance_id"`
	ConnectionState string `json:"connection_state"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{
		Status:          "ok",
		InstanceID:      s.instanceID,
		ConnectionState: s.ctrl.State().String(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logrus.WithFields(logrus.Fields{"function": "Server.handleHealthz"}).Warn("failed to encode response: ", err)
	}
}

// eventSubscriber tracks one /events websocket connection.
type eventSubscriber struct {
	conn *websocket.Conn
	send chan session.Event
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{"function": "Server.handleEvents"}).Warn("websocket upgrade failed: ", err)
		return
	}

	sub := &eventSubscriber{conn: conn, send: make(chan session.Event, 32)}
	s.addSubscriber(sub)
	defer s.removeSubscriber(sub)

	for ev := range sub.send {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (s *Server) addSubscriber(sub *eventSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = append(s.subs, sub)
}

func (s *Server) removeSubscriber(sub *eventSubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, other := range s.subs {
		if other == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	close(sub.send)
	sub.conn.Close()
}

func (s *Server) broadcast(ev session.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.send <- ev:
		default:
		}
	}
}
