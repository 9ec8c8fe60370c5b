// Package metrics holds the Prometheus collectors for authentication and session activity.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultLocked  = "locked"
	ResultDenied  = "denied"
)

// Metrics records auth and session counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry            *prometheus.Registry
	logins              *prometheus.CounterVec
	sessionsCreated     *prometheus.CounterVec
	sessionsDeactivated *prometheus.CounterVec
	tokenRefresh        *prometheus.CounterVec
	sessionsPurged      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry that also carries the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by auth entity and result",
		}, []string{"entity", "result"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sessions_created_total",
			Help: "Sessions created by auth entity",
		}, []string{"entity"}),
		sessionsDeactivated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sessions_deactivated_total",
			Help: "Sessions moved to inactive by auth entity and reason",
		}, []string{"entity", "reason"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Token refresh attempts by result",
		}, []string{"result"}),
		sessionsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_sessions_purged_total",
			Help: "Sessions deleted by maintenance purges by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.logins, m.sessionsCreated, m.sessionsDeactivated, m.tokenRefresh, m.sessionsPurged)
	return m
}

func (m *Metrics) Login(entity, result string) {
	if m != nil {
		m.logins.WithLabelValues(entity, result).Inc()
	}
}

func (m *Metrics) SessionCreated(entity string) {
	if m != nil {
		m.sessionsCreated.WithLabelValues(entity).Inc()
	}
}

// SessionsDeactivated adds n deactivations; entity is "*" for cross-entity logouts.
func (m *Metrics) SessionsDeactivated(entity, reason string, n int64) {
	if m != nil && n > 0 {
		m.sessionsDeactivated.WithLabelValues(entity, reason).Add(float64(n))
	}
}

func (m *Metrics) TokenRefresh(result string) {
	if m != nil {
		m.tokenRefresh.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionsPurged(kind string, n int64) {
	if m != nil && n > 0 {
		m.sessionsPurged.WithLabelValues(kind).Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("metrics server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
