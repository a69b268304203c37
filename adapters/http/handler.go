// Package http provides the chi router and handlers for the proxy
// service: the catch-all dispatch handler and the ping/status/metrics
// local endpoints of §4.6.
package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/artpar/geoproxy/adapters/idgen"
	"github.com/artpar/geoproxy/adapters/metrics"
	"github.com/artpar/geoproxy/app"
	"github.com/artpar/geoproxy/domain/proxyerr"
	"github.com/artpar/geoproxy/domain/referrer"
	"github.com/artpar/geoproxy/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ProxyHandler adapts DispatchService to net/http: it runs the
// request through the pipeline and either streams the upstream
// response back or writes the standard error body of §6.
type ProxyHandler struct {
	dispatch *app.DispatchService
	logger   zerolog.Logger
}

// NewProxyHandler builds a ProxyHandler.
func NewProxyHandler(dispatch *app.DispatchService, logger zerolog.Logger) *ProxyHandler {
	return &ProxyHandler{dispatch: dispatch, logger: logger}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, perr := h.dispatch.Handle(r)
	if perr != nil {
		writeProxyError(w, r, perr)
		return
	}
	defer resp.Body.Close()

	dst := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn().
			Str("component", "proxy_handler").
			Err(err).
			Msg("streaming upstream response to client failed")
	}
}

// writeProxyError writes the standard §6 error body.
func writeProxyError(w http.ResponseWriter, r *http.Request, perr *proxyerr.Error) {
	body := proxyerr.NewBody(perr.Status, r.URL.RequestURI(), perr.Message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(perr.Status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusHandler serves §4.6's /ping and /status endpoints.
type StatusHandler struct {
	status *app.StatusService
	rules  *app.RuleTableService
	logger zerolog.Logger
}

// NewStatusHandler builds a StatusHandler.
func NewStatusHandler(status *app.StatusService, rules *app.RuleTableService, logger zerolog.Logger) *StatusHandler {
	return &StatusHandler{status: status, rules: rules, logger: logger}
}

// Ping handles GET <pingPath>: no referrer or rate-meter check.
func (h *StatusHandler) Ping(w http.ResponseWriter, r *http.Request) {
	resp := h.status.Ping(r.Header.Get("Referer"))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Status handles GET <statusPath>: requires a validated referrer.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.referrerValidated(r) {
		writeProxyError(w, r, proxyerr.New(proxyerr.KindReferrerDenied, http.StatusForbidden, "referrer not allowed"))
		return
	}

	html, err := h.status.StatusHTML()
	if err != nil {
		h.logger.Error().Str("component", "status_handler").Err(err).Msg("rendering status page failed")
		writeProxyError(w, r, proxyerr.New(proxyerr.KindUpstreamTransport, http.StatusInternalServerError, err.Error()))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, html)
}

// Metrics wraps next (normally promhttp.Handler()) behind the same
// referrer gate as Status, per SPEC_FULL's §4.6 addition.
func (h *StatusHandler) Metrics(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.referrerValidated(r) {
			writeProxyError(w, r, proxyerr.New(proxyerr.KindReferrerDenied, http.StatusForbidden, "referrer not allowed"))
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (h *StatusHandler) referrerValidated(r *http.Request) bool {
	c := h.rules.Current()
	if c == nil {
		return false
	}
	_, ok := referrer.Validate(r.Header.Get("Referer"), c.Referrers)
	return ok
}

// NewRouter wires the proxy catch-all and local endpoints behind
// request-ID, real-IP, logging, and panic-recovery middleware, in the
// teacher lineage's standard order.
func NewRouter(proxyHandler *ProxyHandler, statusHandler *StatusHandler, pingPath, statusPath string, logger zerolog.Logger, m *metrics.Collector) chi.Router {
	r := chi.NewRouter()

	r.Use(NewRequestIDMiddleware(idgen.UUID{}))
	r.Use(middleware.RealIP)
	r.Use(NewMetricsMiddleware(m))
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get(pingPath, statusHandler.Ping)
	r.Get(statusPath, statusHandler.Status)
	r.Get("/metrics", statusHandler.Metrics(promhttp.Handler()).ServeHTTP)

	r.NotFound(proxyHandler.ServeHTTP)
	r.MethodNotAllowed(proxyHandler.ServeHTTP)

	return r
}

// NewRequestIDMiddleware stamps each request with an ID from gen,
// stored under chi's own request-ID context key so middleware.GetReqID
// and chi's RequestID-aware logging still work downstream. Replaces
// chi's built-in counter-based generator with one for log correlation
// across instances.
func NewRequestIDMiddleware(gen ports.IDGenerator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.RequestIDKey, gen.New())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewMetricsMiddleware records the three request-level Prometheus
// series every handler (proxy catch-all, ping, status, metrics itself)
// passes through: in-flight gauge, total counter, and duration
// histogram, labeled by method and response status.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := strconv.Itoa(ww.Status())
			m.RequestsTotal.WithLabelValues(r.Method, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, status).Observe(time.Since(start).Seconds())
		})
	}
}

// NewLoggingMiddleware logs each request at debug level once it
// completes.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
