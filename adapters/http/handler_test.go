package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apihttp "github.com/artpar/geoproxy/adapters/http"
	"github.com/artpar/geoproxy/adapters/clock"
	"github.com/artpar/geoproxy/adapters/metrics"
	"github.com/artpar/geoproxy/app"
	"github.com/artpar/geoproxy/config"
	"github.com/artpar/geoproxy/domain/ratelimit"
	"github.com/artpar/geoproxy/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type nopRateMeter struct{ admit bool }

func (n nopRateMeter) Admit(ports.BucketKey, ratelimit.Config, time.Time) bool { return n.admit }
func (n nopRateMeter) Dump() []ratelimit.Snapshot                             { return nil }
func (n nopRateMeter) Reap(time.Time, time.Duration) int                     { return 0 }
func (n nopRateMeter) Close()                                                {}

type stubTokenCache struct{}

func (stubTokenCache) Get(ctx context.Context, ruleIndex int) (string, error) { return "", nil }
func (stubTokenCache) Invalidate(ruleIndex int)                               {}

type upstreamFunc func(req *http.Request) (*http.Response, error)

func (f upstreamFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func buildRouter(t *testing.T, cfg *config.Config, upstream ports.Upstream) http.Handler {
	r, _ := buildRouterWithMetrics(t, cfg, upstream, nil)
	return r
}

func buildRouterWithMetrics(t *testing.T, cfg *config.Config, upstream ports.Upstream, m *metrics.Collector) (http.Handler, *app.DispatchService) {
	t.Helper()
	rules := app.NewRuleTableService()
	if err := rules.Reload(cfg); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	dispatcher := apihttp.NewDispatcher(upstream)
	dispatch := app.NewDispatchService(rules, nopRateMeter{admit: true}, stubTokenCache{}, dispatcher, clock.NewFake(time.Now()), zerolog.Nop(), m)
	status := app.NewStatusService(rules, dispatch, nopRateMeter{admit: true}, clock.NewFake(time.Now()))

	proxyHandler := apihttp.NewProxyHandler(dispatch, zerolog.Nop())
	statusHandler := apihttp.NewStatusHandler(status, rules, zerolog.Nop())

	return apihttp.NewRouter(proxyHandler, statusHandler, cfg.PingPath, cfg.StatusPath, zerolog.Nop(), m), dispatch
}

func TestRouter_Ping_NoReferrerRequired(t *testing.T) {
	cfg := &config.Config{
		PingPath:   "/ping",
		StatusPath: "/status",
		MatchAllReferrer: false,
		AllowedReferrers: []string{"https://allowed.example.com"},
		ServerUrls: []config.ServerURL{{URL: "https://geo.example.com/rest"}},
	}
	router := buildRouter(t, cfg, upstreamFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("ping must not reach upstream")
		return nil, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("body = %s, want ok:true", rec.Body.String())
	}
}

func TestRouter_Status_RequiresReferrer(t *testing.T) {
	cfg := &config.Config{
		PingPath:         "/ping",
		StatusPath:       "/status",
		MatchAllReferrer: false,
		AllowedReferrers: []string{"https://allowed.example.com"},
		ServerUrls:       []config.ServerURL{{URL: "https://geo.example.com/rest"}},
	}
	router := buildRouter(t, cfg, upstreamFunc(nil))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status without referrer = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Referer", "https://allowed.example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with referrer = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), app.Version) {
		t.Error("status page missing version")
	}
}

func TestRouter_Proxy_NoRuleMatch(t *testing.T) {
	cfg := &config.Config{
		PingPath:         "/ping",
		StatusPath:       "/status",
		MatchAllReferrer: true,
		ServerUrls:       []config.ServerURL{{URL: "https://geo.example.com/rest"}},
	}
	router := buildRouter(t, cfg, upstreamFunc(nil))

	req := httptest.NewRequest(http.MethodGet, "/https/other.example.com/rest/info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":404`) {
		t.Errorf("body = %s, want code 404", rec.Body.String())
	}
}

func TestRouter_Proxy_StreamsUpstreamResponse(t *testing.T) {
	cfg := &config.Config{
		PingPath:         "/ping",
		StatusPath:       "/status",
		MatchAllReferrer: true,
		ServerUrls:       []config.ServerURL{{URL: "https://geo.example.com/rest"}},
	}
	router := buildRouter(t, cfg, upstreamFunc(func(req *http.Request) (*http.Response, error) {
		return httptest.NewRecorder().Result(), nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/https/geo.example.com/rest/info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRouter_MetricsMiddleware_RecordsRequests(t *testing.T) {
	cfg := &config.Config{
		PingPath:         "/ping",
		StatusPath:       "/status",
		MatchAllReferrer: true,
		ServerUrls:       []config.ServerURL{{URL: "https://geo.example.com/rest"}},
	}
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	router, _ := buildRouterWithMetrics(t, cfg, upstreamFunc(func(req *http.Request) (*http.Response, error) {
		return httptest.NewRecorder().Result(), nil
	}), m)

	req := httptest.NewRequest(http.MethodGet, "/https/geo.example.com/rest/info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	var sawTotal, sawDuration bool
	for _, f := range families {
		switch f.GetName() {
		case "geoproxy_requests_total":
			sawTotal = true
			if len(f.GetMetric()) == 0 || f.GetMetric()[0].GetCounter().GetValue() != 1 {
				t.Errorf("geoproxy_requests_total not incremented as expected")
			}
		case "geoproxy_request_duration_seconds":
			sawDuration = true
			if len(f.GetMetric()) == 0 || f.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
				t.Errorf("geoproxy_request_duration_seconds not observed as expected")
			}
		}
	}
	if !sawTotal {
		t.Error("geoproxy_requests_total series not found")
	}
	if !sawDuration {
		t.Error("geoproxy_request_duration_seconds series not found")
	}

	if testing.Short() {
		return
	}
	// RequestsInFlight should have returned to 0 after the request completed.
	gauges, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range gauges {
		if f.GetName() == "geoproxy_requests_in_flight" {
			if len(f.GetMetric()) == 0 || f.GetMetric()[0].GetGauge().GetValue() != 0 {
				t.Errorf("geoproxy_requests_in_flight = %v, want 0 after request completes", f.GetMetric()[0].GetGauge().GetValue())
			}
		}
	}
}
