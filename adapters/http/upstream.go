package http

import (
	"net/http"
	"time"
)

// UpstreamConfig tunes the outbound *http.Client the Dispatcher sends
// requests through.
type UpstreamConfig struct {
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// NewUpstreamClient builds the client the Dispatcher uses to reach
// upstream services. It carries no Client.Timeout: per-request
// deadlines (§5, default 30s) are applied by the caller via
// context.WithTimeout so a slow or intentionally long-lived streaming
// response isn't cut off by a client-wide timer. *http.Client already
// satisfies ports.Upstream, so no adapter type is needed beyond this
// constructor.
func NewUpstreamClient(cfg UpstreamConfig) *http.Client {
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}
	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
	}
	return &http.Client{Transport: transport}
}
