// Package bootstrap wires all dependencies and starts the application.
// Configuration is loaded from a JSON file on disk (§6), with a small
// set of environment variables for overriding values that must be
// settable without editing the file in containerized deployments.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/artpar/geoproxy/adapters/clock"
	"github.com/artpar/geoproxy/adapters/credential"
	apihttp "github.com/artpar/geoproxy/adapters/http"
	"github.com/artpar/geoproxy/adapters/memory"
	"github.com/artpar/geoproxy/adapters/metrics"
	"github.com/artpar/geoproxy/adapters/tlslisten"
	"github.com/artpar/geoproxy/app"
	"github.com/artpar/geoproxy/config"
	domaintls "github.com/artpar/geoproxy/domain/tls"
	"github.com/artpar/geoproxy/ports"
	"github.com/rs/zerolog"
)

// Environment variable names for bootstrap configuration. These are
// the ONLY config values that come from environment, beyond the
// GEOPROXY_PORT/GEOPROXY_LOG_LEVEL overrides config.Load itself reads.
const (
	EnvConfigPath = "GEOPROXY_CONFIG"
	EnvLogLevel   = "GEOPROXY_LOG_LEVEL"
	EnvLogFormat  = "GEOPROXY_LOG_FORMAT"
)

// App represents the running application: every long-lived service
// and the HTTP server fronting them.
type App struct {
	Logger  zerolog.Logger
	Config  *config.Holder
	Metrics *metrics.Collector

	rules      *app.RuleTableService
	rateMeter  *memory.ShardedRateMeterStore
	tokens     *credential.Cache
	dispatch   *app.DispatchService
	status     *app.StatusService
	httpClient *http.Client

	HTTPServer *http.Server
}

// Config provides optional overrides for application initialization.
type Config struct {
	// ConfigPath is the JSON config file to load. Empty means read
	// EnvConfigPath, falling back to "geoproxy.json".
	ConfigPath string

	// HotReload enables watching the config file (and SIGHUP) for
	// changes and recompiling the rule table in place.
	HotReload bool
}

// New creates and initializes the application using the default
// config path resolution and no hot reload.
func New() (*App, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig creates and initializes the application.
func NewWithConfig(cfg Config) (*App, error) {
	logger := setupLoggerFromEnv()
	logger.Info().Msg("initializing geoproxy")

	path := cfg.ConfigPath
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = "geoproxy.json"
	}

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c := holder.Get()

	a := &App{
		Logger: logger,
		Config: holder,
	}

	if c.LogLevel != "" {
		if level, err := zerolog.ParseLevel(lowerLogLevel(c.LogLevel)); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	a.Metrics = metrics.New()

	a.rules = app.NewRuleTableService()
	if err := a.rules.Reload(c); err != nil {
		return nil, fmt.Errorf("compile rule table: %w", err)
	}

	clk := clock.Real{}

	a.rateMeter = memory.NewShardedRateMeterStore(memory.ShardedRateMeterConfig{})

	a.httpClient = apihttp.NewUpstreamClient(apihttp.UpstreamConfig{})
	broker := credential.NewBroker(a.httpClient, a.rules.RuleByIndex, clk, "geoproxy")
	a.tokens = credential.NewCache(broker, clk)

	dispatcher := apihttp.NewDispatcher(a.httpClient)
	a.dispatch = app.NewDispatchService(a.rules, a.rateMeter, a.tokens, dispatcher, clk, logger, a.Metrics)
	a.status = app.NewStatusService(a.rules, a.dispatch, a.rateMeter, clk)

	holder.OnChange(func(newCfg *config.Config) {
		if err := a.rules.Reload(newCfg); err != nil {
			a.Metrics.ConfigReloadErrors.Inc()
			logger.Error().Err(err).Msg("config reload produced an invalid rule table, keeping previous generation")
			return
		}
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
	})

	if cfg.HotReload {
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("failed to watch config file, hot reload via file edits disabled")
		}
		holder.WatchSignals()
	}

	if err := a.initHTTPServer(c); err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return a, nil
}

func (a *App) initHTTPServer(c *config.Config) error {
	proxyHandler := apihttp.NewProxyHandler(a.dispatch, a.Logger)
	statusHandler := apihttp.NewStatusHandler(a.status, a.rules, a.Logger)
	router := apihttp.NewRouter(proxyHandler, statusHandler, c.PingPath, c.StatusPath, a.Logger, a.Metrics)

	tlsCfg, err := tlslisten.BuildTLSConfig(domainTLSConfig(c))
	if err != nil {
		return fmt.Errorf("build tls config: %w", err)
	}

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", c.Port),
		Handler:      router,
		TLSConfig:    tlsCfg,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses (e.g. WMS tile fetches) may run long
		IdleTimeout:  120 * time.Second,
	}

	return nil
}

// domainTLSConfig translates the flattened §6 config fields into
// domain/tls's Config value, inferring the mode from which fields
// are populated.
func domainTLSConfig(c *config.Config) domaintls.Config {
	cfg := domaintls.Config{Enabled: c.UseHTTPS}
	switch {
	case c.HTTPSPfxFile != "":
		cfg.Mode = domaintls.ModePFX
		cfg.PfxPath = c.HTTPSPfxFile
	case c.HTTPSCertificateFile != "" && c.HTTPSKeyFile != "":
		cfg.Mode = domaintls.ModeKeyPair
		cfg.CertPath = c.HTTPSCertificateFile
		cfg.KeyPath = c.HTTPSKeyFile
	}
	return cfg
}

// Run starts the HTTP server and blocks until it is asked to shut
// down via SIGINT/SIGTERM or fails outright.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Bool("tls", a.HTTPServer.TLSConfig != nil).Msg("starting http server")
		if a.HTTPServer.TLSConfig != nil {
			err = a.HTTPServer.ListenAndServeTLS("", "")
		} else {
			err = a.HTTPServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown drains the HTTP server and stops every background
// goroutine this App started.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.rateMeter != nil {
		a.rateMeter.Close()
	}

	if a.Config != nil {
		a.Config.Stop()
	}

	if a.httpClient != nil {
		a.httpClient.CloseIdleConnections()
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLoggerFromEnv() zerolog.Logger {
	levelStr := os.Getenv(EnvLogLevel)
	if levelStr == "" {
		levelStr = "info"
	}

	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	format := os.Getenv(EnvLogFormat)
	if format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// lowerLogLevel adapts §6's ALL/INFO/WARN/ERROR/NONE vocabulary to
// zerolog's level names. ALL and NONE have no zerolog equivalent and
// map to the nearest bound (trace and a level above panic, respectively).
func lowerLogLevel(level string) string {
	switch level {
	case "ALL":
		return "trace"
	case "NONE":
		return "disabled"
	default:
		return stringsToLower(level)
	}
}

func stringsToLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// GetEnvInt returns an integer from env or default.
func GetEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

var _ ports.Clock = clock.Real{}
