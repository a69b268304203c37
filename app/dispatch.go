package app

import (
	"net/http"
	"sync/atomic"

	apihttp "github.com/artpar/geoproxy/adapters/http"
	"github.com/artpar/geoproxy/adapters/metrics"
	"github.com/artpar/geoproxy/domain/proxyerr"
	"github.com/artpar/geoproxy/domain/ratelimit"
	"github.com/artpar/geoproxy/domain/referrer"
	"github.com/artpar/geoproxy/domain/requestparse"
	"github.com/artpar/geoproxy/domain/rule"
	"github.com/artpar/geoproxy/domain/urlpart"
	"github.com/artpar/geoproxy/ports"
	"github.com/rs/zerolog"
)

// DispatchService runs the §4.5 request pipeline: parse, validate
// referrer, match a rule, check the rate meter, acquire a credential,
// build and send the outbound request, retrying once on a credential
// rejection from upstream.
type DispatchService struct {
	rules      *RuleTableService
	rateMeter  ports.RateMeterStore
	tokens     ports.TokenCache
	dispatcher *apihttp.Dispatcher
	clock      ports.Clock
	logger     zerolog.Logger
	metrics    *metrics.Collector

	attempted int64
	valid     int64
	errored   int64
}

// NewDispatchService wires the services DispatchService.Handle calls.
// m may be nil, in which case no metrics are recorded.
func NewDispatchService(rules *RuleTableService, rateMeter ports.RateMeterStore, tokens ports.TokenCache, dispatcher *apihttp.Dispatcher, clock ports.Clock, logger zerolog.Logger, m *metrics.Collector) *DispatchService {
	return &DispatchService{
		rules:      rules,
		rateMeter:  rateMeter,
		tokens:     tokens,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
		metrics:    m,
	}
}

// ruleURLLabeler is implemented by rate-meter stores that record which
// rule URL a bucket belongs to, for /status reporting. Not every
// ports.RateMeterStore need implement it.
type ruleURLLabeler interface {
	SetRuleURL(key ports.BucketKey, url string)
}

// tokenLevelReader is implemented by rate-meter stores that can report
// a bucket's current token level, for the rate_limit_tokens gauge. Not
// every ports.RateMeterStore need implement it.
type tokenLevelReader interface {
	Tokens(key ports.BucketKey) (float64, bool)
}

// Counters is a snapshot of the request counters /status reports.
type Counters struct {
	Attempted int64
	Valid     int64
	Errored   int64
}

// Counters returns the current request counters.
func (s *DispatchService) Counters() Counters {
	return Counters{
		Attempted: atomic.LoadInt64(&s.attempted),
		Valid:     atomic.LoadInt64(&s.valid),
		Errored:   atomic.LoadInt64(&s.errored),
	}
}

// Handle runs inbound through the pipeline and returns the raw
// upstream response to stream back to the client, or a proxyerr
// describing why the request was rejected before (or instead of)
// reaching upstream.
func (s *DispatchService) Handle(inbound *http.Request) (*http.Response, *proxyerr.Error) {
	atomic.AddInt64(&s.attempted, 1)

	c := s.rules.Current()
	if c == nil {
		return nil, s.fail(proxyerr.New(proxyerr.KindNoRuleMatch, http.StatusNotFound, "proxy has no rules loaded"))
	}

	parsed, ok := requestparse.ParseURLRequest(inbound.URL.RequestURI(), c.ListenURI, c.MustMatch)
	if !ok {
		return nil, s.fail(proxyerr.New(proxyerr.KindParse, http.StatusForbidden, "malformed request URL"))
	}

	rawReferer := inbound.Header.Get("Referer")
	canonicalReferrer, ok := referrer.Validate(rawReferer, c.Referrers)
	if !ok {
		if s.metrics != nil {
			s.metrics.ReferrerRejections.Inc()
		}
		return nil, s.fail(proxyerr.New(proxyerr.KindReferrerDenied, http.StatusForbidden, "referrer not allowed"))
	}
	refParts := urlpart.ParseAndFixURLParts(rawReferer)

	req := rule.FromFlexParsed(parsed)

	idx, r, ok := c.Rules.Match(req)
	if !ok {
		// No rule matches the request regardless of mustMatch: mustMatch
		// only gates whether the flex parser itself fails fast above.
		return nil, s.fail(proxyerr.New(proxyerr.KindNoRuleMatch, http.StatusNotFound, "no rule matched request"))
	}

	if r.UseRateMeter {
		key := ports.BucketKey{Referrer: canonicalReferrer, RuleIndex: idx}
		cfg := ratelimit.Config{Capacity: float64(r.RateLimit), RefillRate: r.Rate}
		admitted := s.rateMeter.Admit(key, cfg, s.clock.Now())
		if labeler, ok := s.rateMeter.(ruleURLLabeler); ok {
			labeler.SetRuleURL(key, r.URL)
		}
		if s.metrics != nil {
			if reader, ok := s.rateMeter.(tokenLevelReader); ok {
				if tokens, ok := reader.Tokens(key); ok {
					s.metrics.RateLimitTokens.WithLabelValues(canonicalReferrer, r.URL).Set(tokens)
				}
			}
		}
		if !admitted {
			if s.metrics != nil {
				s.metrics.RateLimitHits.WithLabelValues(canonicalReferrer).Inc()
			}
			return nil, s.fail(proxyerr.New(proxyerr.KindRateExceeded, 420, "rate limit exceeded"))
		}
	}

	token, err := s.tokens.Get(inbound.Context(), idx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.CredentialFailures.WithLabelValues(credentialKindLabel(r.Credentials.Kind)).Inc()
		}
		return nil, s.fail(proxyerr.New(proxyerr.KindCredential, http.StatusInternalServerError, err.Error()))
	}

	resp, perr := s.dispatch(inbound, r, req, refParts, token)
	if perr != nil {
		return nil, s.fail(perr)
	}

	if r.Credentials.Kind != rule.CredentialNone && apihttp.IsCredentialError(resp.StatusCode) {
		resp.Body.Close()
		s.tokens.Invalidate(idx)
		if s.metrics != nil {
			s.metrics.CredentialRetries.Inc()
		}

		token, err = s.tokens.Get(inbound.Context(), idx)
		if err != nil {
			if s.metrics != nil {
				s.metrics.CredentialFailures.WithLabelValues(credentialKindLabel(r.Credentials.Kind)).Inc()
			}
			return nil, s.fail(proxyerr.New(proxyerr.KindCredential, http.StatusInternalServerError, err.Error()))
		}

		resp, perr = s.dispatch(inbound, r, req, refParts, token)
		if perr != nil {
			return nil, s.fail(perr)
		}
	}

	atomic.AddInt64(&s.valid, 1)
	return resp, nil
}

func (s *DispatchService) dispatch(inbound *http.Request, r rule.Rule, req rule.ParsedRequest, ref urlpart.Parts, token string) (*http.Response, *proxyerr.Error) {
	outReq, err := s.dispatcher.BuildOutbound(inbound, r, req, ref, token)
	if err != nil {
		return nil, proxyerr.New(proxyerr.KindUpstreamTransport, http.StatusInternalServerError, err.Error())
	}

	start := s.clock.Now()
	if s.metrics != nil {
		s.metrics.UpstreamInFlight.Inc()
	}
	resp, err := s.dispatcher.Do(outReq)
	if s.metrics != nil {
		s.metrics.UpstreamInFlight.Dec()
	}

	if err != nil {
		if s.metrics != nil {
			s.metrics.UpstreamErrors.WithLabelValues("transport").Inc()
		}
		if pe, ok := err.(*proxyerr.Error); ok {
			return nil, pe
		}
		return nil, proxyerr.New(proxyerr.KindUpstreamTransport, http.StatusInternalServerError, err.Error())
	}

	if s.metrics != nil {
		elapsed := s.clock.Now().Sub(start).Seconds()
		s.metrics.UpstreamDuration.WithLabelValues(outReq.Method, statusClass(resp.StatusCode)).Observe(elapsed)
	}

	return resp, nil
}

// statusClass buckets an HTTP status code into the "2xx"/"4xx"/"5xx"
// label conventional across this package's metrics.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func (s *DispatchService) fail(err *proxyerr.Error) *proxyerr.Error {
	atomic.AddInt64(&s.errored, 1)
	s.logger.Warn().
		Str("component", "dispatch").
		Int("status", err.Status).
		Str("message", err.Message).
		Msg("request rejected")
	return err
}

func credentialKindLabel(k rule.CredentialKind) string {
	switch k {
	case rule.CredentialUserLogin:
		return "user_login"
	case rule.CredentialAppLogin:
		return "app_login"
	case rule.CredentialStaticToken:
		return "static_token"
	default:
		return "none"
	}
}
