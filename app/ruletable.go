// Package app wires the domain packages into the orchestration
// services the HTTP front end calls: the compiled rule table and the
// request dispatch pipeline.
package app

import (
	"sync/atomic"

	"github.com/artpar/geoproxy/config"
	"github.com/artpar/geoproxy/domain/referrer"
	"github.com/artpar/geoproxy/domain/rule"
)

// Compiled is one configuration generation's compiled rule table and
// allow-list, swapped together so a request never matches rules from
// one generation against referrers from another.
type Compiled struct {
	Rules            rule.Table
	Referrers        referrer.List
	MustMatch        bool
	MatchAllReferrer bool
	ListenURI        []string
	PingPath         string
	StatusPath       string
}

// RuleTableService holds the current Compiled generation behind an
// atomic.Pointer so reloads never block an in-flight match and readers
// never observe a partially built table, per §5.
type RuleTableService struct {
	current atomic.Pointer[Compiled]
}

// NewRuleTableService returns an empty service; call Reload before serving.
func NewRuleTableService() *RuleTableService {
	return &RuleTableService{}
}

// Reload compiles cfg into a fresh Compiled value and atomically swaps
// it in.
func (s *RuleTableService) Reload(cfg *config.Config) error {
	ruleConfigs := make([]rule.Config, len(cfg.ServerUrls))
	for i, su := range cfg.ServerUrls {
		ruleConfigs[i] = su.ToRuleConfig()
	}
	table, err := rule.Compile(ruleConfigs)
	if err != nil {
		return err
	}

	referrers := referrer.Compile(cfg.AllowedReferrers)
	if cfg.MatchAllReferrer {
		referrers.AcceptAny = true
	}

	s.current.Store(&Compiled{
		Rules:            table,
		Referrers:        referrers,
		MustMatch:        cfg.MustMatch,
		MatchAllReferrer: cfg.MatchAllReferrer,
		ListenURI:        cfg.ListenURI,
		PingPath:         cfg.PingPath,
		StatusPath:       cfg.StatusPath,
	})
	return nil
}

// Current returns the active Compiled generation, or nil before the
// first Reload.
func (s *RuleTableService) Current() *Compiled {
	return s.current.Load()
}

// RuleByIndex looks up a rule by its position in the current
// generation's table. It satisfies adapters/credential.RuleLookup.
func (s *RuleTableService) RuleByIndex(i int) (rule.Rule, bool) {
	c := s.current.Load()
	if c == nil || i < 0 || i >= len(c.Rules.Rules) {
		return rule.Rule{}, false
	}
	return c.Rules.Rules[i], true
}
