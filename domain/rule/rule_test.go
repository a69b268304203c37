package rule_test

import (
	"testing"

	"github.com/artpar/geoproxy/domain/requestparse"
	"github.com/artpar/geoproxy/domain/rule"
	"github.com/artpar/geoproxy/domain/urlpart"
)

func mustCompile(t *testing.T, configs []rule.Config) rule.Table {
	t.Helper()
	table, err := rule.Compile(configs)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return table
}

func TestCompile_RequiresURL(t *testing.T) {
	_, err := rule.Compile([]rule.Config{{URL: ""}})
	if err == nil {
		t.Fatal("expected error for a rule with no url")
	}
}

func TestCompile_DefaultsTokenParamName(t *testing.T) {
	table := mustCompile(t, []rule.Config{{URL: "https://geo.example.com/rest"}})
	if table.Rules[0].TokenParamName != "token" {
		t.Errorf("TokenParamName = %q, want token", table.Rules[0].TokenParamName)
	}
}

func TestCompile_DerivesRate(t *testing.T) {
	table := mustCompile(t, []rule.Config{{
		URL:             "https://geo.example.com/rest",
		RateLimit:       60,
		RateLimitPeriod: 1, // 60 requests per minute
	}})
	r := table.Rules[0]
	if !r.UseRateMeter {
		t.Fatal("expected UseRateMeter to be true")
	}
	if r.Rate != 1.0 {
		t.Errorf("Rate = %v, want 1.0 tokens/sec", r.Rate)
	}
}

func TestCompile_NoRateLimit_UseRateMeterFalse(t *testing.T) {
	table := mustCompile(t, []rule.Config{{URL: "https://geo.example.com/rest"}})
	if table.Rules[0].UseRateMeter {
		t.Error("expected UseRateMeter to be false with no rateLimit configured")
	}
}

func TestTable_Match_PrefixByDefault(t *testing.T) {
	table := mustCompile(t, []rule.Config{{URL: "https://geo.example.com/rest"}})

	parsed, ok := requestparse.ParseURLRequest("/https/geo.example.com/rest/info", nil, false)
	if !ok {
		t.Fatal("parse failed")
	}
	req := rule.FromFlexParsed(parsed)

	idx, _, ok := table.Match(req)
	if !ok || idx != 0 {
		t.Fatalf("Match() = (%d, %v), want (0, true)", idx, ok)
	}
}

func TestTable_Match_MatchAllRequiresExactPath(t *testing.T) {
	table := mustCompile(t, []rule.Config{{URL: "https://geo.example.com/rest", MatchAll: true}})

	parsed, _ := requestparse.ParseURLRequest("/https/geo.example.com/rest/info", nil, false)
	req := rule.FromFlexParsed(parsed)
	if _, _, ok := table.Match(req); ok {
		t.Error("matchAll rule should reject a longer path")
	}

	parsed, _ = requestparse.ParseURLRequest("/https/geo.example.com/rest", nil, false)
	req = rule.FromFlexParsed(parsed)
	if _, _, ok := table.Match(req); !ok {
		t.Error("matchAll rule should accept the exact path")
	}
}

func TestTable_Match_NoMatch(t *testing.T) {
	table := mustCompile(t, []rule.Config{{URL: "https://geo.example.com/rest"}})

	parsed, _ := requestparse.ParseURLRequest("/https/other.example.com/rest/info", nil, false)
	req := rule.FromFlexParsed(parsed)

	if _, _, ok := table.Match(req); ok {
		t.Error("expected no match for a different host")
	}
}

func TestTable_Match_FirstRuleWins(t *testing.T) {
	table := mustCompile(t, []rule.Config{
		{URL: "https://geo.example.com/rest"},
		{URL: "https://geo.example.com/rest/info", MatchAll: true},
	})

	parsed, _ := requestparse.ParseURLRequest("/https/geo.example.com/rest/info", nil, false)
	req := rule.FromFlexParsed(parsed)

	idx, _, ok := table.Match(req)
	if !ok || idx != 0 {
		t.Fatalf("Match() = (%d, %v), want first matching rule (0, true)", idx, ok)
	}
}

func TestBuildURL_AppendsTrailingPathAndToken(t *testing.T) {
	table := mustCompile(t, []rule.Config{{URL: "https://geo.example.com/rest"}})
	r := table.Rules[0]

	parsed, _ := requestparse.ParseURLRequest("/https/geo.example.com/rest/info", nil, false)
	req := rule.FromFlexParsed(parsed)

	got := rule.BuildURL(r, req, "abc123")
	want := "https://geo.example.com/rest/info?token=abc123"
	if got != want {
		t.Errorf("BuildURL() = %q, want %q", got, want)
	}
}

func TestBuildURL_MergesQuery_RuleOverridesRequest(t *testing.T) {
	table := mustCompile(t, []rule.Config{{URL: "https://geo.example.com/rest"}})
	r := table.Rules[0]
	r.Parsed.Query = "f=json"

	parsed, _ := requestparse.ParseURLRequest("/https/geo.example.com/rest/info?f=html&x=1", nil, false)
	req := rule.FromFlexParsed(parsed)

	got := rule.BuildURL(r, req, "")
	if got != "https://geo.example.com/rest/info?f=json&x=1" {
		t.Errorf("BuildURL() = %q", got)
	}
}

func TestBuildRedirectedURL_UsesRedirectHost(t *testing.T) {
	table := mustCompile(t, []rule.Config{{
		URL:          "https://internal.example.com/rest",
		HostRedirect: "https://public.example.com",
	}})
	r := table.Rules[0]

	parsed, _ := requestparse.ParseURLRequest("/https/internal.example.com/rest/info", nil, false)
	req := rule.FromFlexParsed(parsed)
	referrer := urlpart.ParseAndFixURLParts("https://caller.example.com")

	got := rule.BuildRedirectedURL(r, req, referrer, "tok")
	want := "https://public.example.com/rest/info?token=tok"
	if got != want {
		t.Errorf("BuildRedirectedURL() = %q, want %q", got, want)
	}
}

func TestBestMatchField(t *testing.T) {
	if got := rule.BestMatchField("https", urlpart.Wildcard, urlpart.Wildcard); got != "https" {
		t.Errorf("expected concrete redirect value, got %q", got)
	}
	if got := rule.BestMatchField(urlpart.Wildcard, "http", urlpart.Wildcard); got != "http" {
		t.Errorf("expected concrete request value when redirect is wildcard, got %q", got)
	}
	if got := rule.BestMatchField("https", "http", "http"); got != "http" {
		t.Errorf("expected referrer to break the tie toward request value, got %q", got)
	}
}
