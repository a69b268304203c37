// Package config provides configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/artpar/geoproxy/domain/rule"
)

// Config is the normalized, validated configuration this process runs
// with: the proxyConfig object flattened and its serverUrls entries
// decoded (including the legacy wrapped layout), per §6.
type Config struct {
	UseHTTPS         bool
	Port             int
	MustMatch        bool
	MatchAllReferrer bool

	LogFileName  string
	LogFilePath  string
	LogLevel     string
	LogToConsole bool

	AllowedReferrers []string
	ListenURI        []string

	PingPath   string
	StatusPath string

	HTTPSKeyFile         string
	HTTPSCertificateFile string
	HTTPSPfxFile         string

	ServerUrls []ServerURL
}

// ServerURL is one decoded serverUrls entry.
type ServerURL struct {
	URL             string
	MatchAll        bool
	HostRedirect    string
	RateLimit       int
	RateLimitPeriod int
	Username        string
	Password        string
	ClientID        string
	ClientSecret    string
	OAuth2Endpoint  string
	AccessToken     string
	TokenParamName  string
	Domain          string
}

// ToRuleConfig converts a decoded entry to the rule package's Config,
// selecting the credential variant by which fields are populated:
// accessToken wins over clientId/clientSecret over username/password,
// matching the schema's "all fields optional" shape where exactly one
// credential style is expected to be set per rule.
func (s ServerURL) ToRuleConfig() rule.Config {
	return rule.Config{
		URL:             s.URL,
		MatchAll:        s.MatchAll,
		Credentials:     s.credentials(),
		RateLimit:       s.RateLimit,
		RateLimitPeriod: s.RateLimitPeriod,
		HostRedirect:    s.HostRedirect,
		Domain:          s.Domain,
		TokenParamName:  s.TokenParamName,
	}
}

func (s ServerURL) credentials() rule.Credentials {
	switch {
	case s.AccessToken != "":
		return rule.Credentials{
			Kind: rule.CredentialStaticToken,
			StaticToken: rule.StaticTokenCreds{
				AccessToken:    s.AccessToken,
				TokenParamName: s.TokenParamName,
			},
		}
	case s.ClientID != "" && s.ClientSecret != "":
		return rule.Credentials{
			Kind: rule.CredentialAppLogin,
			AppLogin: rule.AppLoginCreds{
				ClientID:       s.ClientID,
				ClientSecret:   s.ClientSecret,
				OAuth2Endpoint: s.OAuth2Endpoint,
			},
		}
	case s.Username != "" && s.Password != "":
		return rule.Credentials{
			Kind: rule.CredentialUserLogin,
			UserLogin: rule.UserLoginCreds{
				Username:        s.Username,
				Password:        s.Password,
				TokenServiceURL: s.OAuth2Endpoint,
			},
		}
	default:
		return rule.Credentials{Kind: rule.CredentialNone}
	}
}

// rawDocument mirrors the on-disk JSON shape of §6 before
// normalization. serverUrls is kept raw because it may arrive as an
// array (current layout) or wrapped in an object keyed "serverUrl"
// (legacy layout).
type rawDocument struct {
	ProxyConfig rawProxyConfig  `json:"proxyConfig"`
	ServerUrls  json.RawMessage `json:"serverUrls"`
}

type rawProxyConfig struct {
	UseHTTPS         flexBool       `json:"useHTTPS"`
	Port             int            `json:"port"`
	MustMatch        flexBool       `json:"mustMatch"`
	MatchAllReferrer flexBool       `json:"matchAllReferrer"`
	LogFileName      string         `json:"logFileName"`
	LogFilePath      string         `json:"logFilePath"`
	LogLevel         string         `json:"logLevel"`
	LogToConsole     flexBool       `json:"logToConsole"`
	AllowedReferrers flexStringList `json:"allowedReferrers"`
	ListenURI        flexStringList `json:"listenURI"`
	PingPath         string         `json:"pingPath"`
	StatusPath       string         `json:"statusPath"`

	HTTPSKeyFile         string `json:"httpsKeyFile"`
	HTTPSCertificateFile string `json:"httpsCertificateFile"`
	HTTPSPfxFile         string `json:"httpsPfxFile"`
}

type rawServerURL struct {
	URL             string   `json:"url"`
	MatchAll        flexBool `json:"matchAll"`
	HostRedirect    string   `json:"hostRedirect"`
	RateLimit       int      `json:"rateLimit"`
	RateLimitPeriod int      `json:"rateLimitPeriod"`
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	ClientID        string   `json:"clientId"`
	ClientSecret    string   `json:"clientSecret"`
	OAuth2Endpoint  string   `json:"oauth2Endpoint"`
	AccessToken     string   `json:"accessToken"`
	TokenParamName  string   `json:"tokenParamName"`
	Domain          string   `json:"domain"`
}

// flexBool decodes the "bool|string" fields of §6: a JSON bool decodes
// directly, a JSON string is coerced by lowercase-trimmed "true"/"1",
// anything else is false.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = flexBool(coerceBool(raw))
	return nil
}

func coerceBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "true" || s == "1"
	default:
		return false
	}
}

// flexStringList decodes the "str | str[] | \"a,b,c\"" fields of §6.
type flexStringList []string

func (l *flexStringList) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*l = splitCSV(t)
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		*l = out
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseServerURLs decodes raw into a list of rawServerURL, unwrapping
// the legacy {serverUrls:{serverUrl:{...}}} layout (singular key,
// holding either one object or an array) when the direct array decode
// fails.
func parseServerURLs(raw json.RawMessage) ([]rawServerURL, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var list []rawServerURL
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var wrapped struct {
		ServerURL json.RawMessage `json:"serverUrl"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("serverUrls: %w", err)
	}
	if len(wrapped.ServerURL) == 0 {
		return nil, nil
	}

	if err := json.Unmarshal(wrapped.ServerURL, &list); err == nil {
		return list, nil
	}

	var single rawServerURL
	if err := json.Unmarshal(wrapped.ServerURL, &single); err != nil {
		return nil, fmt.Errorf("serverUrls.serverUrl: %w", err)
	}
	return []rawServerURL{single}, nil
}

// Load reads and validates configuration from a JSON file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	serverURLs, err := parseServerURLs(doc.ServerUrls)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := fromRaw(doc.ProxyConfig, serverURLs)

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func fromRaw(p rawProxyConfig, servers []rawServerURL) Config {
	cfg := Config{
		UseHTTPS:         bool(p.UseHTTPS),
		Port:             p.Port,
		MustMatch:        bool(p.MustMatch),
		MatchAllReferrer: bool(p.MatchAllReferrer),
		LogFileName:      p.LogFileName,
		LogFilePath:      p.LogFilePath,
		LogLevel:         p.LogLevel,
		LogToConsole:     bool(p.LogToConsole),
		AllowedReferrers: []string(p.AllowedReferrers),
		ListenURI:        []string(p.ListenURI),
		PingPath:         p.PingPath,
		StatusPath:       p.StatusPath,

		HTTPSKeyFile:         p.HTTPSKeyFile,
		HTTPSCertificateFile: p.HTTPSCertificateFile,
		HTTPSPfxFile:         p.HTTPSPfxFile,
	}

	cfg.ServerUrls = make([]ServerURL, len(servers))
	for i, s := range servers {
		cfg.ServerUrls[i] = ServerURL{
			URL:             s.URL,
			MatchAll:        bool(s.MatchAll),
			HostRedirect:    s.HostRedirect,
			RateLimit:       s.RateLimit,
			RateLimitPeriod: s.RateLimitPeriod,
			Username:        s.Username,
			Password:        s.Password,
			ClientID:        s.ClientID,
			ClientSecret:    s.ClientSecret,
			OAuth2Endpoint:  s.OAuth2Endpoint,
			AccessToken:     s.AccessToken,
			TokenParamName:  s.TokenParamName,
			Domain:          s.Domain,
		}
	}

	return cfg
}

// applyEnvOverrides applies the GEOPROXY_* environment variables that
// must be settable without editing the config file in containerized
// deployments. GEOPROXY_CONFIG names the file itself; bootstrap reads it
// when it is given no config path, and it has no field here.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEOPROXY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("GEOPROXY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.PingPath == "" {
		cfg.PingPath = "/ping"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/status"
	}
	if len(cfg.AllowedReferrers) == 0 && !cfg.MatchAllReferrer {
		cfg.MatchAllReferrer = true
	}
}

var validLogLevels = map[string]bool{
	"ALL": true, "INFO": true, "WARN": true, "ERROR": true, "NONE": true,
}

func validate(cfg *Config) error {
	if !validLogLevels[strings.ToUpper(cfg.LogLevel)] {
		return fmt.Errorf("logLevel must be one of ALL, INFO, WARN, ERROR, NONE, got %q", cfg.LogLevel)
	}

	if cfg.UseHTTPS {
		hasPfx := cfg.HTTPSPfxFile != ""
		hasPair := cfg.HTTPSCertificateFile != "" && cfg.HTTPSKeyFile != ""
		if !hasPfx && !hasPair {
			return fmt.Errorf("useHTTPS is true but neither httpsPfxFile nor httpsCertificateFile+httpsKeyFile is set")
		}
	}

	for i, s := range cfg.ServerUrls {
		if s.URL == "" {
			return fmt.Errorf("serverUrls[%d].url is required", i)
		}
	}

	return nil
}
