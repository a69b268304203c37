// Package tls provides TLS configuration value types and pure
// validation functions for the HTTP front end's listener setup.
// This package has no dependency on I/O; loading the actual
// certificate material is adapters/tlslisten's job.
package tls

import (
	"regexp"
	"strings"
)

// Mode selects how the front end's certificate material is supplied.
type Mode string

const (
	ModeNone    Mode = "none"    // no TLS (HTTP only)
	ModePFX     Mode = "pfx"     // a single PFX/PKCS12 blob
	ModeKeyPair Mode = "keypair" // separate key and certificate files
)

// IsValid returns true if the mode is known.
func (m Mode) IsValid() bool {
	switch m {
	case ModeNone, ModePFX, ModeKeyPair:
		return true
	}
	return false
}

// Config is the front end's TLS configuration (value type).
type Config struct {
	Enabled     bool
	Mode        Mode
	PfxPath     string
	PfxPassword string
	CertPath    string
	KeyPath     string
	MinVersion  string // "1.2" or "1.3"; empty means the runtime default
}

// ConfigValidation is the result of ValidateConfig.
type ConfigValidation struct {
	Valid  bool
	Errors map[string]string
}

// ValidateConfig validates a TLS configuration (pure function).
func ValidateConfig(cfg Config) ConfigValidation {
	errors := make(map[string]string)

	if !cfg.Enabled {
		return ConfigValidation{Valid: true, Errors: errors}
	}

	if !cfg.Mode.IsValid() {
		errors["mode"] = "invalid TLS mode"
	}

	switch cfg.Mode {
	case ModePFX:
		if cfg.PfxPath == "" {
			errors["pfx_path"] = "PFX file path is required for pfx mode"
		}
	case ModeKeyPair:
		if cfg.CertPath == "" {
			errors["cert_path"] = "certificate path is required for keypair mode"
		}
		if cfg.KeyPath == "" {
			errors["key_path"] = "key path is required for keypair mode"
		}
	}

	if cfg.MinVersion != "" && cfg.MinVersion != "1.2" && cfg.MinVersion != "1.3" {
		errors["min_version"] = "min version must be 1.2 or 1.3"
	}

	return ConfigValidation{Valid: len(errors) == 0, Errors: errors}
}

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// IsValidDomain reports whether domain looks like a DNS name (at least
// two labels, the last one two or more letters).
func IsValidDomain(domain string) bool {
	return domainRegex.MatchString(strings.TrimSpace(domain))
}

// MinVersionToUint16 converts a string min version to the
// crypto/tls version constant value. Returns 0 if invalid (caller
// should use the runtime default).
func MinVersionToUint16(minVersion string) uint16 {
	switch minVersion {
	case "1.2":
		return 0x0303 // tls.VersionTLS12
	case "1.3":
		return 0x0304 // tls.VersionTLS13
	default:
		return 0
	}
}
