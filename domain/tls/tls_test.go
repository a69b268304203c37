package tls

import "testing"

func TestMode_IsValid(t *testing.T) {
	tests := []struct {
		mode Mode
		want bool
	}{
		{ModeNone, true},
		{ModePFX, true},
		{ModeKeyPair, true},
		{Mode("invalid"), false},
		{Mode(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			if got := tt.mode.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantValid  bool
		wantErrors []string
	}{
		{
			name:      "disabled is always valid",
			cfg:       Config{Enabled: false},
			wantValid: true,
		},
		{
			name:      "valid pfx config",
			cfg:       Config{Enabled: true, Mode: ModePFX, PfxPath: "/path/cert.pfx"},
			wantValid: true,
		},
		{
			name:       "pfx missing path",
			cfg:        Config{Enabled: true, Mode: ModePFX},
			wantValid:  false,
			wantErrors: []string{"pfx_path"},
		},
		{
			name:      "valid keypair config",
			cfg:       Config{Enabled: true, Mode: ModeKeyPair, CertPath: "/path/cert.pem", KeyPath: "/path/key.pem"},
			wantValid: true,
		},
		{
			name:       "keypair missing cert path",
			cfg:        Config{Enabled: true, Mode: ModeKeyPair, KeyPath: "/path/key.pem"},
			wantValid:  false,
			wantErrors: []string{"cert_path"},
		},
		{
			name:       "keypair missing key path",
			cfg:        Config{Enabled: true, Mode: ModeKeyPair, CertPath: "/path/cert.pem"},
			wantValid:  false,
			wantErrors: []string{"key_path"},
		},
		{
			name:       "invalid mode",
			cfg:        Config{Enabled: true, Mode: Mode("invalid")},
			wantValid:  false,
			wantErrors: []string{"mode"},
		},
		{
			name:       "invalid min version",
			cfg:        Config{Enabled: true, Mode: ModeNone, MinVersion: "1.0"},
			wantValid:  false,
			wantErrors: []string{"min_version"},
		},
		{
			name:      "valid min version 1.2",
			cfg:       Config{Enabled: true, Mode: ModeNone, MinVersion: "1.2"},
			wantValid: true,
		},
		{
			name:      "valid min version 1.3",
			cfg:       Config{Enabled: true, Mode: ModeNone, MinVersion: "1.3"},
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateConfig(tt.cfg)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateConfig() Valid = %v, want %v, errors: %v", result.Valid, tt.wantValid, result.Errors)
			}
			for _, errKey := range tt.wantErrors {
				if _, ok := result.Errors[errKey]; !ok {
					t.Errorf("ValidateConfig() missing error for %v", errKey)
				}
			}
		})
	}
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"sub.example.com", true},
		{"a.b.c.example.com", true},
		{"example123.com", true},
		{"example-test.com", true},
		{"localhost", false},
		{"example", false},
		{"", false},
		{"example.c", false},
		{".example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if got := IsValidDomain(tt.domain); got != tt.want {
				t.Errorf("IsValidDomain(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestMinVersionToUint16(t *testing.T) {
	tests := []struct {
		version string
		want    uint16
	}{
		{"1.2", 0x0303},
		{"1.3", 0x0304},
		{"1.0", 0},
		{"", 0},
		{"invalid", 0},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			if got := MinVersionToUint16(tt.version); got != tt.want {
				t.Errorf("MinVersionToUint16(%q) = %v, want %v", tt.version, got, tt.want)
			}
		})
	}
}
