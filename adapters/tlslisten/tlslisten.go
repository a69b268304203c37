// Package tlslisten builds the *tls.Config the HTTP front end serves
// with, loaded from a PFX blob or a key+cert pair, per §4.7. It creates
// no listener itself, and returns a nil config when TLS is disabled.
package tlslisten

import (
	"crypto/tls"
	"fmt"
	"os"

	domaintls "github.com/artpar/geoproxy/domain/tls"
	"golang.org/x/crypto/pkcs12"
)

// BuildTLSConfig loads the certificate material named by cfg and
// returns a *tls.Config ready to hand to an http.Server. Returns nil,
// nil when cfg.Enabled is false.
func BuildTLSConfig(cfg domaintls.Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	if v := domaintls.ValidateConfig(cfg); !v.Valid {
		return nil, fmt.Errorf("invalid tls config: %v", v.Errors)
	}

	var cert tls.Certificate
	var err error

	switch cfg.Mode {
	case domaintls.ModePFX:
		cert, err = loadPFX(cfg.PfxPath, cfg.PfxPassword)
	case domaintls.ModeKeyPair:
		cert, err = tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	default:
		return nil, fmt.Errorf("unsupported tls mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	tc := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}
	if v := domaintls.MinVersionToUint16(cfg.MinVersion); v != 0 {
		tc.MinVersion = v
	}
	return tc, nil
}

func loadPFX(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, err
	}

	priv, leaf, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pfx: %w", err)
	}

	chain := make([][]byte, 0, 1+len(caCerts))
	chain = append(chain, leaf.Raw)
	for _, ca := range caCerts {
		chain = append(chain, ca.Raw)
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}
