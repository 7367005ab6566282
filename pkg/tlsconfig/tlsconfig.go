// Package tlsconfig provides helpers for building the crypto/tls.Config used
// by direct HTTPS connections, CONNECT-tunnel TLS upgrades, and HTTPS-proxy
// connections.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Recommended SSL/TLS version profiles.
var (
	ProfileModern = VersionProfile{
		Min:         tls.VersionTLS13,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.3 only",
	}
	ProfileSecure = VersionProfile{
		Min:         tls.VersionTLS12,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.2+, recommended default",
	}
	ProfileCompatible = VersionProfile{
		Min:         tls.VersionTLS10,
		Max:         tls.VersionTLS13,
		Description: "TLS 1.0+, maximum compatibility",
	}
)

// VersionProfile names a min/max TLS version pair.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

// ApplyVersionProfile sets config's Min/MaxVersion from profile.
func ApplyVersionProfile(config *tls.Config, profile VersionProfile) {
	config.MinVersion = profile.Min
	config.MaxVersion = profile.Max
}

// GetVersionName returns a human-readable name for a TLS version constant.
func GetVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "unknown"
	}
}

// ConfigureSNI applies SNI configuration to tlsConfig:
//  1. an explicit tlsConfig.ServerName already set wins,
//  2. disableSNI leaves ServerName empty,
//  3. customSNI is used if set,
//  4. otherwise fallbackHost (the dial target) is used.
func ConfigureSNI(tlsConfig *tls.Config, customSNI string, disableSNI bool, fallbackHost string) {
	if tlsConfig == nil || tlsConfig.ServerName != "" || disableSNI {
		return
	}
	if customSNI != "" {
		tlsConfig.ServerName = customSNI
	} else {
		tlsConfig.ServerName = fallbackHost
	}
}

// ClientCertSource names where to load a client certificate from for mutual
// TLS; exactly one of (CertPEM, KeyPEM) or (CertFile, KeyFile) should be set.
type ClientCertSource struct {
	CertPEM  []byte
	KeyPEM   []byte
	CertFile string
	KeyFile  string
}

// LoadClientCertificate loads a client certificate for mTLS from PEM bytes
// or from files. Returns (nil, nil) if src names neither.
func LoadClientCertificate(src ClientCertSource) (*tls.Certificate, error) {
	hasPEM := len(src.CertPEM) > 0 && len(src.KeyPEM) > 0
	hasFile := src.CertFile != "" && src.KeyFile != ""
	if !hasPEM && !hasFile {
		return nil, nil
	}

	certPEM, keyPEM := src.CertPEM, src.KeyPEM
	if !hasPEM {
		var err error
		certPEM, err = os.ReadFile(src.CertFile)
		if err != nil {
			return nil, fmt.Errorf("reading client certificate %s: %w", src.CertFile, err)
		}
		keyPEM, err = os.ReadFile(src.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading client key %s: %w", src.KeyFile, err)
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing client certificate/key: %w", err)
	}
	return &cert, nil
}

// Params configures BuildConfig.
type Params struct {
	Host               string
	SNI                string
	DisableSNI         bool
	InsecureSkipVerify bool
	CustomCACerts      [][]byte
	ClientCert         ClientCertSource
	MinVersion         uint16
	MaxVersion         uint16
	NextProtos         []string
}

// BuildConfig assembles a *tls.Config for dialing Host, applying SNI rules,
// optional custom root CAs, an optional client certificate for mTLS, and
// protocol-version bounds. ALPN is pinned to NextProtos (HTTP/1.1 transports
// must never silently negotiate h2).
func BuildConfig(p Params) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: p.InsecureSkipVerify,
		MinVersion:         p.MinVersion,
		MaxVersion:         p.MaxVersion,
		NextProtos:         p.NextProtos,
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	if len(p.CustomCACerts) > 0 {
		pool := x509.NewCertPool()
		for i, ca := range p.CustomCACerts {
			if !pool.AppendCertsFromPEM(ca) {
				return nil, fmt.Errorf("failed to parse CA certificate at index %d", i)
			}
		}
		cfg.RootCAs = pool
	}

	ConfigureSNI(cfg, p.SNI, p.DisableSNI, p.Host)

	cert, err := LoadClientCertificate(p.ClientCert)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		cfg.Certificates = append(cfg.Certificates, *cert)
	}

	return cfg, nil
}
