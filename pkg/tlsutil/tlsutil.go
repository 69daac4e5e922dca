// Package tlsutil builds client TLS settings for the HTTP endpoints pipelines
// read from and publish to.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"

	"github.com/c360/datacollector/errors"
)

// ClientConfig configures outgoing TLS connections.
type ClientConfig struct {
	CAFiles            []string `yaml:"ca_files,omitempty" json:"ca_files,omitempty"` // Trusted on top of the system pool
	CertFile           string   `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile            string   `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	MinVersion         string   `yaml:"min_version,omitempty" json:"min_version,omitempty"` // "1.2" (default) or "1.3"
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// IsZero reports whether cfg leaves every setting at its default.
func (cfg ClientConfig) IsZero() bool {
	return len(cfg.CAFiles) == 0 && cfg.CertFile == "" && cfg.KeyFile == "" &&
		cfg.MinVersion == "" && !cfg.InsecureSkipVerify
}

// Validate checks the settings without reading any file.
func (cfg ClientConfig) Validate() error {
	switch cfg.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("tls min_version %q must be 1.2 or 1.3", cfg.MinVersion)
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be set together")
	}
	return nil
}

// LoadClientConfig returns a tls.Config trusting the system pool plus
// CAFiles. CertFile and KeyFile enable a client certificate for mTLS.
func LoadClientConfig(cfg ClientConfig) (*tls.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "tlsutil", "LoadClientConfig", "validate config")
	}

	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil", "LoadClientConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	tlsConfig.RootCAs = rootCAs

	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // explicit opt-out in config
	}
	return tlsConfig, nil
}

// NewHTTPClient returns an HTTP client using the TLS settings of cfg.
func NewHTTPClient(cfg ClientConfig) (*http.Client, error) {
	tlsConfig, err := LoadClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport}, nil
}

// parseTLSVersion defaults to TLS 1.2.
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
