package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// validateTLSFiles checks that every non-empty certificate or key path
// exists, is a regular file and can be opened for reading.
func validateTLSFiles(s TLSSettings) error {
	files := []struct {
		kind string
		path string
	}{
		{"CA certificate", s.CACert},
		{"client certificate", s.ClientCert},
		{"client key", s.ClientKey},
	}

	for _, f := range files {
		if f.path == "" {
			continue
		}
		info, err := os.Stat(f.path)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %w", ErrTLSConfiguration, f.kind, f.path, err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s %q is not a regular file", ErrTLSConfiguration, f.kind, f.path)
		}
		fh, err := os.Open(f.path)
		if err != nil {
			return fmt.Errorf("%w: %s %q: %w", ErrTLSConfiguration, f.kind, f.path, err)
		}
		fh.Close() //nolint:errcheck,gosec // read-only check
	}

	if (s.ClientCert == "") != (s.ClientKey == "") {
		return fmt.Errorf("%w: client certificate and key must be configured together", ErrTLSConfiguration)
	}
	return nil
}

// buildTLSConfig loads the validated material into a tls.Config.
func buildTLSConfig(s TLSSettings) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tlsMinVersion,
		InsecureSkipVerify: s.Insecure, //nolint:gosec // operator opt-in via tls_insecure
	}

	if s.CACert != "" {
		pem, err := os.ReadFile(s.CACert)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA certificate: %w", ErrTLSConfiguration, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %q", ErrTLSConfiguration, s.CACert)
		}
		cfg.RootCAs = pool
	}

	if s.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(s.ClientCert, s.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client key pair: %w", ErrTLSConfiguration, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}
