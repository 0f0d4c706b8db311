package mqttsession

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// TLSConfig mirrors the original's TlsConfig: CA material, an optional
// client certificate, and an insecure escape hatch.
type TLSConfig struct {
	CAFile   string
	CADir    string
	CertFile string
	KeyFile  string
	Insecure bool
}

// BuildTLSConfig constructs a *tls.Config following the precedence CAFile >
// CADir > platform roots; a client certificate is attached iff both
// CertFile and KeyFile are set. Insecure installs InsecureSkipVerify and
// logs a warning, matching the original's "insecure mode" verifier.
func BuildTLSConfig(cfg TLSConfig, log *logrus.Entry) (*tls.Config, error) {
	pool, err := buildRootPool(cfg)
	if err != nil {
		return nil, err
	}

	tlsCfg := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	if cfg.Insecure {
		log.Warn("TLS certificate validation disabled (insecure mode)")
		tlsCfg.InsecureSkipVerify = true
	}

	return tlsCfg, nil
}

func buildRootPool(cfg TLSConfig) (*x509.CertPool, error) {
	switch {
	case cfg.CAFile != "":
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		return pool, nil

	case cfg.CADir != "":
		entries, err := os.ReadDir(cfg.CADir)
		if err != nil {
			return nil, fmt.Errorf("read ca_dir: %w", err)
		}
		pool := x509.NewCertPool()
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := filepath.Ext(entry.Name())
			if ext != ".crt" && ext != ".pem" {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(cfg.CADir, entry.Name()))
			if err != nil {
				continue
			}
			pool.AppendCertsFromPEM(pem)
		}
		return pool, nil

	default:
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		return pool, nil
	}
}
