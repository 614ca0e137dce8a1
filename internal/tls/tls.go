// Package tls builds the server-side TLS configuration for the management
// API, optionally generating a self-signed certificate for development
// setups.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	certFileName = "tls.crt"
	keyFileName  = "tls.key"
)

// Config selects the certificate source for the HTTPS listener. Either
// CertFile and KeyFile point at an existing pair, or Dir names a directory
// holding tls.crt and tls.key, created on demand when AutoGenerate is set.
type Config struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"`
}

func parseVersion(v string) (uint16, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}

// ServerTLS resolves c into a crypto/tls config. Certificates are read from
// disk on every handshake so rotation does not need a restart.
func (c Config) ServerTLS() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case c.Dir != "":
		certPath = filepath.Join(c.Dir, certFileName)
		keyPath = filepath.Join(c.Dir, keyFileName)
		if c.AutoGenerate && !pairExists(certPath, keyPath) {
			if err := generateInto(c.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("tls enabled but no certificate source configured")
	}

	return &tls.Config{
		GetCertificate: loadFunc(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

func loadFunc(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := readWithin(filepath.Dir(certPath), certPath)
		if err != nil {
			return nil, err
		}
		keyPEM, err := readWithin(filepath.Dir(keyPath), keyPath)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// readWithin refuses paths that escape the certificate directory.
func readWithin(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	absBase, _ := filepath.Abs(baseDir)
	absFile, _ := filepath.Abs(clean)
	if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
		return nil, errors.New("certificate path escapes its directory")
	}
	return os.ReadFile(clean)
}

func pairExists(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateInto(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return GenerateSelfSigned(CertSpec{
		CommonName:   "localhost",
		Organization: "rathole-mgmt",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(1, 0, 0),
		CertPath:     filepath.Join(dir, certFileName),
		KeyPath:      filepath.Join(dir, keyFileName),
	})
}
