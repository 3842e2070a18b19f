// Package tls builds the server-side TLS configuration for the HTTP API,
// optionally generating a self-signed certificate on first start.
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
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	CertFile     string  `mapstructure:"cert_file"`
	KeyFile      string  `mapstructure:"key_file"`
	Dir          string  `mapstructure:"dir"` // holds tls.crt and tls.key
	AutoGenerate bool    `mapstructure:"auto_generate"`
	MinVersion   string  `mapstructure:"min_version"` // "1.2" or "1.3"
	MaxVersion   string  `mapstructure:"max_version"`
	AutoGen      AutoGen `mapstructure:"auto_gen"`
}

// AutoGen controls the self-signed certificate written when AutoGenerate is set.
type AutoGen struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

// CACertPath is where an auto-generated certificate is copied for clients.
func (c Config) CACertPath() string {
	if c.Dir == "" {
		return ""
	}
	return filepath.Join(c.Dir, tlsCaCrt)
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "", "default":
		return 0, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// resolveVersions defaults to TLS 1.2 through 1.3.
func resolveVersions(c Config) (lo, hi uint16, err error) {
	lo, hi = tls.VersionTLS12, tls.VersionTLS13
	if c.MinVersion != "" {
		v, ok := parseTLSVersion(c.MinVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported TLS min_version %q", c.MinVersion)
		}
		lo = v
	}
	if c.MaxVersion != "" {
		v, ok := parseTLSVersion(c.MaxVersion)
		if !ok {
			return 0, 0, fmt.Errorf("unsupported TLS max_version %q", c.MaxVersion)
		}
		hi = v
	}
	if lo > hi {
		return 0, 0, errors.New("TLS min_version is above max_version")
	}
	return lo, hi, nil
}

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// getCertificationFunc reloads the key pair on every handshake so rotated
// certificates are picked up without a restart.
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	certDir, keyDir := filepath.Dir(certFile), filepath.Dir(keyFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(certDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(keyDir, keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// Setup returns nil when TLS is disabled. Explicit cert/key files win over
// the directory layout.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, maxVer, err := resolveVersions(c)
	if err != nil {
		return nil, err
	}

	var certPath, keyPath string
	switch {
	case c.CertFile != "" && c.KeyFile != "":
		certPath, keyPath = c.CertFile, c.KeyFile
	case c.Dir != "":
		certPath, keyPath = filepath.Join(c.Dir, tlsCrt), filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}

	// Fail at startup rather than on the first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generateCertificate(c Config) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	ag := c.AutoGen
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   getOrDefault(ag.CommonName, "localhost"),
		Organization: getOrDefault(ag.Organization, "botvisor"),
		DNSNames:     getOrDefaultSlice(ag.DNSNames, []string{"localhost"}),
		IPAddresses:  getOrDefaultSlice(ag.IPAddresses, []string{"127.0.0.1", "::1"}),
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(c.Dir, tlsCrt),
		KeyPath:      filepath.Join(c.Dir, tlsKey),
		CACertPath:   c.CACertPath(),
	})
}

func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func getOrDefaultSlice(value, defaultValue []string) []string {
	if len(value) == 0 {
		return defaultValue
	}
	return value
}
