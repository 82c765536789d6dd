// Package tls configures HTTPS for the session server, either from
// certificate files or through Let's Encrypt.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/acme/autocert"

	"github.com/antibyte/looplang/pkg/configuration"
	"github.com/antibyte/looplang/pkg/logger"
)

// TLSConfig holds the [TLS] settings.
type TLSConfig struct {
	EnableTLS         bool
	EnableLetsEncrypt bool
	Domain            string
	LetsEncryptEmail  string
	CertCacheDir      string
	CertFile          string
	KeyFile           string
	// RedirectAddress, when set, gets a plain HTTP listener that answers
	// ACME challenges and redirects everything else to HTTPS.
	RedirectAddress string
}

// TLSManager turns a TLSConfig into what http.Server needs.
type TLSManager struct {
	config      *TLSConfig
	autocertMgr *autocert.Manager
	tlsConfig   *tls.Config
}

// ConfigFromSettings reads the [TLS] section.
func ConfigFromSettings() *TLSConfig {
	return &TLSConfig{
		EnableTLS:         configuration.GetBool("TLS", "enable_tls", false),
		EnableLetsEncrypt: configuration.GetBool("TLS", "enable_letsencrypt", false),
		Domain:            configuration.GetString("TLS", "domain", ""),
		LetsEncryptEmail:  configuration.GetString("TLS", "letsencrypt_email", ""),
		CertCacheDir:      configuration.GetString("TLS", "cert_cache_dir", "./certs"),
		CertFile:          configuration.GetString("TLS", "cert_file", "./certs/server.crt"),
		KeyFile:           configuration.GetString("TLS", "key_file", "./certs/server.key"),
		RedirectAddress:   configuration.GetString("TLS", "redirect_address", ""),
	}
}

// NewTLSManager validates config and loads certificates. A disabled config
// yields a manager whose TLSConfig is nil.
func NewTLSManager(config *TLSConfig) (*TLSManager, error) {
	tm := &TLSManager{config: config}
	if !config.EnableTLS {
		return tm, nil
	}
	if err := tm.validateConfig(); err != nil {
		return nil, fmt.Errorf("TLS configuration validation failed: %w", err)
	}
	var err error
	if config.EnableLetsEncrypt {
		err = tm.initializeLetsEncrypt()
	} else {
		err = tm.initializeManualTLS()
	}
	if err != nil {
		return nil, fmt.Errorf("TLS initialization failed: %w", err)
	}
	return tm, nil
}

func (tm *TLSManager) validateConfig() error {
	c := tm.config
	if c.EnableLetsEncrypt {
		if strings.TrimSpace(c.Domain) == "" {
			return errors.New("domain is required when Let's Encrypt is enabled")
		}
		if strings.TrimSpace(c.LetsEncryptEmail) == "" {
			return errors.New("letsencrypt_email is required when Let's Encrypt is enabled")
		}
		if c.RedirectAddress == "" {
			logger.SecurityWarn("Let's Encrypt without redirect_address: HTTP-01 challenges cannot be answered")
		}
		return nil
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.New("cert_file and key_file are required without Let's Encrypt")
	}
	return nil
}

func (tm *TLSManager) initializeLetsEncrypt() error {
	logger.SecurityInfo("Initializing Let's Encrypt for domain %s", tm.config.Domain)

	if err := os.MkdirAll(tm.config.CertCacheDir, 0700); err != nil {
		return fmt.Errorf("failed to create certificate cache directory: %w", err)
	}

	tm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(tm.config.CertCacheDir),
		Prompt:     autocert.AcceptTOS,
		Email:      tm.config.LetsEncryptEmail,
		HostPolicy: autocert.HostWhitelist(tm.config.Domain),
	}

	tm.tlsConfig = tm.autocertMgr.TLSConfig()
	tm.tlsConfig.MinVersion = tls.VersionTLS12
	getCertificate := tm.tlsConfig.GetCertificate
	tm.tlsConfig.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		if hello.ServerName == "" {
			hello.ServerName = tm.config.Domain
		}
		cert, err := getCertificate(hello)
		if err != nil {
			logger.SecurityWarn("No certificate for %q: %v", hello.ServerName, err)
		}
		return cert, err
	}
	return nil
}

func (tm *TLSManager) initializeManualTLS() error {
	logger.SecurityInfo("Loading TLS certificate %s", tm.config.CertFile)

	cert, err := tls.LoadX509KeyPair(tm.config.CertFile, tm.config.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load key pair: %w", err)
	}
	tm.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	return nil
}

// IsEnabled reports whether the server should speak HTTPS.
func (tm *TLSManager) IsEnabled() bool {
	return tm.config.EnableTLS
}

// GetTLSConfig returns nil when TLS is disabled.
func (tm *TLSManager) GetTLSConfig() *tls.Config {
	if !tm.config.EnableTLS {
		return nil
	}
	return tm.tlsConfig
}

// NeedsHTTPServer reports whether a plain HTTP listener should run next to
// the HTTPS one.
func (tm *TLSManager) NeedsHTTPServer() bool {
	return tm.config.EnableTLS && tm.config.RedirectAddress != ""
}

// RedirectAddress is the address of the plain HTTP listener.
func (tm *TLSManager) RedirectAddress() string {
	return tm.config.RedirectAddress
}

// GetHTTPHandler serves ACME challenges when Let's Encrypt is in use and
// redirects to httpsAddress otherwise.
func (tm *TLSManager) GetHTTPHandler(httpsAddress string) http.Handler {
	redirect := redirectHandler(httpsAddress)
	if tm.autocertMgr != nil {
		return tm.autocertMgr.HTTPHandler(redirect)
	}
	return redirect
}

func redirectHandler(httpsAddress string) http.Handler {
	_, port, _ := net.SplitHostPort(httpsAddress)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host
		if port != "" && port != "443" {
			target = "https://" + net.JoinHostPort(host, port)
		}
		target += r.URL.RequestURI()
		logger.ServerDebug("Redirecting %s to %s", r.URL, target)
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}
