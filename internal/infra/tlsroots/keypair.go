package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/syncroom-go/internal/infra/confloader"
)

// DefaultExpiryWarning is how close to expiry a loaded certificate starts
// logging warnings.
const DefaultExpiryWarning = 14 * 24 * time.Hour

// KeyPair holds the serving certificate and reloads it when the cert or
// key file changes. A failed reload keeps the previous certificate.
type KeyPair struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	expiryWarning time.Duration
	debounce      time.Duration

	cert atomic.Pointer[tls.Certificate]

	mu      sync.Mutex
	watcher *confloader.Watcher
}

// Option configures a KeyPair.
type Option func(*KeyPair)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *KeyPair) { k.logger = logger }
}

// WithExpiryWarning overrides DefaultExpiryWarning.
func WithExpiryWarning(d time.Duration) Option {
	return func(k *KeyPair) { k.expiryWarning = d }
}

// WithDebounce sets how long file events settle before a reload.
func WithDebounce(d time.Duration) Option {
	return func(k *KeyPair) { k.debounce = d }
}

// LoadKeyPair loads certFile and keyFile.
func LoadKeyPair(certFile, keyFile string, opts ...Option) (*KeyPair, error) {
	k := &KeyPair{
		certFile:      certFile,
		keyFile:       keyFile,
		logger:        slog.Default(),
		expiryWarning: DefaultExpiryWarning,
		debounce:      confloader.DefaultDebounce,
	}
	for _, opt := range opts {
		opt(k)
	}
	k.logger = k.logger.With("component", "tls")

	if err := k.Reload(); err != nil {
		return nil, err
	}
	return k, nil
}

// Reload re-reads the key pair from disk.
func (k *KeyPair) Reload() error {
	cert, err := tls.LoadX509KeyPair(k.certFile, k.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}
	if cert.Leaf == nil {
		if cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return fmt.Errorf("tlsroots: parse leaf: %w", err)
		}
	}
	k.cert.Store(&cert)

	left := time.Until(cert.Leaf.NotAfter)
	switch {
	case left <= 0:
		k.logger.Error("certificate has expired", "cert_file", k.certFile, "not_after", cert.Leaf.NotAfter)
	case left < k.expiryWarning:
		k.logger.Warn("certificate expires soon", "cert_file", k.certFile, "not_after", cert.Leaf.NotAfter)
	default:
		k.logger.Info("certificate loaded", "cert_file", k.certFile, "not_after", cert.Leaf.NotAfter)
	}
	return nil
}

// Watch starts reloading on file changes until Stop.
func (k *KeyPair) Watch() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.watcher != nil {
		return nil
	}

	w, err := confloader.NewWatcher(
		confloader.WithWatcherLogger(k.logger),
		confloader.WithDebounce(k.debounce),
	)
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	for _, path := range []string{k.certFile, k.keyFile} {
		if err := w.Watch(path); err != nil {
			_ = w.Stop()
			return fmt.Errorf("tlsroots: watch %s: %w", filepath.Base(path), err)
		}
	}
	w.OnChange(func(path string) {
		if err := k.Reload(); err != nil {
			k.logger.Error("certificate reload failed, keeping previous", "file", path, "error", err)
		}
	})
	w.StartAsync()
	k.watcher = w
	return nil
}

// Stop stops watching. Safe to call without Watch.
func (k *KeyPair) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.watcher == nil {
		return nil
	}
	err := k.watcher.Stop()
	k.watcher = nil
	return err
}

// Certificate returns the current certificate.
func (k *KeyPair) Certificate() *tls.Certificate {
	return k.cert.Load()
}

// NotAfter returns the current certificate's expiry.
func (k *KeyPair) NotAfter() time.Time {
	return k.cert.Load().Leaf.NotAfter
}

// GetCertificate implements tls.Config.GetCertificate.
func (k *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return k.cert.Load(), nil
}

// ServerConfig returns a server TLS config that always presents the
// current certificate.
func (k *KeyPair) ServerConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: k.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}
