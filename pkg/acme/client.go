// Package acme obtains and renews TLS certificates for the gateway's
// public surfaces (the live event feed and the metrics endpoint) from an
// ACME directory such as Let's Encrypt. Account material and issued
// certificates are persisted under a storage directory so restarts reuse
// the existing registration instead of creating a new one.
package acme

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/c360/amistreams/errors"
	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge/http01"
	"github.com/go-acme/lego/v4/challenge/tlsalpn01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// File names inside the storage directory. These are stable so operators
// can back them up or inspect them.
const (
	accountFile    = "account.json"
	accountKeyFile = "account.key"
	certFile       = "certificate.pem"
	certKeyFile    = "certificate.key"
)

// Config holds everything needed to talk to an ACME directory.
type Config struct {
	DirectoryURL  string
	Email         string
	Domains       []string
	ChallengeType string
	RenewBefore   time.Duration
	StoragePath   string
	CABundle      string
}

// Validate checks required fields and applies the renewal-window default.
func (c *Config) Validate() error {
	if c.DirectoryURL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("directory_url is required"),
			"acme.Config", "Validate", "check directory URL")
	}
	if c.Email == "" {
		return errors.WrapInvalid(
			fmt.Errorf("email is required"),
			"acme.Config", "Validate", "check email")
	}
	if len(c.Domains) == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("at least one domain is required"),
			"acme.Config", "Validate", "check domains")
	}
	switch c.ChallengeType {
	case "", "http-01", "tls-alpn-01":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("challenge_type must be 'http-01' or 'tls-alpn-01'"),
			"acme.Config", "Validate", "check challenge type")
	}
	if c.StoragePath == "" {
		return errors.WrapInvalid(
			fmt.Errorf("storage_path is required"),
			"acme.Config", "Validate", "check storage path")
	}
	if c.RenewBefore <= 0 {
		c.RenewBefore = 8 * time.Hour
	}
	return nil
}

// Account is the gateway's ACME registration. It satisfies lego's
// registration.User interface.
type Account struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	key          crypto.PrivateKey
}

// GetEmail returns the registered email address.
func (a *Account) GetEmail() string { return a.Email }

// GetRegistration returns the directory's registration resource.
func (a *Account) GetRegistration() *registration.Resource { return a.Registration }

// GetPrivateKey returns the account signing key.
func (a *Account) GetPrivateKey() crypto.PrivateKey { return a.key }

// Client drives certificate issuance and renewal against one ACME
// directory for one set of domains.
type Client struct {
	config     Config
	account    *Account
	legoClient *lego.Client
	log        *slog.Logger
}

// NewClient validates cfg, prepares the storage directory, loads or
// registers the ACME account, and wires up the challenge provider. It does
// not contact the directory for certificates; call ObtainCertificate or
// RenewCertificateIfNeeded for that.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.StoragePath, 0700); err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "NewClient", "create storage directory")
	}

	c := &Client{
		config: cfg,
		log:    slog.Default().With("component", "acme", "domains", cfg.Domains),
	}
	if err := c.loadOrCreateAccount(); err != nil {
		return nil, err
	}
	if err := c.initializeLegoClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) storageFile(name string) string {
	return filepath.Join(c.config.StoragePath, name)
}

// loadOrCreateAccount restores the account from the storage directory, or
// generates a fresh P-256 key for a new one. Registration with the
// directory happens later, in initializeLegoClient.
func (c *Client) loadOrCreateAccount() error {
	if _, err := os.Stat(c.storageFile(accountFile)); err == nil {
		return c.loadAccount()
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "generate private key")
	}
	c.account = &Account{Email: c.config.Email, key: key}
	c.log.Info("created new ACME account", "email", c.config.Email)
	return c.saveAccount()
}

func (c *Client) loadAccount() error {
	data, err := os.ReadFile(c.storageFile(accountFile))
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "read account file")
	}
	var account Account
	if err := json.Unmarshal(data, &account); err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "unmarshal account")
	}

	keyData, err := os.ReadFile(c.storageFile(accountKeyFile))
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "read key file")
	}
	account.key, err = certcrypto.ParsePEMPrivateKey(keyData)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "loadOrCreateAccount", "parse private key")
	}

	c.account = &account
	c.log.Debug("loaded existing ACME account", "email", account.Email,
		"registered", account.Registration != nil)
	return nil
}

func (c *Client) saveAccount() error {
	data, err := json.MarshalIndent(c.account, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "marshal account")
	}
	if err := os.WriteFile(c.storageFile(accountFile), data, 0600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "write account file")
	}
	keyPEM := certcrypto.PEMEncode(c.account.key)
	if err := os.WriteFile(c.storageFile(accountKeyFile), keyPEM, 0600); err != nil {
		return errors.WrapFatal(err, "acme.Client", "saveAccount", "write key file")
	}
	return nil
}

// initializeLegoClient builds the lego client, installs the challenge
// provider, and registers the account with the directory if this is its
// first run.
func (c *Client) initializeLegoClient() error {
	legoCfg := lego.NewConfig(c.account)
	legoCfg.CADirURL = c.config.DirectoryURL
	legoCfg.Certificate.KeyType = certcrypto.EC256

	// Private directories (Pebble, step-ca) usually serve their API over
	// a cert the system pool does not know.
	if c.config.CABundle != "" {
		pool, err := c.directoryCAPool()
		if err != nil {
			return err
		}
		legoCfg.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pool},
			},
		}
	}

	client, err := lego.NewClient(legoCfg)
	if err != nil {
		return errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "create lego client")
	}

	if err := c.installChallengeProvider(client); err != nil {
		return err
	}

	if c.account.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return errors.WrapTransient(err, "acme.Client", "initializeLegoClient", "register account")
		}
		c.account.Registration = reg
		if err := c.saveAccount(); err != nil {
			return err
		}
		c.log.Info("registered ACME account", "directory", c.config.DirectoryURL)
	}

	c.legoClient = client
	return nil
}

func (c *Client) directoryCAPool() (*x509.CertPool, error) {
	pem, err := os.ReadFile(c.config.CABundle)
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "read CA bundle")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.WrapFatal(
			fmt.Errorf("failed to parse CA certificate"),
			"acme.Client", "initializeLegoClient", "parse CA bundle")
	}
	return pool, nil
}

func (c *Client) installChallengeProvider(client *lego.Client) error {
	challengeType := c.config.ChallengeType
	if challengeType == "" {
		challengeType = "http-01"
	}
	switch challengeType {
	case "http-01":
		if err := client.Challenge.SetHTTP01Provider(http01.NewProviderServer("", "80")); err != nil {
			return errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "setup HTTP-01 challenge")
		}
	case "tls-alpn-01":
		if err := client.Challenge.SetTLSALPN01Provider(tlsalpn01.NewProviderServer("", "443")); err != nil {
			return errors.WrapFatal(err, "acme.Client", "initializeLegoClient", "setup TLS-ALPN-01 challenge")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unsupported challenge type: %s", challengeType),
			"acme.Client", "initializeLegoClient", "setup challenge provider")
	}
	return nil
}

// ObtainCertificate requests a new certificate for the configured domains,
// persists it to the storage directory, and returns it ready for use in a
// tls.Config.
func (c *Client) ObtainCertificate(_ context.Context) (*tls.Certificate, error) {
	c.log.Info("obtaining certificate")
	res, err := c.legoClient.Certificate.Obtain(certificate.ObtainRequest{
		Domains: c.config.Domains,
		Bundle:  true,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "acme.Client", "ObtainCertificate", "obtain certificate")
	}

	if err := c.writeCertFiles(res.Certificate, res.PrivateKey, "ObtainCertificate"); err != nil {
		return nil, err
	}

	tlsCert, err := tls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return nil, errors.WrapFatal(err, "acme.Client", "ObtainCertificate", "load certificate")
	}
	c.log.Info("certificate obtained", "path", c.storageFile(certFile))
	return &tlsCert, nil
}

// RenewCertificateIfNeeded loads the stored certificate and renews it when
// it is inside the RenewBefore window. The bool reports whether a renewal
// happened. (nil, false, nil) means no certificate exists yet and the
// caller should obtain one.
func (c *Client) RenewCertificateIfNeeded(_ context.Context) (*tls.Certificate, bool, error) {
	certPath := c.storageFile(certFile)
	keyPath := c.storageFile(certKeyFile)

	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		return nil, false, nil
	}

	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"load existing certificate")
	}
	leaf, err := x509.ParseCertificate(tlsCert.Certificate[0])
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"parse certificate")
	}

	if time.Now().Before(leaf.NotAfter.Add(-c.config.RenewBefore)) {
		return &tlsCert, false, nil
	}

	c.log.Info("certificate inside renewal window", "not_after", leaf.NotAfter)
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"read certificate for renewal")
	}
	renewed, err := c.legoClient.Certificate.Renew(certificate.Resource{
		Domain:      c.config.Domains[0],
		Certificate: certPEM,
	}, true, false, "")
	if err != nil {
		return nil, false, errors.WrapTransient(err, "acme.Client", "RenewCertificateIfNeeded",
			"renew certificate")
	}

	if err := c.writeCertFiles(renewed.Certificate, renewed.PrivateKey, "RenewCertificateIfNeeded"); err != nil {
		return nil, false, err
	}

	renewedTLS, err := tls.X509KeyPair(renewed.Certificate, renewed.PrivateKey)
	if err != nil {
		return nil, false, errors.WrapFatal(err, "acme.Client", "RenewCertificateIfNeeded",
			"load renewed certificate")
	}
	c.log.Info("certificate renewed")
	return &renewedTLS, true, nil
}

func (c *Client) writeCertFiles(certPEM, keyPEM []byte, method string) error {
	if err := os.WriteFile(c.storageFile(certFile), certPEM, 0644); err != nil {
		return errors.WrapFatal(err, "acme.Client", method, "write certificate")
	}
	if err := os.WriteFile(c.storageFile(certKeyFile), keyPEM, 0600); err != nil {
		return errors.WrapFatal(err, "acme.Client", method, "write private key")
	}
	return nil
}

// StartRenewalLoop checks the certificate every checkInterval until ctx is
// cancelled, invoking onRenewal with the fresh certificate after each
// successful renewal. Renewal errors are logged and retried on the next
// tick.
func (c *Client) StartRenewalLoop(ctx context.Context, checkInterval time.Duration,
	onRenewal func(*tls.Certificate)) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cert, renewed, err := c.RenewCertificateIfNeeded(ctx)
			if err != nil {
				c.log.Warn("certificate renewal check failed", "error", err)
				continue
			}
			if renewed && onRenewal != nil {
				onRenewal(cert)
			}
		}
	}
}
