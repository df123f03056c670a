// Package tlsutil builds tls.Config values for the gateway's encrypted
// surfaces from the shared security configuration: the live feed
// WebSocket server, the metrics endpoint, and outbound client
// connections. Certificates come from disk or, when ACME mode is
// enabled, from the pkg/acme client with background renewal.
package tlsutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/c360/amistreams/errors"
	"github.com/c360/amistreams/pkg/acme"
	"github.com/c360/amistreams/pkg/security"
)

// LoadServerTLSConfig builds a server tls.Config from disk
// certificates. A disabled config returns nil, which the HTTP servers
// take as plaintext.
func LoadServerTLSConfig(cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}, nil
}

// LoadClientTLSConfig builds a client tls.Config. Trust starts from
// the system CA bundle; CAFiles add private CAs on top, which is how
// the gateway trusts a site-local NATS or manager certificate.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}

	if err := appendCAFiles(rootCAs, cfg.CAFiles, "LoadClientTLSConfig"); err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		RootCAs:            rootCAs,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, nil
}

// appendCAFiles loads each PEM file into the pool.
func appendCAFiles(pool *x509.CertPool, caFiles []string, method string) error {
	for _, caFile := range caFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return errors.WrapFatal(err, "tlsutil", method,
				fmt.Sprintf("read CA file %s", caFile))
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return errors.WrapFatal(
				fmt.Errorf("invalid PEM data"),
				"tlsutil", method,
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	return nil
}

// LoadServerTLSConfigWithMTLS builds a server tls.Config that also
// verifies client certificates when mTLS is enabled. The live feed
// uses this to restrict WebSocket access to known consumers.
func LoadServerTLSConfigWithMTLS(cfg security.ServerTLSConfig, mtlsCfg security.ServerMTLSConfig) (*tls.Config, error) {
	tlsConfig, err := LoadServerTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !mtlsCfg.Enabled {
		return tlsConfig, nil
	}
	if err := applyMTLSConfig(tlsConfig, mtlsCfg); err != nil {
		return nil, err
	}
	return tlsConfig, nil
}

// applyMTLSConfig adds client certificate verification to a server
// config.
func applyMTLSConfig(tlsConfig *tls.Config, mtlsCfg security.ServerMTLSConfig) error {
	clientCAs := x509.NewCertPool()
	if err := appendCAFiles(clientCAs, mtlsCfg.ClientCAFiles, "applyMTLSConfig"); err != nil {
		return err
	}

	tlsConfig.ClientCAs = clientCAs
	if mtlsCfg.RequireClientCert {
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	if len(mtlsCfg.AllowedClientCNs) > 0 {
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyAllowedClientCN(verifiedChains, mtlsCfg.AllowedClientCNs)
		}
	}
	return nil
}

// verifyAllowedClientCN rejects verified client certificates whose CN
// is not on the allow list.
func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}

	leaf := chains[0][0]
	for _, cn := range allowedCNs {
		if leaf.Subject.CommonName == cn {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN '%s' not in allowed list",
		leaf.Subject.CommonName)
}

// LoadClientTLSConfigWithMTLS builds a client tls.Config that presents
// a certificate when mTLS is enabled.
func LoadClientTLSConfigWithMTLS(cfg security.ClientTLSConfig, mtlsCfg security.ClientMTLSConfig) (*tls.Config, error) {
	tlsConfig, err := LoadClientTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !mtlsCfg.Enabled {
		return tlsConfig, nil
	}

	clientCert, err := tls.LoadX509KeyPair(mtlsCfg.CertFile, mtlsCfg.KeyFile)
	if err != nil {
		return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfigWithMTLS",
			"load client certificate")
	}
	tlsConfig.Certificates = []tls.Certificate{clientCert}
	return tlsConfig, nil
}

// parseTLSVersion maps the config's version string onto the crypto/tls
// constant. Anything unrecognized falls back to 1.2.
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12
	}
}

// LoadServerTLSConfigWithACME builds a server tls.Config whose
// certificate is obtained and renewed through ACME. The returned
// cleanup stops the renewal loop. When ACME fails and manual
// certificate paths are configured, those are used instead.
func LoadServerTLSConfigWithACME(ctx context.Context, cfg security.ServerTLSConfig) (*tls.Config, func(), error) {
	if cfg.Mode != "acme" || !cfg.ACME.Enabled {
		tlsConfig, err := LoadServerTLSConfigWithMTLS(cfg, cfg.MTLS)
		return tlsConfig, func() {}, err
	}

	manualFallback := func() (*tls.Config, func(), error) {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, nil, nil
		}
		tlsConfig, err := LoadServerTLSConfigWithMTLS(cfg, cfg.MTLS)
		if err != nil {
			return nil, nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfigWithACME",
				"fallback to manual TLS")
		}
		return tlsConfig, func() {}, nil
	}

	cert, acmeClient, err := obtainACMECertificate(ctx, cfg.ACME)
	if err != nil {
		if tlsConfig, cleanup, fbErr := manualFallback(); tlsConfig != nil || fbErr != nil {
			return tlsConfig, cleanup, fbErr
		}
		return nil, nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}
	if cfg.MTLS.Enabled {
		if err := applyMTLSConfig(tlsConfig, cfg.MTLS); err != nil {
			return nil, nil, err
		}
	}

	cleanup := startRenewalLoop(ctx, acmeClient, tlsConfig)
	return tlsConfig, cleanup, nil
}

// LoadClientTLSConfigWithACME builds a client tls.Config whose mTLS
// certificate comes from ACME, with the same manual fallback rules as
// the server variant.
func LoadClientTLSConfigWithACME(ctx context.Context, cfg security.ClientTLSConfig) (*tls.Config, func(), error) {
	if cfg.Mode != "acme" || !cfg.ACME.Enabled {
		tlsConfig, err := LoadClientTLSConfigWithMTLS(cfg, cfg.MTLS)
		return tlsConfig, func() {}, err
	}

	tlsConfig, err := LoadClientTLSConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	manualFallback := func() (*tls.Config, func(), error) {
		if !cfg.MTLS.Enabled || cfg.MTLS.CertFile == "" || cfg.MTLS.KeyFile == "" {
			return nil, nil, nil
		}
		fallback, err := LoadClientTLSConfigWithMTLS(cfg, cfg.MTLS)
		if err != nil {
			return nil, nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfigWithACME",
				"fallback to manual client TLS")
		}
		return fallback, func() {}, nil
	}

	cert, acmeClient, err := obtainACMECertificate(ctx, cfg.ACME)
	if err != nil {
		if fallback, cleanup, fbErr := manualFallback(); fallback != nil || fbErr != nil {
			return fallback, cleanup, fbErr
		}
		return nil, nil, err
	}

	tlsConfig.Certificates = []tls.Certificate{*cert}
	cleanup := startRenewalLoop(ctx, acmeClient, tlsConfig)
	return tlsConfig, cleanup, nil
}

// obtainACMECertificate initializes the ACME client and returns a
// usable certificate, renewing an existing one or ordering fresh.
func obtainACMECertificate(ctx context.Context, cfg security.ACMEConfig) (*tls.Certificate, *acme.Client, error) {
	renewBefore, err := time.ParseDuration(cfg.RenewBefore)
	if err != nil {
		renewBefore = 8 * time.Hour
	}

	acmeClient, err := acme.NewClient(acme.Config{
		DirectoryURL:  cfg.DirectoryURL,
		Email:         cfg.Email,
		Domains:       cfg.Domains,
		ChallengeType: cfg.ChallengeType,
		RenewBefore:   renewBefore,
		StoragePath:   cfg.StoragePath,
		CABundle:      cfg.CABundle,
	})
	if err != nil {
		return nil, nil, err
	}

	cert, _, err := acmeClient.RenewCertificateIfNeeded(ctx)
	if err == nil && cert != nil {
		return cert, acmeClient, nil
	}

	cert, err = acmeClient.ObtainCertificate(ctx)
	if err != nil {
		return nil, nil, errors.WrapTransient(err, "tlsutil", "obtainACMECertificate",
			"obtain ACME certificate")
	}
	return cert, acmeClient, nil
}

// startRenewalLoop hot-swaps the certificate on renewal until the
// returned cleanup function is called.
func startRenewalLoop(ctx context.Context, acmeClient *acme.Client, tlsConfig *tls.Config) func() {
	renewalCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = acmeClient.StartRenewalLoop(renewalCtx, time.Hour,
			func(newCert *tls.Certificate) {
				tlsConfig.Certificates = []tls.Certificate{*newCert}
			})
	}()

	return func() {
		cancel()
		<-done
	}
}
