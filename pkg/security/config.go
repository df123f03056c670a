// Package security defines the TLS configuration types shared by every
// encrypted surface of the gateway: the manager client connection, the
// NATS client, the live feed WebSocket server, and the metrics endpoint.
// The types are pure data; pkg/tlsutil turns them into tls.Config values.
package security

// Config is the security section of the application configuration.
type Config struct {
	TLS TLSConfig `json:"tls,omitempty"`
}

// TLSConfig groups server-side and client-side TLS settings. The live
// feed and metrics endpoint consume the server half; the manager and
// NATS connections consume the client half.
type TLSConfig struct {
	Server ServerTLSConfig `json:"server,omitempty"`
	Client ClientTLSConfig `json:"client,omitempty"`
}

// ACMEConfig configures automated certificate issuance and renewal
// through an ACME directory (a private step-ca or a public CA).
type ACMEConfig struct {
	Enabled       bool     `json:"enabled"`
	DirectoryURL  string   `json:"directory_url,omitempty"`  // ACME directory endpoint
	Email         string   `json:"email,omitempty"`          // Registration contact
	Domains       []string `json:"domains,omitempty"`        // Names on the certificate
	ChallengeType string   `json:"challenge_type,omitempty"` // "http-01" or "tls-alpn-01"
	RenewBefore   string   `json:"renew_before,omitempty"`   // Renewal lead time, e.g. "8h"
	StoragePath   string   `json:"storage_path,omitempty"`   // Where issued certs are kept
	CABundle      string   `json:"ca_bundle,omitempty"`      // CA cert for a private directory
}

// ServerMTLSConfig makes a server validate client certificates.
type ServerMTLSConfig struct {
	Enabled           bool     `json:"enabled"`
	ClientCAFiles     []string `json:"client_ca_files,omitempty"`     // CAs trusted to sign client certs
	RequireClientCert bool     `json:"require_client_cert,omitempty"` // false leaves the cert optional
	AllowedClientCNs  []string `json:"allowed_client_cns,omitempty"`  // CN allowlist, empty = any
}

// ServerTLSConfig configures a listening surface (live feed, metrics).
// Mode selects between operator-managed certificate files ("manual")
// and ACME-issued certificates ("acme").
type ServerTLSConfig struct {
	Enabled    bool   `json:"enabled"`
	Mode       string `json:"mode,omitempty"` // "manual" (default) or "acme"
	CertFile   string `json:"cert_file,omitempty"`
	KeyFile    string `json:"key_file,omitempty"`
	MinVersion string `json:"min_version,omitempty"` // "1.2" or "1.3"

	ACME ACMEConfig `json:"acme,omitempty"`

	MTLS ServerMTLSConfig `json:"mtls,omitempty"`
}

// ClientMTLSConfig supplies the certificate a client presents when the
// peer demands mutual TLS.
type ClientMTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
}

// ClientTLSConfig configures an outbound connection (manager, NATS).
// The system CA bundle is always trusted; CAFiles add to it rather than
// replacing it.
type ClientTLSConfig struct {
	Mode               string   `json:"mode,omitempty"` // "manual" (default) or "acme"
	CAFiles            []string `json:"ca_files,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty"` // test setups only
	MinVersion         string   `json:"min_version,omitempty"`

	ACME ACMEConfig `json:"acme,omitempty"`

	MTLS ClientMTLSConfig `json:"mtls,omitempty"`
}
