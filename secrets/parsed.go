package secrets

import (
	"crypto/x509"
	"net/url"

	"github.com/giantswarm/oidc-core/protocol"
)

// Parsed secret types
const (
	ParsedSecretTypeNoSecret        = "NoSecret"
	ParsedSecretTypeSharedSecret    = "SharedSecret"
	ParsedSecretTypeX509Certificate = "X509Certificate"
	ParsedSecretTypeJwtBearer       = protocol.ClientAssertionTypeJWTBearer
)

// Token endpoint authentication method names
const (
	AuthMethodBasic         = "client_secret_basic"
	AuthMethodPost          = "client_secret_post"
	AuthMethodPrivateKeyJWT = "private_key_jwt"
	AuthMethodTLSClientAuth = "tls_client_auth"
)

// ParsedSecret is a credential extracted from a request. It lives for the
// duration of a single request.
type ParsedSecret struct {
	// ID is the client (or API resource) id the credential claims to belong to
	ID string

	// Credential is the secret itself: a string for shared secrets and JWTs,
	// an *x509.Certificate for mutual TLS, nil for NoSecret.
	Credential any

	// Type is one of the ParsedSecretType constants
	Type string

	Properties map[string]string
}

// Source is the credential-bearing surface of a request. Decoding the HTTP
// request into a Source is left to the caller.
type Source struct {
	// Authorization is the raw Authorization header value
	Authorization string

	// Form holds the decoded request body parameters
	Form url.Values

	// PeerCertificates is the verified client certificate chain of a mutual TLS connection
	PeerCertificates []*x509.Certificate
}

// Limits bounds the size of parsed input
type Limits struct {
	ClientID     int
	ClientSecret int
	JWT          int
}

// DefaultLimits returns the default input length restrictions
func DefaultLimits() Limits {
	return Limits{
		ClientID:     100,
		ClientSecret: 100,
		JWT:          51200,
	}
}
