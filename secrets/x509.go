package secrets

import (
	"context"
	"crypto/sha1" //nolint:gosec // thumbprints are SHA-1 by convention, not used for integrity
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/giantswarm/oidc-core/storage"
)

// X509ThumbprintValidator matches the client certificate against stored hex SHA-1 thumbprints
type X509ThumbprintValidator struct{}

// Handles implements Validator
func (v *X509ThumbprintValidator) Handles(parsedType string) bool {
	return parsedType == ParsedSecretTypeX509Certificate
}

// Validate implements Validator
func (v *X509ThumbprintValidator) Validate(_ context.Context, secrets []storage.Secret, parsed *ParsedSecret) ValidationResult {
	cert, ok := parsed.Credential.(*x509.Certificate)
	if !ok || cert == nil {
		return failed
	}

	thumbprint := Thumbprint(cert)
	for _, secret := range secrets {
		if secret.Type != storage.SecretTypeX509Thumbprint {
			continue
		}
		stored := strings.ToLower(strings.ReplaceAll(secret.Value, ":", ""))
		if subtle.ConstantTimeCompare([]byte(stored), []byte(thumbprint)) == 1 {
			return ValidationResult{Success: true, Confirmation: Confirmation(cert)}
		}
	}
	return failed
}

// X509NameValidator matches the certificate subject distinguished name
type X509NameValidator struct{}

// Handles implements Validator
func (v *X509NameValidator) Handles(parsedType string) bool {
	return parsedType == ParsedSecretTypeX509Certificate
}

// Validate implements Validator
func (v *X509NameValidator) Validate(_ context.Context, secrets []storage.Secret, parsed *ParsedSecret) ValidationResult {
	cert, ok := parsed.Credential.(*x509.Certificate)
	if !ok || cert == nil {
		return failed
	}

	name := cert.Subject.String()
	for _, secret := range secrets {
		if secret.Type == storage.SecretTypeX509Name && secret.Value == name {
			return ValidationResult{Success: true, Confirmation: Confirmation(cert)}
		}
	}
	return failed
}

// Thumbprint returns the lower-case hex SHA-1 thumbprint of a certificate
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// Confirmation returns the cnf claim value binding a token to cert (RFC 8705 x5t#S256)
func Confirmation(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	cnf, _ := json.Marshal(map[string]string{
		"x5t#S256": base64.RawURLEncoding.EncodeToString(sum[:]),
	})
	return string(cnf)
}
