package signing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRSAKeySize is the modulus size of generated RSA keys
const DefaultRSAKeySize = 2048

var (
	// ErrUnsupportedKey is returned for keys other than RSA and ECDSA P-256/P-384/P-521
	ErrUnsupportedKey = errors.New("unsupported signing key")

	// ErrUnknownKey is returned when a token references a key id that is not known
	ErrUnknownKey = errors.New("unknown signing key")
)

// Service signs claims and verifies signed tokens. Verify checks the
// signature only; lifetime and issuer checks belong to the caller.
type Service interface {
	Sign(ctx context.Context, claims map[string]any) (string, error)
	Verify(ctx context.Context, token string) (map[string]any, error)
}

type signingKey struct {
	id     string
	method jwt.SigningMethod
	signer crypto.Signer
}

// KeyService is a Service backed by an in-process private key
type KeyService struct {
	mu      sync.RWMutex
	current signingKey
	keys    map[string]crypto.PublicKey
	logger  *slog.Logger
}

var _ Service = (*KeyService)(nil)

// NewKeyService creates a service signing with key
func NewKeyService(key crypto.Signer, logger *slog.Logger) (*KeyService, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sk, err := newSigningKey(key)
	if err != nil {
		return nil, err
	}

	return &KeyService{
		current: sk,
		keys:    map[string]crypto.PublicKey{sk.id: key.Public()},
		logger:  logger,
	}, nil
}

func newSigningKey(key crypto.Signer) (signingKey, error) {
	method, err := methodForKey(key)
	if err != nil {
		return signingKey{}, err
	}
	kid, err := KeyID(key.Public())
	if err != nil {
		return signingKey{}, err
	}
	return signingKey{id: kid, method: method, signer: key}, nil
}

func methodForKey(key crypto.Signer) (jwt.SigningMethod, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, nil
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, nil
		}
	}
	return nil, ErrUnsupportedKey
}

// Rotate makes key the signing key. The previous key stays available for verification.
func (s *KeyService) Rotate(key crypto.Signer) error {
	sk, err := newSigningKey(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sk
	s.keys[sk.id] = key.Public()

	s.logger.Info("Rotated signing key", "kid", sk.id, "alg", sk.method.Alg())
	return nil
}

// AddValidationKey accepts tokens signed by the private half of pub
func (s *KeyService) AddValidationKey(pub crypto.PublicKey) (string, error) {
	kid, err := KeyID(pub)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[kid] = pub
	return kid, nil
}

// KeyID returns the id of the current signing key
func (s *KeyService) KeyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.id
}

// Algorithm returns the JWS algorithm of the current signing key
func (s *KeyService) Algorithm() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.method.Alg()
}

// Sign implements Service
func (s *KeyService) Sign(_ context.Context, claims map[string]any) (string, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	token := jwt.NewWithClaims(current.method, jwt.MapClaims(claims))
	token.Header["kid"] = current.id

	signed, err := token.SignedString(current.signer)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify implements Service
func (s *KeyService) Verify(_ context.Context, token string) (map[string]any, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256", "ES256", "ES384", "ES512"}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(token, claims, s.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	return claims, nil
}

func (s *KeyService) keyFunc(token *jwt.Token) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return s.current.signer.Public(), nil
	}
	key, ok := s.keys[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// KeyID derives a stable key id from the SHA-256 of the PKIX encoded public key
func KeyID(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}

// GenerateRSAKey creates a new RSA signing key of DefaultRSAKeySize bits
func GenerateRSAKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, DefaultRSAKeySize)
}

// GenerateECDSAKey creates a new P-256 signing key
func GenerateECDSAKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// ParsePrivateKeyPEM parses an RSA or ECDSA private key in PEM form
func ParsePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	if key, err := jwt.ParseRSAPrivateKeyFromPEM(data); err == nil {
		return key, nil
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w: not an RSA or ECDSA private key", ErrUnsupportedKey)
	}
	return key, nil
}
