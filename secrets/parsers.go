package secrets

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/oidc-core/protocol"
)

// Parser extracts a credential from a request. Parse returns nil when the
// request does not carry the parser's kind of credential.
type Parser interface {
	Parse(ctx context.Context, src Source) *ParsedSecret

	// AuthenticationMethod is the token_endpoint_auth_method name the parser implements
	AuthenticationMethod() string
}

// BasicAuthenticationParser reads client_id and client_secret from an HTTP
// Basic Authorization header (RFC 6749 section 2.3.1).
type BasicAuthenticationParser struct {
	Limits Limits
	Logger *slog.Logger
}

// AuthenticationMethod implements Parser
func (p *BasicAuthenticationParser) AuthenticationMethod() string { return AuthMethodBasic }

// Parse implements Parser
func (p *BasicAuthenticationParser) Parse(ctx context.Context, src Source) *ParsedSecret {
	const prefix = "basic "
	header := strings.TrimSpace(src.Authorization)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		logger(p.Logger).DebugContext(ctx, "Malformed Basic authentication header")
		return nil
	}

	rawID, rawSecret, found := strings.Cut(string(decoded), ":")
	if !found {
		logger(p.Logger).DebugContext(ctx, "Basic authentication header without separator")
		return nil
	}

	// Both parts are form-urlencoded before base64 encoding
	clientID, err := url.QueryUnescape(rawID)
	if err != nil {
		return nil
	}
	secret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return nil
	}

	if clientID == "" {
		return nil
	}
	if exceeds(clientID, p.Limits.ClientID) {
		logger(p.Logger).WarnContext(ctx, "Client id exceeds maximum length")
		return nil
	}
	if secret == "" {
		return &ParsedSecret{ID: clientID, Type: ParsedSecretTypeNoSecret}
	}
	if exceeds(secret, p.Limits.ClientSecret) {
		logger(p.Logger).WarnContext(ctx, "Client secret exceeds maximum length", "client_id", clientID)
		return nil
	}

	return &ParsedSecret{ID: clientID, Credential: secret, Type: ParsedSecretTypeSharedSecret}
}

// PostBodyParser reads client_id and client_secret from the request body.
// A client_id without a secret yields a NoSecret credential for public clients.
type PostBodyParser struct {
	Limits Limits
	Logger *slog.Logger
}

// AuthenticationMethod implements Parser
func (p *PostBodyParser) AuthenticationMethod() string { return AuthMethodPost }

// Parse implements Parser
func (p *PostBodyParser) Parse(ctx context.Context, src Source) *ParsedSecret {
	if src.Form == nil {
		return nil
	}

	clientID := src.Form.Get(protocol.ParamClientID)
	if clientID == "" {
		return nil
	}
	if exceeds(clientID, p.Limits.ClientID) {
		logger(p.Logger).WarnContext(ctx, "Client id exceeds maximum length")
		return nil
	}

	secret := src.Form.Get(protocol.ParamClientSecret)
	if secret == "" {
		return &ParsedSecret{ID: clientID, Type: ParsedSecretTypeNoSecret}
	}
	if exceeds(secret, p.Limits.ClientSecret) {
		logger(p.Logger).WarnContext(ctx, "Client secret exceeds maximum length", "client_id", clientID)
		return nil
	}

	return &ParsedSecret{ID: clientID, Credential: secret, Type: ParsedSecretTypeSharedSecret}
}

// JwtBearerParser reads a private_key_jwt client assertion (RFC 7523).
// The client id is taken from client_id when present, otherwise from the
// unverified subject of the assertion. Verification happens in PrivateKeyJWTValidator.
type JwtBearerParser struct {
	Limits Limits
	Logger *slog.Logger
}

// AuthenticationMethod implements Parser
func (p *JwtBearerParser) AuthenticationMethod() string { return AuthMethodPrivateKeyJWT }

// Parse implements Parser
func (p *JwtBearerParser) Parse(ctx context.Context, src Source) *ParsedSecret {
	if src.Form == nil {
		return nil
	}
	if src.Form.Get(protocol.ParamClientAssertionType) != protocol.ClientAssertionTypeJWTBearer {
		return nil
	}

	assertion := src.Form.Get(protocol.ParamClientAssertion)
	if assertion == "" {
		return nil
	}
	if exceeds(assertion, p.Limits.JWT) {
		logger(p.Logger).WarnContext(ctx, "Client assertion exceeds maximum length")
		return nil
	}

	clientID := src.Form.Get(protocol.ParamClientID)
	if clientID == "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(assertion, claims); err != nil {
			logger(p.Logger).DebugContext(ctx, "Malformed client assertion", "error", err)
			return nil
		}
		clientID, _ = claims.GetSubject()
	}
	if clientID == "" || exceeds(clientID, p.Limits.ClientID) {
		return nil
	}

	return &ParsedSecret{ID: clientID, Credential: assertion, Type: ParsedSecretTypeJwtBearer}
}

// MutualTLSParser pairs a client_id from the body with the leaf certificate
// of a mutual TLS connection (RFC 8705).
type MutualTLSParser struct {
	Limits Limits
	Logger *slog.Logger
}

// AuthenticationMethod implements Parser
func (p *MutualTLSParser) AuthenticationMethod() string { return AuthMethodTLSClientAuth }

// Parse implements Parser
func (p *MutualTLSParser) Parse(ctx context.Context, src Source) *ParsedSecret {
	if len(src.PeerCertificates) == 0 || src.Form == nil {
		return nil
	}

	clientID := src.Form.Get(protocol.ParamClientID)
	if clientID == "" {
		return nil
	}
	if exceeds(clientID, p.Limits.ClientID) {
		logger(p.Logger).WarnContext(ctx, "Client id exceeds maximum length")
		return nil
	}

	return &ParsedSecret{ID: clientID, Credential: src.PeerCertificates[0], Type: ParsedSecretTypeX509Certificate}
}

// ParserChain runs parsers in order
type ParserChain struct {
	parsers []Parser
	logger  *slog.Logger
}

// NewParserChain creates a chain from parsers in the given order
func NewParserChain(logger *slog.Logger, parsers ...Parser) *ParserChain {
	return &ParserChain{parsers: parsers, logger: logger}
}

// DefaultParserChain returns the Basic, post body, JWT bearer and mutual TLS parsers in that order
func DefaultParserChain(limits Limits, logger *slog.Logger) *ParserChain {
	return NewParserChain(logger,
		&BasicAuthenticationParser{Limits: limits, Logger: logger},
		&PostBodyParser{Limits: limits, Logger: logger},
		&JwtBearerParser{Limits: limits, Logger: logger},
		&MutualTLSParser{Limits: limits, Logger: logger},
	)
}

// Parse returns the first credential that is not NoSecret. If only NoSecret
// credentials were found the first of them is returned, otherwise nil.
func (c *ParserChain) Parse(ctx context.Context, src Source) *ParsedSecret {
	var noSecret *ParsedSecret

	for _, parser := range c.parsers {
		parsed := parser.Parse(ctx, src)
		if parsed == nil {
			continue
		}
		if parsed.Type != ParsedSecretTypeNoSecret {
			logger(c.logger).DebugContext(ctx, "Parsed client secret",
				"method", parser.AuthenticationMethod(),
				"type", parsed.Type)
			return parsed
		}
		if noSecret == nil {
			noSecret = parsed
		}
	}

	if noSecret != nil {
		logger(c.logger).DebugContext(ctx, "Parsed client id without secret")
	}
	return noSecret
}

// AuthenticationMethods lists the token_endpoint_auth_method values of the chain
func (c *ParserChain) AuthenticationMethods() []string {
	methods := make([]string, 0, len(c.parsers))
	for _, p := range c.parsers {
		methods = append(methods, p.AuthenticationMethod())
	}
	return methods
}

func exceeds(value string, limit int) bool {
	return limit > 0 && len(value) > limit
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
