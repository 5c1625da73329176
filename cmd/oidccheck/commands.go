package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	oidc "github.com/giantswarm/oidc-core"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/validation"
)

// errRejected reports a request the validators turned down
var errRejected = errors.New("request rejected")

type tokenCommand struct {
	GrantType    string `long:"grant-type" required:"true" description:"grant_type parameter"`
	ClientID     string `long:"client-id" required:"true" description:"Client id"`
	ClientSecret string `long:"client-secret" description:"Client secret, sent with HTTP Basic"`
	Scope        string `long:"scope" description:"Space separated scopes"`
	Username     string `long:"username" description:"Resource owner username (password grant)"`
	Password     string `long:"password" description:"Resource owner password (password grant)"`
	Code         string `long:"code" description:"Authorization code"`
	CodeVerifier string `long:"code-verifier" description:"PKCE code verifier"`
	RedirectURI  string `long:"redirect-uri" description:"Redirect URI of the authorization request"`
	RefreshToken string `long:"refresh-token" description:"Refresh token handle"`
	DeviceCode   string `long:"device-code" description:"Device code"`
}

type tokenDecision struct {
	ClientID  string   `json:"client_id"`
	GrantType string   `json:"grant_type"`
	Subject   string   `json:"sub,omitempty"`
	SessionID string   `json:"sid,omitempty"`
	Scopes    []string `json:"scopes"`
}

func (c *tokenCommand) Execute(_ []string) error {
	env, err := setup(&options)
	if err != nil {
		return err
	}
	defer env.Close()

	params := url.Values{}
	for name, value := range map[string]string{
		protocol.ParamGrantType:    c.GrantType,
		protocol.ParamScope:        c.Scope,
		protocol.ParamUsername:     c.Username,
		protocol.ParamPassword:     c.Password,
		protocol.ParamCode:         c.Code,
		protocol.ParamCodeVerifier: c.CodeVerifier,
		protocol.ParamRedirectURI:  c.RedirectURI,
		protocol.ParamRefreshToken: c.RefreshToken,
		protocol.ParamDeviceCode:   c.DeviceCode,
	} {
		if value != "" {
			params.Set(name, value)
		}
	}

	src := secrets.Source{Form: params}
	if c.ClientSecret != "" {
		src.Authorization = basicAuthorization(c.ClientID, c.ClientSecret)
	} else {
		params.Set(protocol.ParamClientID, c.ClientID)
	}

	result := env.server.ValidateTokenRequest(context.Background(), params, src)
	if result.IsError() {
		return rejected(result.Error)
	}

	req := result.Request
	decision := tokenDecision{
		ClientID:  req.Client.ClientID,
		GrantType: req.GrantType,
		SessionID: req.SessionID,
		Scopes:    req.RequestedScopes,
	}
	if req.Subject != nil {
		decision.Subject = req.Subject.ID
	}
	return printJSON(decision)
}

type validateCommand struct {
	Token    string `long:"token" required:"true" description:"Access token or identity token"`
	Scope    string `long:"scope" description:"Scope the access token must grant"`
	Identity bool   `long:"identity" description:"Validate an identity token instead of an access token"`
	ClientID string `long:"client-id" description:"Audience of the identity token"`
}

func (c *validateCommand) Execute(_ []string) error {
	env, err := setup(&options)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := context.Background()
	var result validation.TokenValidationResult
	if c.Identity {
		result = env.server.ValidateIdentityToken(ctx, c.Token, c.ClientID, true)
	} else {
		result = env.server.ValidateAccessToken(ctx, c.Token, c.Scope)
	}
	if result.IsError {
		return rejected(protocol.NewError(result.Error, result.ErrorDescription))
	}

	out := map[string]any{"claims": result.Claims}
	if result.Client != nil {
		out["client_id"] = result.Client.ClientID
	}
	if result.ReferenceToken != nil {
		out["reference"] = true
	}
	return printJSON(out)
}

type signCommand struct {
	ClientID string        `long:"client-id" required:"true" description:"client_id claim"`
	Subject  string        `long:"subject" description:"sub claim"`
	Scope    string        `long:"scope" default:"openid" description:"Space separated scope claim"`
	Lifetime time.Duration `long:"lifetime" default:"1h" description:"Token lifetime"`
}

func (c *signCommand) Execute(_ []string) error {
	env, err := setup(&options)
	if err != nil {
		return err
	}
	defer env.Close()

	cfg := env.server.Config()
	now := cfg.Clock()
	claims := map[string]any{
		protocol.ClaimIssuer:     cfg.Issuer,
		protocol.ClaimClientID:   c.ClientID,
		protocol.ClaimScope:      c.Scope,
		protocol.ClaimIssuedAt:   now.Unix(),
		protocol.ClaimNotBefore:  now.Unix(),
		protocol.ClaimExpiration: now.Add(c.Lifetime).Unix(),
		protocol.ClaimJwtID:      security.NewEventID(),
	}
	if cfg.AccessTokenAudience != "" {
		claims[protocol.ClaimAudience] = cfg.AccessTokenAudience
	}
	if c.Subject != "" {
		claims[protocol.ClaimSubject] = c.Subject
	}

	token, err := env.signer.Sign(context.Background(), claims)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, token)
	return err
}

type metadataCommand struct {
	Prefix string `long:"endpoint-prefix" default:"/connect" description:"Path prefix of the protocol endpoints below the issuer"`
}

func (c *metadataCommand) Execute(_ []string) error {
	env, err := setup(&options)
	if err != nil {
		return err
	}
	defer env.Close()

	base := strings.TrimSuffix(env.server.Config().Issuer, "/") + c.Prefix
	return printJSON(env.server.Metadata(oidc.Endpoints{
		Authorization:       base + "/authorize",
		Token:               base + "/token",
		Jwks:                strings.TrimSuffix(env.server.Config().Issuer, "/") + "/.well-known/openid-configuration/jwks",
		Revocation:          base + "/revocation",
		Introspection:       base + "/introspect",
		DeviceAuthorization: base + "/deviceauthorization",
	}))
}

// rejected prints the error response a host would send and fails the command
func rejected(perr *protocol.Error) error {
	oauthErr := oidc.FromProtocolError(perr)
	if err := printJSON(struct {
		Status int `json:"status"`
		*oidc.ErrorResponse
	}{oauthErr.Status, oidc.NewErrorResponse(perr)}); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", errRejected, perr.Code)
}

func basicAuthorization(clientID, secret string) string {
	creds := url.QueryEscape(clientID) + ":" + url.QueryEscape(secret)
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
