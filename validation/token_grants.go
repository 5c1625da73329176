package validation

import (
	"context"
	"fmt"
	"slices"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

func (v *TokenRequestValidator) validateAuthorizationCode(ctx context.Context, request ValidatedTokenRequest) Result[ValidatedTokenRequest] {
	client := request.Client
	logger := v.opts.Logger.With("client_id", client.ClientID)

	if !client.AllowsGrantType(protocol.GrantTypeAuthorizationCode) && !client.AllowsGrantType(protocol.GrantTypeHybrid) {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnauthorizedClient, "")
	}

	handle := request.Raw.Get(protocol.ParamCode)
	if handle == "" || len(handle) > v.opts.InputLengthRestrictions.AuthorizationCode {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	// The code is consumed before any other check so that a failed redemption
	// cannot be retried with corrected parameters.
	code, err := v.deps.Codes.ConsumeAuthorizationCode(ctx, handle)
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.ErrorContext(ctx, "Failed to consume authorization code", "error", err)
		} else {
			logger.InfoContext(ctx, "Invalid authorization code", "code_prefix", util.SafeTruncate(handle, 8))
		}
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	if code.ClientID != client.ClientID {
		logger.WarnContext(ctx, "Authorization code belongs to a different client")
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	if security.IsExpiredAt(code.ExpiresAt(), v.opts.Clock(), 0) {
		logger.InfoContext(ctx, "Authorization code expired")
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	redirectURI := request.Raw.Get(protocol.ParamRedirectURI)
	if redirectURI != code.RedirectURI {
		logger.InfoContext(ctx, "redirect_uri does not match the authorization request")
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	if len(code.RequestedScopes) == 0 {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidRequest, "Authorization code has no scopes")
	}

	verifier := request.Raw.Get(protocol.ParamCodeVerifier)
	if (client.RequirePKCE || v.opts.RequirePKCE) && code.CodeChallenge == "" {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "Client requires PKCE")
	}
	if perr := ValidateCodeVerifier(code.CodeChallenge, code.CodeChallengeMethod, verifier, v.opts.InputLengthRestrictions); perr != nil {
		subject := ""
		if code.Subject != nil {
			subject = code.Subject.ID
		}
		if m := v.telemetry.metrics(); m != nil {
			m.RecordPKCEValidationFailed(ctx, code.CodeChallengeMethod)
		}
		v.opts.Auditor.LogPKCEFailure(ctx, subject, client.ClientID, code.CodeChallengeMethod)
		return Fail[ValidatedTokenRequest](perr)
	}

	if !code.Subject.IsAuthenticated() {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	if perr := v.checkActive(ctx, request, code.Subject, CallerAuthorizationCode); perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}

	request = request.WithSubject(code.Subject)
	request.AuthorizationCodeHandle = handle
	request.AuthorizationCode = code
	request.CodeVerifier = verifier

	return v.resolveScopes(ctx, request, code.RequestedScopes)
}

func (v *TokenRequestValidator) validateClientCredentials(ctx context.Context, request ValidatedTokenRequest) Result[ValidatedTokenRequest] {
	client := request.Client

	if !client.AllowsGrantType(protocol.GrantTypeClientCredentials) {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnauthorizedClient, "")
	}

	scopes, defaulted, perr := v.requestedScopes(request)
	if perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}

	if defaulted {
		// Identity scopes and offline access never apply to a client acting on its own behalf
		scopes = filterScopes(scopes, func(s string) bool { return s != protocol.ScopeOfflineAccess })
		found, err := v.deps.Resources.store.FindResourcesByScopeNames(ctx, scopes)
		if err != nil {
			v.opts.Logger.ErrorContext(ctx, "Failed to load resources", "error", err)
			return Invalid[ValidatedTokenRequest](protocol.ErrorServerError, "")
		}
		scopes = filterScopes(scopes, func(s string) bool {
			_, isIdentity := found.FindIdentityResource(s)
			return !isIdentity
		})
		if len(scopes) == 0 {
			return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidScope, "No allowed API scopes")
		}
	} else if slices.Contains(scopes, protocol.ScopeOfflineAccess) {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidScope, "Client cannot request offline_access in client credentials flow")
	}

	result := v.resolveScopes(ctx, request, scopes)
	if result.IsError() {
		return result
	}
	if len(result.Request.Resources.IdentityResources) > 0 {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidScope, "Client cannot request OpenID scopes in client credentials flow")
	}
	return result
}

func (v *TokenRequestValidator) validatePassword(ctx context.Context, request ValidatedTokenRequest) Result[ValidatedTokenRequest] {
	client := request.Client

	if v.deps.Passwords == nil {
		v.opts.Logger.InfoContext(ctx, "Password grant requested but no credential validator configured")
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnsupportedGrantType, "")
	}
	if !client.AllowsGrantType(protocol.GrantTypePassword) {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnauthorizedClient, "")
	}

	scopes, _, perr := v.requestedScopes(request)
	if perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}
	resolved := v.resolveScopes(ctx, request, scopes)
	if resolved.IsError() {
		return resolved
	}
	request = *resolved.Request

	limits := v.opts.InputLengthRestrictions
	username := request.Raw.Get(protocol.ParamUsername)
	password := request.Raw.Get(protocol.ParamPassword)
	if username == "" {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	if len(username) > limits.UserName || len(password) > limits.Password {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	request.UserName = username

	grant, err := v.validateCredentials(ctx, username, password, &request)
	if err != nil {
		v.opts.Logger.ErrorContext(ctx, "Resource owner password validator failed", "client_id", client.ClientID, "error", err)
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	if grant.IsError() {
		return Fail[ValidatedTokenRequest](grant.Error)
	}
	if !grant.Subject.IsAuthenticated() {
		v.opts.Logger.ErrorContext(ctx, "Resource owner password validator returned no subject", "client_id", client.ClientID)
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	if perr := v.checkActive(ctx, request, grant.Subject, CallerPassword); perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}

	request = request.WithSubject(grant.Subject)
	request.CustomResponse = grant.CustomResponse
	return Valid(request)
}

// validateCredentials calls the pluggable password validator, turning a panic into an error
func (v *TokenRequestValidator) validateCredentials(ctx context.Context, username, password string, request *ValidatedTokenRequest) (result GrantValidationResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("password validator panicked: %v", rec)
		}
	}()
	return v.deps.Passwords.ValidatePassword(ctx, username, password, request)
}

func (v *TokenRequestValidator) validateRefreshToken(ctx context.Context, request ValidatedTokenRequest) Result[ValidatedTokenRequest] {
	client := request.Client
	logger := v.opts.Logger.With("client_id", client.ClientID)

	handle := request.Raw.Get(protocol.ParamRefreshToken)
	if handle == "" {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidRequest, "refresh_token is missing")
	}
	if len(handle) > v.opts.InputLengthRestrictions.RefreshToken {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	if !client.AllowOfflineAccess {
		logger.InfoContext(ctx, "Client not allowed offline access")
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	token, err := v.deps.RefreshTokens.GetRefreshToken(ctx, handle)
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.ErrorContext(ctx, "Failed to load refresh token", "error", err)
		}
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	if token.ClientID != client.ClientID {
		logger.WarnContext(ctx, "Refresh token belongs to a different client")
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	if v.refreshTokenExpired(token, client) {
		logger.InfoContext(ctx, "Refresh token expired")
		if err := v.deps.RefreshTokens.RemoveRefreshToken(ctx, handle); err != nil {
			logger.WarnContext(ctx, "Failed to remove expired refresh token", "error", err)
		}
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	if !token.Subject.IsAuthenticated() {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	if perr := v.checkActive(ctx, request, token.Subject, CallerRefreshToken); perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}

	scopes := token.Scopes
	if requested := util.ParseScopes(request.Raw.Get(protocol.ParamScope)); len(requested) > 0 {
		if !util.ContainsAll(token.Scopes, requested) {
			logger.InfoContext(ctx, "Refresh requested scopes beyond the original grant")
			return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidScope, "")
		}
		scopes = requested
	}

	request = request.WithSubject(token.Subject)
	request.RefreshTokenHandle = handle
	request.RefreshToken = token
	return v.resolveScopes(ctx, request, scopes)
}

// refreshTokenExpired applies the token's own lifetime and the client's
// absolute and sliding limits
func (v *TokenRequestValidator) refreshTokenExpired(token *storage.RefreshToken, client *storage.Client) bool {
	now := v.opts.Clock()

	if exp := token.ExpiresAt(); !exp.IsZero() && security.IsExpiredAt(exp, now, 0) {
		return true
	}
	if client.AbsoluteRefreshTokenLifetime > 0 &&
		security.IsExpiredAt(token.CreationTime.Add(client.AbsoluteRefreshTokenLifetime), now, 0) {
		return true
	}
	if client.SlidingRefreshTokenLifetime > 0 {
		lastUse := token.CreationTime
		if token.ConsumedTime != nil {
			lastUse = *token.ConsumedTime
		}
		if security.IsExpiredAt(lastUse.Add(client.SlidingRefreshTokenLifetime), now, 0) {
			return true
		}
	}
	return false
}

func (v *TokenRequestValidator) validateDeviceCode(ctx context.Context, request ValidatedTokenRequest) Result[ValidatedTokenRequest] {
	if !request.Client.AllowsGrantType(protocol.GrantTypeDeviceCode) {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnauthorizedClient, "")
	}

	deviceCode := request.Raw.Get(protocol.ParamDeviceCode)
	if deviceCode == "" {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidRequest, "device_code is missing")
	}
	if len(deviceCode) > v.opts.InputLengthRestrictions.DeviceCode {
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}
	if v.deps.DeviceCodes == nil {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnsupportedGrantType, "")
	}

	result := v.deps.DeviceCodes.Validate(ctx, request, deviceCode)
	if result.IsError() {
		return result
	}
	return v.resolveScopes(ctx, *result.Request, result.Request.DeviceCode.AuthorizedScopes)
}

func (v *TokenRequestValidator) validateExtensionGrant(ctx context.Context, request ValidatedTokenRequest) Result[ValidatedTokenRequest] {
	if !request.Client.AllowsGrantType(request.GrantType) {
		return Invalid[ValidatedTokenRequest](protocol.ErrorUnauthorizedClient, "")
	}

	scopes, _, perr := v.requestedScopes(request)
	if perr != nil {
		return Fail[ValidatedTokenRequest](perr)
	}
	resolved := v.resolveScopes(ctx, request, scopes)
	if resolved.IsError() {
		return resolved
	}
	request = *resolved.Request

	grant := v.deps.Grants.Validate(ctx, &request)
	if grant.IsError() {
		return Fail[ValidatedTokenRequest](grant.Error)
	}

	if grant.Subject != nil {
		if !grant.Subject.IsAuthenticated() {
			return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
		}
		if perr := v.checkActive(ctx, request, grant.Subject, CallerExtensionGrant); perr != nil {
			return Fail[ValidatedTokenRequest](perr)
		}
		request = request.WithSubject(grant.Subject)
	}
	request.CustomResponse = grant.CustomResponse
	return Valid(request)
}

func filterScopes(scopes []string, keep func(string) bool) []string {
	var out []string
	for _, s := range scopes {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
