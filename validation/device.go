package validation

import (
	"context"
	"net/url"
	"time"

	"github.com/giantswarm/oidc-core/internal/util"
	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/secrets"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// DeviceCodeValidator validates device code polls at the token endpoint.
//
// The checks run in a fixed order: unknown code, expiry, client binding,
// polling rate, denial, pending authorization, inactive subject. Only a
// request passing all of them consumes the device code.
type DeviceCodeValidator struct {
	store     storage.DeviceFlowStore
	throttler DeviceFlowThrottler
	profile   ProfileService
	opts      Options
	telemetry telemetry
}

// NewDeviceCodeValidator creates a device code validator. A nil profile
// treats every authenticated subject as active.
func NewDeviceCodeValidator(store storage.DeviceFlowStore, throttler DeviceFlowThrottler, profile ProfileService, opts Options) *DeviceCodeValidator {
	opts = opts.withDefaults()
	return &DeviceCodeValidator{
		store:     store,
		throttler: throttler,
		profile:   profile,
		opts:      opts,
		telemetry: newTelemetry(opts.Instrumentation),
	}
}

// Validate checks the device code of request. On success the returned
// request carries the device code record, its subject and session.
func (v *DeviceCodeValidator) Validate(ctx context.Context, request ValidatedTokenRequest, deviceCode string) Result[ValidatedTokenRequest] {
	ctx, span := v.telemetry.start(ctx, "device_code")
	start := time.Now()

	result := v.validate(ctx, request, deviceCode)
	v.telemetry.finish(ctx, span, "device_code", result.Error, start)
	return result
}

func (v *DeviceCodeValidator) validate(ctx context.Context, request ValidatedTokenRequest, deviceCode string) Result[ValidatedTokenRequest] {
	logger := v.opts.Logger.With("device_code_prefix", util.SafeTruncate(deviceCode, 8))

	details, err := v.store.FindByDeviceCode(ctx, deviceCode)
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.ErrorContext(ctx, "Failed to load device code", "error", err)
		}
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	if details.IsExpired(v.opts.Clock()) {
		logger.InfoContext(ctx, "Device code expired")
		if err := v.store.RemoveByDeviceCode(ctx, deviceCode); err != nil {
			logger.WarnContext(ctx, "Failed to remove expired device code", "error", err)
		}
		return Invalid[ValidatedTokenRequest](protocol.ErrorExpiredToken, "")
	}

	if request.Client == nil || details.ClientID != request.Client.ClientID {
		logger.WarnContext(ctx, "Device code belongs to a different client")
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	slowDown, err := v.throttler.ShouldSlowDown(ctx, deviceCode, details)
	if err != nil {
		logger.ErrorContext(ctx, "Device flow throttling failed", "error", err)
	} else if slowDown {
		logger.DebugContext(ctx, "Device code polled too fast")
		if m := v.telemetry.metrics(); m != nil {
			m.RecordDeviceSlowDown(ctx, details.ClientID)
		}
		v.opts.Auditor.LogEvent(ctx, security.Event{
			Type:     security.EventDeviceSlowDown,
			ClientID: details.ClientID,
		})
		return Invalid[ValidatedTokenRequest](protocol.ErrorSlowDown, "")
	}

	if details.IsAuthorized && len(details.AuthorizedScopes) == 0 {
		logger.InfoContext(ctx, "Device authorization denied by user")
		return Invalid[ValidatedTokenRequest](protocol.ErrorAccessDenied, "")
	}

	if !details.IsAuthorized || !details.Subject.IsAuthenticated() {
		return Invalid[ValidatedTokenRequest](protocol.ErrorAuthorizationPending, "")
	}

	if v.profile != nil {
		active, err := v.profile.IsActive(ctx, details.Subject, request.Client, CallerDeviceCode)
		if err != nil {
			logger.ErrorContext(ctx, "Profile service failed", "error", err)
			return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
		}
		if !active {
			logger.InfoContext(ctx, "Subject of device code is not active", "subject_id", details.Subject.ID)
			return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
		}
	}

	// A concurrent poll may have consumed the code since the lookup above
	consumed, err := v.store.ConsumeByDeviceCode(ctx, deviceCode)
	if err != nil {
		if !storage.IsNotFound(err) {
			logger.ErrorContext(ctx, "Failed to consume device code", "error", err)
		}
		return Invalid[ValidatedTokenRequest](protocol.ErrorInvalidGrant, "")
	}

	validated := request.WithSubject(consumed.Subject)
	if consumed.SessionID != "" {
		validated.SessionID = consumed.SessionID
	}
	validated.DeviceCodeHandle = deviceCode
	validated.DeviceCode = consumed
	return Valid(validated)
}

// DeviceAuthorizationRequestValidator validates requests to the device authorization endpoint
type DeviceAuthorizationRequestValidator struct {
	clients   *secrets.ClientAuthenticator
	resources *ResourceValidator
	opts      Options
	telemetry telemetry
}

// NewDeviceAuthorizationRequestValidator creates a device authorization request validator
func NewDeviceAuthorizationRequestValidator(clients *secrets.ClientAuthenticator, resources *ResourceValidator, opts Options) *DeviceAuthorizationRequestValidator {
	opts = opts.withDefaults()
	return &DeviceAuthorizationRequestValidator{
		clients:   clients,
		resources: resources,
		opts:      opts,
		telemetry: newTelemetry(opts.Instrumentation),
	}
}

// Validate authenticates the client and resolves the requested scopes
func (v *DeviceAuthorizationRequestValidator) Validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedDeviceAuthorizationRequest] {
	ctx, span := v.telemetry.start(ctx, "device_authorization")
	start := time.Now()

	result := v.validate(ctx, params, src)
	v.telemetry.finish(ctx, span, "device_authorization", result.Error, start)
	return result
}

func (v *DeviceAuthorizationRequestValidator) validate(ctx context.Context, params url.Values, src secrets.Source) Result[ValidatedDeviceAuthorizationRequest] {
	if params == nil {
		return Invalid[ValidatedDeviceAuthorizationRequest](protocol.ErrorInvalidRequest, "Empty request")
	}
	if src.Form == nil {
		src.Form = params
	}

	auth, perr := v.clients.Authenticate(ctx, src)
	if perr != nil {
		return Fail[ValidatedDeviceAuthorizationRequest](perr)
	}
	client := auth.Client

	if client.ProtocolType != protocol.ProtocolTypeOIDC {
		return Invalid[ValidatedDeviceAuthorizationRequest](protocol.ErrorInvalidClient, "Invalid protocol")
	}
	if !client.AllowsGrantType(protocol.GrantTypeDeviceCode) {
		return Invalid[ValidatedDeviceAuthorizationRequest](protocol.ErrorUnauthorizedClient, "Client not authorized for device flow")
	}

	scope := params.Get(protocol.ParamScope)
	if len(scope) > v.opts.InputLengthRestrictions.Scope {
		return Invalid[ValidatedDeviceAuthorizationRequest](protocol.ErrorInvalidScope, "Scope too long")
	}
	scopes := util.ParseScopes(scope)
	if len(scopes) == 0 {
		scopes = defaultClientScopes(client)
	}

	resources, perr, err := v.resources.Validate(ctx, client, scopes)
	if err != nil {
		v.opts.Logger.ErrorContext(ctx, "Resource validation failed", "error", err)
		return Invalid[ValidatedDeviceAuthorizationRequest](protocol.ErrorServerError, "")
	}
	if perr != nil {
		return Fail[ValidatedDeviceAuthorizationRequest](perr)
	}

	return Valid(ValidatedDeviceAuthorizationRequest{
		ValidatedRequest: ValidatedRequest{
			Raw:             params,
			Client:          client,
			Secret:          auth.Secret,
			Confirmation:    auth.Confirmation,
			RequestedScopes: resources.ScopeValues(),
			Resources:       resources,
		},
		IsOpenIDRequest: IsIdentityScope(resources, protocol.ScopeOpenID),
	})
}

// defaultClientScopes is used when a request omits the scope parameter
func defaultClientScopes(client *storage.Client) []string {
	scopes := make([]string, 0, len(client.AllowedScopes)+1)
	scopes = append(scopes, client.AllowedScopes...)
	if client.AllowOfflineAccess {
		scopes = append(scopes, protocol.ScopeOfflineAccess)
	}
	return scopes
}
