package validation

import (
	"log/slog"
	"time"

	"github.com/giantswarm/oidc-core/instrumentation"
	"github.com/giantswarm/oidc-core/security"
)

const (
	// DefaultDeviceFlowInterval is the minimum time between two device code polls
	DefaultDeviceFlowInterval = 5 * time.Second

	// DefaultClockSkew is the tolerance applied to token lifetimes
	DefaultClockSkew = 5 * time.Minute
)

// InputLengthRestrictions bounds the size of request parameters
type InputLengthRestrictions struct {
	ClientID          int
	ClientSecret      int
	Scope             int
	RedirectURI       int
	Nonce             int
	State             int
	UILocale          int
	LoginHint         int
	AcrValues         int
	GrantType         int
	UserName          int
	Password          int
	AuthorizationCode int
	RefreshToken      int
	DeviceCode        int
	TokenHandle       int
	JWT               int

	CodeChallengeMinLength int
	CodeChallengeMaxLength int
	CodeVerifierMinLength  int
	CodeVerifierMaxLength  int
}

// DefaultInputLengthRestrictions returns the default limits
func DefaultInputLengthRestrictions() InputLengthRestrictions {
	return InputLengthRestrictions{
		ClientID:               100,
		ClientSecret:           100,
		Scope:                  300,
		RedirectURI:            400,
		Nonce:                  300,
		State:                  2000,
		UILocale:               100,
		LoginHint:              100,
		AcrValues:              300,
		GrantType:              100,
		UserName:               100,
		Password:               100,
		AuthorizationCode:      100,
		RefreshToken:           100,
		DeviceCode:             100,
		TokenHandle:            100,
		JWT:                    51200,
		CodeChallengeMinLength: 43,
		CodeChallengeMaxLength: 128,
		CodeVerifierMinLength:  43,
		CodeVerifierMaxLength:  128,
	}
}

// Options configures the validators. Zero values are replaced by defaults.
type Options struct {
	// Issuer is the issuer identifier of this authorization server
	Issuer string

	// AccessTokenAudience is the audience expected in JWT access tokens.
	// Empty skips the audience check.
	AccessTokenAudience string

	InputLengthRestrictions InputLengthRestrictions

	// RequirePKCE enforces PKCE for every code flow client, not just those
	// with Client.RequirePKCE set
	RequirePKCE bool

	// DeviceFlowInterval is the minimum polling interval of the device flow
	DeviceFlowInterval time.Duration

	// ClockSkew is applied to token expiry and not-before checks.
	// Zero selects DefaultClockSkew, a negative value disables the tolerance.
	ClockSkew time.Duration

	Clock           security.Clock
	Logger          *slog.Logger
	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
}

func (o Options) withDefaults() Options {
	if o.InputLengthRestrictions == (InputLengthRestrictions{}) {
		o.InputLengthRestrictions = DefaultInputLengthRestrictions()
	}
	if o.DeviceFlowInterval <= 0 {
		o.DeviceFlowInterval = DefaultDeviceFlowInterval
	}
	switch {
	case o.ClockSkew == 0:
		o.ClockSkew = DefaultClockSkew
	case o.ClockSkew < 0:
		o.ClockSkew = 0
	}
	if o.Clock == nil {
		o.Clock = security.SystemClock
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
