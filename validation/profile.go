package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/giantswarm/oidc-core/protocol"
	"github.com/giantswarm/oidc-core/security"
	"github.com/giantswarm/oidc-core/storage"
)

// Profile service callers
const (
	CallerAuthorizationCode = "AuthorizationCodeValidation"
	CallerRefreshToken      = "RefreshTokenValidation"
	CallerDeviceCode        = "DeviceCodeValidation"
	CallerPassword          = "ResourceOwnerValidation"
	CallerExtensionGrant    = "ExtensionGrantValidation"
)

// ProfileService decides whether a subject may still obtain tokens
type ProfileService interface {
	IsActive(ctx context.Context, subject *storage.Subject, client *storage.Client, caller string) (bool, error)
}

// UserStoreProfileService treats subjects as active when a matching active
// user exists. Subjects from external identity providers are accepted as
// active unless RequireLocalUser is set.
type UserStoreProfileService struct {
	Users            storage.UserStore
	RequireLocalUser bool
}

// IsActive implements ProfileService
func (p *UserStoreProfileService) IsActive(ctx context.Context, subject *storage.Subject, _ *storage.Client, _ string) (bool, error) {
	if !subject.IsAuthenticated() {
		return false, nil
	}

	user, err := p.Users.FindUserBySubjectID(ctx, subject.ID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			external := subject.IdentityProvider != "" && subject.IdentityProvider != protocol.LocalIdentityProvider
			return external && !p.RequireLocalUser, nil
		}
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	return user.IsActive, nil
}

// ResourceOwnerPasswordValidator validates username and password for the password grant
type ResourceOwnerPasswordValidator interface {
	ValidatePassword(ctx context.Context, username, password string, request *ValidatedTokenRequest) (GrantValidationResult, error)
}

// DescInvalidUsernameOrPassword is the error description of a failed password grant
const DescInvalidUsernameOrPassword = "invalid_username_or_password"

// UserStorePasswordValidator checks credentials against a UserStore
type UserStorePasswordValidator struct {
	Users   storage.UserStore
	Clock   security.Clock
	Logger  *slog.Logger
	Auditor *security.Auditor
}

// ValidatePassword implements ResourceOwnerPasswordValidator
func (v *UserStorePasswordValidator) ValidatePassword(ctx context.Context, username, password string, request *ValidatedTokenRequest) (GrantValidationResult, error) {
	user, err := v.Users.ValidateCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			clientID := ""
			if request.Client != nil {
				clientID = request.Client.ClientID
			}
			v.Auditor.LogAuthFailure(ctx, username, clientID, DescInvalidUsernameOrPassword)
			return GrantFailure(protocol.ErrorInvalidGrant, DescInvalidUsernameOrPassword), nil
		}
		return GrantValidationResult{}, fmt.Errorf("failed to validate credentials: %w", err)
	}

	now := security.SystemClock
	if v.Clock != nil {
		now = v.Clock
	}

	return GrantSuccess(&storage.Subject{
		ID:               user.SubjectID,
		IdentityProvider: protocol.LocalIdentityProvider,
		AuthTime:         now(),
		AuthMethods:      []string{"pwd"},
		Claims:           user.Claims,
	}), nil
}
