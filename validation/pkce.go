package validation

import (
	"crypto/subtle"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-core/protocol"
)

// isPKCECharacter reports whether c is an unreserved character (RFC 7636 section 4.1)
func isPKCECharacter(c byte) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func isPKCEValue(value string) bool {
	for i := 0; i < len(value); i++ {
		if !isPKCECharacter(value[i]) {
			return false
		}
	}
	return true
}

// VerifyPKCE checks verifier against a stored challenge. Both plain and S256
// comparisons are constant time.
func VerifyPKCE(challenge, method, verifier string, limits InputLengthRestrictions) bool {
	if challenge == "" || verifier == "" {
		return false
	}
	if len(verifier) < limits.CodeVerifierMinLength || len(verifier) > limits.CodeVerifierMaxLength {
		return false
	}
	if !isPKCEValue(verifier) {
		return false
	}

	var computed string
	switch method {
	case protocol.CodeChallengeMethodSHA256:
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case protocol.CodeChallengeMethodPlain, "":
		computed = verifier
	default:
		return false
	}

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidateCodeVerifier applies PKCE at code redemption. A stored challenge
// requires a verifier, and a verifier without a stored challenge is rejected
// as well.
func ValidateCodeVerifier(challenge, method, verifier string, limits InputLengthRestrictions) *protocol.Error {
	switch {
	case challenge == "" && verifier == "":
		return nil
	case challenge != "" && verifier == "":
		return protocol.NewError(protocol.ErrorInvalidGrant, "code_verifier is required")
	case challenge == "" && verifier != "":
		return protocol.NewError(protocol.ErrorInvalidGrant, "code_verifier was sent but no code_challenge was used")
	}

	if !VerifyPKCE(challenge, method, verifier, limits) {
		return protocol.NewError(protocol.ErrorInvalidGrant, "Transformed code verifier does not match code challenge")
	}
	return nil
}

// validateCodeChallenge checks the PKCE parameters of an authorize request.
// It returns the effective challenge method.
func validateCodeChallenge(challenge, method string, requirePKCE, allowPlain bool, limits InputLengthRestrictions) (string, *protocol.Error) {
	if challenge == "" {
		if requirePKCE {
			return "", protocol.NewError(protocol.ErrorInvalidRequest, "code challenge required")
		}
		return "", nil
	}

	if len(challenge) < limits.CodeChallengeMinLength || len(challenge) > limits.CodeChallengeMaxLength {
		return "", protocol.NewError(protocol.ErrorInvalidRequest, "Invalid code_challenge length")
	}
	if !isPKCEValue(challenge) {
		return "", protocol.NewError(protocol.ErrorInvalidRequest, "Invalid code_challenge")
	}

	if method == "" {
		method = protocol.CodeChallengeMethodPlain
	}
	switch method {
	case protocol.CodeChallengeMethodSHA256:
	case protocol.CodeChallengeMethodPlain:
		if !allowPlain {
			return "", protocol.NewError(protocol.ErrorInvalidRequest, "Transform algorithm not supported")
		}
	default:
		return "", protocol.NewError(protocol.ErrorInvalidRequest, "Transform algorithm not supported")
	}

	return method, nil
}
