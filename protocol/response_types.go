package protocol

import (
	"sort"
	"strings"
)

// responseTypeToGrantType maps a normalized response_type to the grant type a
// client must be allowed to use it.
var responseTypeToGrantType = map[string]string{
	ResponseTypeCode:             GrantTypeAuthorizationCode,
	ResponseTypeToken:            GrantTypeImplicit,
	ResponseTypeIDToken:          GrantTypeImplicit,
	ResponseTypeIDTokenToken:     GrantTypeImplicit,
	ResponseTypeCodeIDToken:      GrantTypeHybrid,
	ResponseTypeCodeToken:        GrantTypeHybrid,
	ResponseTypeCodeIDTokenToken: GrantTypeHybrid,
}

// NormalizeResponseType sorts the space separated values of a response_type
// so that "token id_token" and "id_token token" compare equal.
func NormalizeResponseType(responseType string) string {
	parts := strings.Fields(responseType)
	if len(parts) == 0 {
		return ""
	}
	sort.Slice(parts, func(i, j int) bool {
		// "code" sorts first, then "id_token", then "token"
		return responseTypeRank(parts[i]) < responseTypeRank(parts[j])
	})
	return strings.Join(parts, " ")
}

func responseTypeRank(value string) int {
	switch value {
	case ResponseTypeCode:
		return 0
	case ResponseTypeIDToken:
		return 1
	case ResponseTypeToken:
		return 2
	default:
		return 3
	}
}

// GrantTypeForResponseType returns the grant type implied by a normalized
// response type, and false when the response type is not supported.
func GrantTypeForResponseType(responseType string) (string, bool) {
	grantType, ok := responseTypeToGrantType[responseType]
	return grantType, ok
}

// ResponseTypeIncludesIDToken reports whether an id_token is returned from the
// authorize endpoint for the given normalized response type.
func ResponseTypeIncludesIDToken(responseType string) bool {
	for _, part := range strings.Fields(responseType) {
		if part == ResponseTypeIDToken {
			return true
		}
	}
	return false
}

// ResponseTypeIncludesAccessToken reports whether an access token is returned
// from the authorize endpoint for the given normalized response type.
func ResponseTypeIncludesAccessToken(responseType string) bool {
	for _, part := range strings.Fields(responseType) {
		if part == ResponseTypeToken {
			return true
		}
	}
	return false
}
