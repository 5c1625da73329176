// Package secrets extracts client credentials from a request and verifies them
// against the secrets configured on a client or API resource.
//
// Parsing and validation are two ordered chains. A Parser returns nil when the
// request does not carry its kind of credential. The ParserChain prefers the
// first real credential over a bare client id (NoSecret). The ValidatorChain
// drops expired secrets and short-circuits on the first Validator that handles
// the parsed type and succeeds.
//
// Failures are deliberately generic: callers only learn that authentication
// failed, never which check rejected the credential.
package secrets
