// Package validation holds the protocol decision logic: it decides whether
// authorize, token, device authorization, introspection and revocation
// requests are valid, which grant applies, whether a user has to log in or
// consent, and whether a presented token is currently valid.
//
// Validators are stateless apart from their injected collaborators and are
// safe for concurrent use. Every validator returns a Result. A failed Result
// carries a *protocol.Error whose code is one of the standard OAuth 2.0 and
// OpenID Connect error codes. Go errors are reserved for collaborator
// failures.
//
// Validated requests are values. Each stage receives a request and returns
// a new one, so earlier stages never observe later changes.
package validation
