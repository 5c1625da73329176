// Package util provides small helpers shared across the oidc-core packages.
//
// Key utilities:
//   - SafeTruncate: truncates secrets and handles before they are logged
//   - ParseScopes / JoinScopes: space-delimited scope parameter handling
//   - IsLoopbackHostname: loopback detection for native-app redirect URIs
package util
