// Package testutil provides fixtures shared by the tests of the oidc-core
// packages: a seeded memory store, credential sources, PKCE pairs and a
// controllable clock.
package testutil
