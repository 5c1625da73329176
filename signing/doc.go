// Package signing signs and verifies JWTs with RSA or ECDSA keys.
//
// The validation core depends only on the Service interface. KeyService is a
// reference implementation on top of github.com/golang-jwt/jwt/v5 that keeps
// retired keys around for verification after a rotation.
package signing
