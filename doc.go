// Package oidc wires the OAuth 2.0 and OpenID Connect validators of this
// module into a single Server.
//
// The Server makes protocol decisions only. It validates authorize, token,
// device authorization, introspection and revocation requests, decides
// whether a user has to log in or consent, and validates presented tokens.
// Issuing tokens, rendering pages and serving HTTP are left to the host.
//
// Basic usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	seed, err := config.Load("seed.yaml")
//	if err != nil {
//		return err
//	}
//	if err := seed.Apply(store); err != nil {
//		return err
//	}
//
//	key, _ := signing.GenerateECDSAKey()
//	signer, _ := signing.NewKeyService(key, logger)
//
//	server, err := oidc.NewServer(oidc.MemoryStores(store), signer, &oidc.Config{
//		Issuer: "https://idp.example.com",
//		Logger: logger,
//	}, oidc.Extensions{})
//	if err != nil {
//		return err
//	}
//	defer server.Close()
//
//	src := secrets.Source{Authorization: r.Header.Get("Authorization"), Form: r.PostForm}
//	result := server.ValidateTokenRequest(ctx, r.PostForm, src)
//	if result.IsError() {
//		oauthErr := oidc.FromProtocolError(result.Error)
//		// write oidc.NewErrorResponse(result.Error) with oauthErr.Status
//	}
//
// Security defaults: a Config with every security switch left false gets
// PKCE enforced for all code flow clients and RFC 8252 loopback redirect
// ports enabled. Setting either switch explicitly keeps the given values and
// logs a warning for the insecure ones.
package oidc
