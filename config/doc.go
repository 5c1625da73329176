// Package config loads YAML seed files describing clients, resources and
// users, and applies them to a store.
//
// A seed file looks like this:
//
//	settings:
//	  issuer: https://idp.example.com
//	  require_pkce: true
//	identity_resources:
//	  - name: openid
//	    required: true
//	api_scopes:
//	  - name: read
//	api_resources:
//	  - name: api1
//	    scopes: [read]
//	    secrets:
//	      - value: apisecret
//	clients:
//	  - client_id: roclient
//	    allowed_grant_types: [password]
//	    allowed_scopes: [openid, read]
//	    secrets:
//	      - value: secret
//	users:
//	  - subject_id: "88421113"
//	    username: bob
//	    password: bob
//
// Shared secrets are given in plain text and hashed on load unless marked as
// hashed. Entities are enabled unless enabled: false is set.
package config
