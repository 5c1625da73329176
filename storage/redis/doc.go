// Package redis provides a Redis-backed implementation of the storage
// interfaces that need to be shared between replicas: device flow records,
// device flow throttling and remembered user consent.
//
// # Features
//
//   - Device codes are consumed with GETDEL, so a code is redeemed at most once
//     even when several replicas poll concurrently
//   - Optional encryption at rest via security.Encryptor (AES-256-GCM)
//   - Keys expire with their records, no cleanup goroutine is needed
//
// # Usage
//
//	store, err := redis.New(redis.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oidc:",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
package redis
