// Package memory provides an in-memory implementation of every storage interface.
//
// The Store uses maps guarded by a sync.RWMutex and is suitable for development,
// testing, and single-instance deployments where persistence is not required.
//
// Features:
//   - Atomic consume of authorization codes and device codes
//   - Background cleanup of expired codes, tokens, device authorizations and throttle entries
//   - bcrypt hashed passwords for local users
//   - OpenTelemetry spans and storage metrics when instrumentation is set
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	store.SaveClient(&storage.Client{ClientID: "roclient", ...})
//	core, _ := oidc.New(oidc.Stores{Clients: store, Resources: store, ...}, cfg)
//
// For multi-instance deployments use storage/redis for the device flow,
// throttling and consent state.
package memory
