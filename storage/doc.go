// Package storage provides the entities and collaborator interfaces consumed by
// the validation core.
//
// The storage package defines the store interfaces the validators read from and
// write back through:
//   - ClientStore: Looks up client configuration
//   - ResourceStore: Resolves scope names to identity resources, API scopes and API resources
//   - AuthorizationCodeStore, RefreshTokenStore, ReferenceTokenStore: Grant handles
//   - DeviceFlowStore: Device authorization records (read, update, consume once)
//   - ThrottleStore: Last-seen timestamps used by device flow polling throttling
//   - ConsentStore: Remembered user consent
//   - UserStore: Local users for the resource owner password grant
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/redis: Redis-backed storage for the device flow, throttling and consent
//     state that must be shared between instances
package storage
