package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/giantswarm/oidc-core/storage"
)

// SaveClient adds or replaces a client
func (s *Store) SaveClient(client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.clients[c.ClientID] = &c
	s.clientsCount.Store(int64(len(s.clients)))

	s.logger.Debug("Saved client", "client_id", c.ClientID)
	return nil
}

// FindClientByID returns a copy of the client or storage.ErrClientNotFound
func (s *Store) FindClientByID(ctx context.Context, clientID string) (client *storage.Client, err error) {
	ctx, span := s.startStorageSpan(ctx, "find_client")
	defer span.End()

	startTime := time.Now()
	defer func() {
		s.recordStorageOperation(ctx, span, "find_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}

	// Return a COPY to prevent caller from modifying our stored version
	c := *stored
	return &c, nil
}
