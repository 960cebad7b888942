package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/auth-core/storage"
)

// clientJSON is the wire representation of a registered client.
type clientJSON struct {
	ClientID         string   `json:"client_id"`
	ClientSecretHash string   `json:"client_secret_hash,omitempty"`
	ClientType       string   `json:"client_type"`
	ClientName       string   `json:"client_name,omitempty"`
	RedirectURIs     []string `json:"redirect_uris"`
	Scopes           []string `json:"scopes,omitempty"`
	CreatedAt        int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ClientID:         client.ClientID,
		ClientSecretHash: client.ClientSecretHash,
		ClientType:       client.ClientType,
		ClientName:       client.ClientName,
		RedirectURIs:     client.RedirectURIs,
		Scopes:           client.Scopes,
		CreatedAt:        client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ClientID:         j.ClientID,
		ClientSecretHash: j.ClientSecretHash,
		ClientType:       j.ClientType,
		ClientName:       j.ClientName,
		RedirectURIs:     j.RedirectURIs,
		Scopes:           j.Scopes,
		CreatedAt:        time.Unix(j.CreatedAt, 0),
	}
}

// SaveClient stores or replaces a client registration.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientKey(clientID)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	return fromClientJSON(&j), nil
}

// ValidateClientSecret checks a client's secret in constant time. The bcrypt
// comparison runs even for unknown clients so lookup failures are not
// distinguishable by timing.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		client = nil
	}
	return storage.CheckClientSecret(client, clientSecret)
}

// ListClients lists all registered clients using SCAN to avoid blocking the
// server with KEYS.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	pattern := s.clientKey("*")

	// SCAN can return duplicate keys across iterations.
	clientMap := make(map[string]*storage.Client)

	var cursor uint64
	for {
		entry, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range entry.Elements {
			if _, exists := clientMap[key]; exists {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Skipping malformed client entry", "key", key)
				continue
			}
			clientMap[key] = fromClientJSON(&j)
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
	}
	return clients, nil
}
