package credentials

import (
	"context"
	"errors"
	"strings"

	"github.com/tkendall99/bedtime-solved/internal/infra"
	"github.com/tkendall99/bedtime-solved/internal/sqlinline"
)

const (
	ProviderOpenRouter = "openrouter"
)

// Store reads and writes provider secrets kept in the integration_tokens table.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) OpenRouterAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderOpenRouter)
}

// Token returns the stored secret for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

func (s *Store) SetOpenRouterAPIKey(ctx context.Context, key string) error {
	return s.SetToken(ctx, ProviderOpenRouter, key)
}

func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider = strings.TrimSpace(provider)
	token = strings.TrimSpace(token)
	if provider == "" {
		return errors.New("provider is required")
	}
	if token == "" {
		return errors.New(provider + " api key is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token)
	return err
}

// ResolveOpenRouterKey prefers the configured key and falls back to the stored one.
func ResolveOpenRouterKey(ctx context.Context, store *Store, configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	if store == nil {
		return "", nil
	}
	return store.OpenRouterAPIKey(ctx)
}
