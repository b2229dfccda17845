// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/gptchat/internal/api"
	"github.com/jeranaias/gptchat/internal/kvcache"
)

// SignupSuccessMessage is shown after a successful signup.
const SignupSuccessMessage = "Signup successful! You can now log in."

// CredentialKeys are the cache entries that make up a login.
var CredentialKeys = []string{
	kvcache.KeyAccessToken,
	kvcache.KeyRefreshToken,
	kvcache.KeyTokenType,
	kvcache.KeyUserEmail,
}

// Backend is the part of the remote client Service needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (*api.Tokens, error)
	Signup(ctx context.Context, email, password string) (map[string]any, error)
}

// Service performs login and signup.
type Service struct {
	backend Backend
	cache   kvcache.Cache
	log     zerolog.Logger
}

// NewService creates a Service.
func NewService(backend Backend, cache kvcache.Cache, log zerolog.Logger) *Service {
	return &Service{
		backend: backend,
		cache:   cache,
		log:     log.With().Str("component", "auth").Logger(),
	}
}

// Login validates the form, exchanges it for tokens and stores them along
// with the email as the identity label.
func (s *Service) Login(ctx context.Context, email, password string) error {
	creds, err := ValidateCredentials(email, password)
	if err != nil {
		return err
	}

	tokens, err := s.backend.Login(ctx, creds.Email, creds.Password)
	if err != nil {
		return err
	}

	tokenType := tokens.TokenType
	if tokenType == "" {
		tokenType = api.DefaultTokenType
	}
	// Access token last: it is the key other processes react to.
	writes := []struct{ key, value string }{
		{kvcache.KeyTokenType, tokenType},
		{kvcache.KeyUserEmail, creds.Email},
		{kvcache.KeyRefreshToken, tokens.RefreshToken},
		{kvcache.KeyAccessToken, tokens.AccessToken},
	}
	for _, w := range writes {
		if err := s.cache.Set(w.key, w.value); err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
	}

	s.log.Info().Msg("logged in")
	return nil
}

// Signup validates the form and registers the account.
func (s *Service) Signup(ctx context.Context, email, password string) (string, error) {
	creds, err := ValidateCredentials(email, password)
	if err != nil {
		return "", err
	}
	payload, err := s.backend.Signup(ctx, creds.Email, creds.Password)
	if err != nil {
		return "", err
	}
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg, nil
	}
	return SignupSuccessMessage, nil
}

// IsAuthenticated reports whether a credential is stored.
func IsAuthenticated(cache kvcache.Cache) bool {
	token, ok := cache.Get(kvcache.KeyAccessToken)
	return ok && token != ""
}

// ClearCredentials removes every credential key. All keys are attempted;
// the first failure is returned.
func ClearCredentials(cache kvcache.Cache) error {
	var errs []error
	for _, key := range CredentialKeys {
		if err := cache.Remove(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
