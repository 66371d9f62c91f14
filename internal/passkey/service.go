// Package passkey manages the credentials listed on the account security page.
package passkey

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nortide/console-auth/internal/domain/flow"
	"github.com/nortide/console-auth/internal/provider"
)

const maxDeviceNameLength = 64

// Service exposes list/rename/delete over the credentials registered with the
// authorization server.
type Service struct {
	client provider.Client
	issuer string
	logger *zap.Logger
}

// NewService constructs a passkey management service bound to one issuer.
func NewService(client provider.Client, issuer string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.L()
	}
	return &Service{client: client, issuer: issuer, logger: logger}
}

// List returns the caller's registered credentials. A server that does not
// support passkeys surfaces flow.ErrUnavailable.
func (s *Service) List(ctx context.Context, accessToken string) ([]flow.PasskeyRecord, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required: %w", flow.ErrValidation)
	}
	records, err := s.client.ListPasskeys(ctx, s.issuer, accessToken)
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	return records, nil
}

// Rename updates a credential's display name.
func (s *Service) Rename(ctx context.Context, accessToken, credentialID, name string) (*flow.PasskeyRecord, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required: %w", flow.ErrValidation)
	}
	if credentialID == "" {
		return nil, fmt.Errorf("credential id is required: %w", flow.ErrValidation)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("device name is required: %w", flow.ErrValidation)
	}
	if len(name) > maxDeviceNameLength {
		return nil, fmt.Errorf("device name exceeds %d characters: %w", maxDeviceNameLength, flow.ErrValidation)
	}

	record, err := s.client.RenamePasskey(ctx, s.issuer, accessToken, credentialID, name)
	if err != nil {
		return nil, fmt.Errorf("rename passkey: %w", err)
	}
	s.logger.Info("passkey renamed", zap.String("credential_id", credentialID))
	return record, nil
}

// Delete removes a credential from the account.
func (s *Service) Delete(ctx context.Context, accessToken, credentialID string) error {
	if accessToken == "" {
		return fmt.Errorf("access token is required: %w", flow.ErrValidation)
	}
	if credentialID == "" {
		return fmt.Errorf("credential id is required: %w", flow.ErrValidation)
	}
	if err := s.client.DeletePasskey(ctx, s.issuer, accessToken, credentialID); err != nil {
		return fmt.Errorf("delete passkey: %w", err)
	}
	s.logger.Info("passkey deleted", zap.String("credential_id", credentialID))
	return nil
}
