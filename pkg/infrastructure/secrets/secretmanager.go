// Package secrets provides the Secret Manager-backed SecretStore adapter.
package secrets

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretsAdapter fetches secret payloads from Google Secret Manager.
// It accesses the "latest" version and falls back to environment
// variables so local runs don't need Secret Manager access.
type SecretsAdapter struct {
	Client *secretmanager.Client
}

func (a *SecretsAdapter) GetSecret(ctx context.Context, projectID, name string) (string, error) {
	// Local fallback
	if val := os.Getenv(name); val != "" {
		slog.Debug("Using local env var for secret", "name", name)
		return val, nil
	}

	if a.Client == nil {
		return "", fmt.Errorf("secretmanager client not initialized and no env fallback for %s", name)
	}

	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", projectID, name),
	}

	result, err := a.Client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret version: %w", err)
	}

	// Verify the payload checksum
	crc32c := crc32.MakeTable(crc32.Castagnoli)
	checksum := int64(crc32.Checksum(result.Payload.Data, crc32c))
	if result.Payload.DataCrc32C != nil && *result.Payload.DataCrc32C != checksum {
		return "", fmt.Errorf("secret payload corruption detected for %s", name)
	}

	return string(result.Payload.Data), nil
}
