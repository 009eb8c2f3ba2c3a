package shared

import (
	"context"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/fitrelay/server/pkg/types"
)

// --- Persistence Interfaces ---

type Database interface {
	GetUser(ctx context.Context, id string) (*types.UserRecord, error)
	UpdateUser(ctx context.Context, id string, data map[string]interface{}) error

	// Pipelines (sub-collection under the user document)
	GetUserPipelines(ctx context.Context, userID string) ([]*types.PipelineConfig, error)

	// Counters
	GetCounter(ctx context.Context, userID string, id string) (*types.Counter, error)
	SetCounter(ctx context.Context, userID string, counter *types.Counter) error
	// IncrementCounter atomically increments the named counter and returns
	// the new value. A missing counter is created so that its first
	// returned value is initial. Implementations must not lose updates
	// under concurrent ingestion for the same user/key.
	IncrementCounter(ctx context.Context, userID string, id string, initial int64) (int64, error)

	// Execution bookkeeping
	SetExecution(ctx context.Context, record *types.ExecutionRecord) error
	UpdateExecution(ctx context.Context, id string, data map[string]interface{}) error
}

// --- Messaging Interfaces ---

type Publisher interface {
	PublishCloudEvent(ctx context.Context, topic string, e event.Event) (string, error)
}

// --- Storage Interfaces ---

type BlobStore interface {
	Write(ctx context.Context, bucket, object string, data []byte) error
	Read(ctx context.Context, bucket, object string) ([]byte, error)
}

// --- Secret Interfaces ---

type SecretStore interface {
	GetSecret(ctx context.Context, projectID, name string) (string, error)
}
