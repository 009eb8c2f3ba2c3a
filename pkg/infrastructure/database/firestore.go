// Package database provides the Firestore-backed Database adapter.
package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	shared "github.com/fitrelay/server/pkg"
	"github.com/fitrelay/server/pkg/types"
)

// FirestoreAdapter provides database operations using Firestore
type FirestoreAdapter struct {
	Client *firestore.Client
}

func NewFirestoreAdapter(client *firestore.Client) *FirestoreAdapter {
	return &FirestoreAdapter{Client: client}
}

func (a *FirestoreAdapter) users() *firestore.CollectionRef {
	return a.Client.Collection(shared.CollectionUsers)
}

func (a *FirestoreAdapter) counters(userID string) *firestore.CollectionRef {
	return a.users().Doc(userID).Collection(shared.CollectionCounters)
}

// --- Users ---

func (a *FirestoreAdapter) GetUser(ctx context.Context, id string) (*types.UserRecord, error) {
	snap, err := a.users().Doc(id).Get(ctx)
	if err != nil {
		return nil, err
	}
	var rec types.UserRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	// The document key is authoritative for the ID
	rec.UserID = id
	return &rec, nil
}

func (a *FirestoreAdapter) UpdateUser(ctx context.Context, id string, data map[string]interface{}) error {
	_, err := a.users().Doc(id).Set(ctx, data, firestore.MergeAll)
	return err
}

// --- Pipelines ---

func (a *FirestoreAdapter) GetUserPipelines(ctx context.Context, userID string) ([]*types.PipelineConfig, error) {
	docs, err := a.users().Doc(userID).Collection(shared.CollectionPipelines).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	pipelines := make([]*types.PipelineConfig, 0, len(docs))
	for _, doc := range docs {
		var p types.PipelineConfig
		if err := doc.DataTo(&p); err != nil {
			return nil, fmt.Errorf("decode pipeline %s: %w", doc.Ref.ID, err)
		}
		p.ID = doc.Ref.ID
		pipelines = append(pipelines, &p)
	}
	return pipelines, nil
}

// --- Counters ---

func (a *FirestoreAdapter) GetCounter(ctx context.Context, userID string, id string) (*types.Counter, error) {
	snap, err := a.counters(userID).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	var c types.Counter
	if err := snap.DataTo(&c); err != nil {
		return nil, fmt.Errorf("decode counter %s: %w", id, err)
	}
	c.ID = id
	return &c, nil
}

func (a *FirestoreAdapter) SetCounter(ctx context.Context, userID string, counter *types.Counter) error {
	_, err := a.counters(userID).Doc(counter.ID).Set(ctx, counter)
	return err
}

// IncrementCounter performs the read-modify-write inside a Firestore
// transaction so concurrent ingestion for the same user/key cannot lose
// updates. A missing counter is created such that its first value is
// initial.
func (a *FirestoreAdapter) IncrementCounter(ctx context.Context, userID string, id string, initial int64) (int64, error) {
	ref := a.counters(userID).Doc(id)

	var newCount int64
	err := a.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		if err != nil { // NotFound
			newCount = initial
		} else {
			var c types.Counter
			if err := snap.DataTo(&c); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
			newCount = c.Count + 1
		}

		return tx.Set(ref, &types.Counter{
			ID:          id,
			Count:       newCount,
			LastUpdated: time.Now().UTC(),
		})
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// --- Executions ---

func (a *FirestoreAdapter) SetExecution(ctx context.Context, record *types.ExecutionRecord) error {
	_, err := a.Client.Collection(shared.CollectionExecutions).Doc(record.ID).Set(ctx, record)
	return err
}

func (a *FirestoreAdapter) UpdateExecution(ctx context.Context, id string, data map[string]interface{}) error {
	_, err := a.Client.Collection(shared.CollectionExecutions).Doc(id).Set(ctx, data, firestore.MergeAll)
	return err
}
