package stackforge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/heroiclabs/nakama-common/runtime"
)

// OperationJournal persists in-flight operations so an interrupted one can be finished later.
type OperationJournal interface {
	// Record stores the current state of the operation, replacing any earlier state.
	Record(ctx context.Context, rec *OperationRecord) error
	// Complete forgets the operation.
	Complete(ctx context.Context, rec *OperationRecord) error
	// Fail moves the operation out of the pending set, keeping it for inspection.
	Fail(ctx context.Context, rec *OperationRecord) error
	// Get returns the stored state of one operation, or nil if it is no longer pending.
	Get(ctx context.Context, playerID, id string) (*OperationRecord, error)
	// Pending returns up to limit operations that have not completed, across all players.
	Pending(ctx context.Context, limit int) ([]*OperationRecord, error)
}

// NakamaOperationJournal keeps operation records in server storage, owned by the player they affect.
type NakamaOperationJournal struct {
	nk         runtime.NakamaModule
	collection string
}

func NewNakamaOperationJournal(nk runtime.NakamaModule, collection string) *NakamaOperationJournal {
	if collection == "" {
		collection = operationsCollection
	}
	return &NakamaOperationJournal{
		nk:         nk,
		collection: collection,
	}
}

func (j *NakamaOperationJournal) Record(ctx context.Context, rec *OperationRecord) error {
	return j.write(ctx, j.collection, rec)
}

func (j *NakamaOperationJournal) write(ctx context.Context, collection string, rec *OperationRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding operation %s: %w", rec.Id, err)
	}
	_, err = j.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      collection,
		Key:             rec.Id,
		UserID:          rec.PlayerId,
		Value:           string(value),
		PermissionRead:  runtime.STORAGE_PERMISSION_NO_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	}})
	return err
}

func (j *NakamaOperationJournal) Complete(ctx context.Context, rec *OperationRecord) error {
	return j.nk.StorageDelete(ctx, []*runtime.StorageDelete{{
		Collection: j.collection,
		Key:        rec.Id,
		UserID:     rec.PlayerId,
	}})
}

// Fail keeps the record in a separate collection so it no longer takes up reconcile batches.
func (j *NakamaOperationJournal) Fail(ctx context.Context, rec *OperationRecord) error {
	if err := j.write(ctx, j.failedCollection(), rec); err != nil {
		return err
	}
	return j.Complete(ctx, rec)
}

func (j *NakamaOperationJournal) Get(ctx context.Context, playerID, id string) (*OperationRecord, error) {
	objects, err := j.nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: j.collection,
		Key:        id,
		UserID:     playerID,
	}})
	if err != nil {
		return nil, fmt.Errorf("reading operation %s: %w", id, err)
	}
	for _, obj := range objects {
		if obj == nil || obj.Key != id {
			continue
		}
		var rec OperationRecord
		if err := json.Unmarshal([]byte(obj.Value), &rec); err != nil {
			return nil, fmt.Errorf("decoding operation %s: %w", id, err)
		}
		return &rec, nil
	}
	return nil, nil
}

func (j *NakamaOperationJournal) failedCollection() string {
	return j.collection + "_failed"
}

func (j *NakamaOperationJournal) Pending(ctx context.Context, limit int) ([]*OperationRecord, error) {
	if limit <= 0 {
		limit = defaultReconcileBatch
	}

	records := make([]*OperationRecord, 0)
	cursor := ""
	for len(records) < limit {
		pageSize := limit - len(records)
		if pageSize > defaultInventoryPageSize {
			pageSize = defaultInventoryPageSize
		}
		objects, nextCursor, err := j.nk.StorageList(ctx, "", "", j.collection, pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing operations: %w", err)
		}
		for _, obj := range objects {
			var rec OperationRecord
			if err := json.Unmarshal([]byte(obj.Value), &rec); err != nil {
				return nil, fmt.Errorf("decoding operation %s: %w", obj.Key, err)
			}
			records = append(records, &rec)
		}
		if nextCursor == "" || len(objects) == 0 {
			break
		}
		cursor = nextCursor
	}
	return records, nil
}

// noopJournal is used when journaling is disabled.
type noopJournal struct{}

func (noopJournal) Record(context.Context, *OperationRecord) error   { return nil }
func (noopJournal) Complete(context.Context, *OperationRecord) error { return nil }
func (noopJournal) Fail(context.Context, *OperationRecord) error     { return nil }
func (noopJournal) Get(context.Context, string, string) (*OperationRecord, error) {
	return nil, nil
}
func (noopJournal) Pending(context.Context, int) ([]*OperationRecord, error) {
	return nil, nil
}
