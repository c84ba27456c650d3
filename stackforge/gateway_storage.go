package stackforge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	inventoryStorageCollection = "inventory"
	defaultInventoryPageSize   = 100
	maxInventoryPageSize       = 1000 // Hard limit to prevent excessive memory usage
	defaultCasRetries          = 3

	// storageVersionCreateOnly makes a write fail if the object already exists.
	storageVersionCreateOnly = "*"
)

// NakamaStorageGateway keeps one storage object per stack, owned by the player and keyed by instance ID.
// Read-modify-write primitives are conditional on the object version read, so each primitive is atomic
// per instance even with concurrent writers.
type NakamaStorageGateway struct {
	nk         runtime.NakamaModule
	collection string
	pageSize   int
	casRetries int
}

// NewNakamaStorageGateway creates a storage backed gateway.
func NewNakamaStorageGateway(nk runtime.NakamaModule, config *GatewayConfig) *NakamaStorageGateway {
	g := &NakamaStorageGateway{
		nk:         nk,
		collection: inventoryStorageCollection,
		pageSize:   defaultInventoryPageSize,
		casRetries: defaultCasRetries,
	}
	if config != nil {
		if config.Collection != "" {
			g.collection = config.Collection
		}
		if config.PageSize > 0 {
			g.pageSize = config.PageSize
		}
		if g.pageSize > maxInventoryPageSize {
			g.pageSize = maxInventoryPageSize
		}
		if config.CasRetries > 0 {
			g.casRetries = config.CasRetries
		}
	}
	return g
}

func (g *NakamaStorageGateway) FetchInventory(ctx context.Context, playerID string) ([]*Stack, error) {
	stacks := make([]*Stack, 0)
	cursor := ""
	for {
		objects, nextCursor, err := g.nk.StorageList(ctx, "", playerID, g.collection, g.pageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing inventory: %w", err)
		}

		for _, obj := range objects {
			record, err := decodeStoredStack(obj)
			if err != nil {
				return nil, err
			}
			stack := record.toStack()
			stack.UpdateTimeSec = obj.GetUpdateTime().GetSeconds()
			stacks = append(stacks, stack)
		}

		if nextCursor == "" || len(objects) == 0 {
			break
		}
		cursor = nextCursor
	}
	return stacks, nil
}

func (g *NakamaStorageGateway) AdjustUses(ctx context.Context, playerID, instanceID string, delta int64) error {
	return g.mutate(ctx, playerID, instanceID, func(record *storedStack) (bool, error) {
		uses := record.uses() + delta
		if uses < 0 {
			return false, fmt.Errorf("%w: %d%+d", errUsesBelowZero, record.uses(), delta)
		}
		record.setUses(uses)
		return uses == 0, nil
	})
}

func (g *NakamaStorageGateway) GrantInstance(ctx context.Context, playerID, itemType string) (string, error) {
	record := &storedStack{
		InstanceId: uuid.New().String(),
		ItemId:     itemType,
	}
	record.setUses(1)

	if err := g.write(ctx, playerID, record, storageVersionCreateOnly); err != nil {
		return "", err
	}
	return record.InstanceId, nil
}

func (g *NakamaStorageGateway) RevokeInstance(ctx context.Context, playerID, instanceID string) error {
	return g.mutate(ctx, playerID, instanceID, func(*storedStack) (bool, error) {
		return true, nil
	})
}

func (g *NakamaStorageGateway) SetCustomData(ctx context.Context, playerID, instanceID string, data map[string]string) error {
	return g.mutate(ctx, playerID, instanceID, func(record *storedStack) (bool, error) {
		record.CustomData = mergeCustomData(record.CustomData, data)
		return false, nil
	})
}

// mutate applies fn to the stored record and writes it back conditionally on the version read.
// fn returns true to delete the record instead. A lost race re-reads and retries.
func (g *NakamaStorageGateway) mutate(ctx context.Context, playerID, instanceID string, fn func(record *storedStack) (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt <= g.casRetries; attempt++ {
		record, version, err := g.read(ctx, playerID, instanceID)
		if err != nil {
			return err
		}

		remove, err := fn(record)
		if err != nil {
			return err
		}

		if remove {
			err = g.nk.StorageDelete(ctx, []*runtime.StorageDelete{{
				Collection: g.collection,
				Key:        instanceID,
				UserID:     playerID,
				Version:    version,
			}})
		} else {
			err = g.write(ctx, playerID, record, version)
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("instance %s kept changing after %d attempts: %w", instanceID, g.casRetries+1, lastErr)
}

func (g *NakamaStorageGateway) read(ctx context.Context, playerID, instanceID string) (*storedStack, string, error) {
	objects, err := g.nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: g.collection,
		Key:        instanceID,
		UserID:     playerID,
	}})
	if err != nil {
		return nil, "", fmt.Errorf("reading instance %s: %w", instanceID, err)
	}

	for _, obj := range objects {
		if obj == nil || obj.Key != instanceID {
			continue
		}
		record, err := decodeStoredStack(obj)
		if err != nil {
			return nil, "", err
		}
		return record, obj.Version, nil
	}
	return nil, "", fmt.Errorf("%w: %s", errInstanceNotFound, instanceID)
}

func (g *NakamaStorageGateway) write(ctx context.Context, playerID string, record *storedStack, version string) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding instance %s: %w", record.InstanceId, err)
	}

	_, err = g.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      g.collection,
		Key:             record.InstanceId,
		UserID:          playerID,
		Value:           string(value),
		Version:         version,
		PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
		PermissionWrite: runtime.STORAGE_PERMISSION_NO_WRITE,
	}})
	return err
}

func decodeStoredStack(obj *api.StorageObject) (*storedStack, error) {
	var record storedStack
	if err := json.Unmarshal([]byte(obj.Value), &record); err != nil {
		return nil, fmt.Errorf("decoding instance %s: %w", obj.Key, err)
	}
	// Fallback to storage key for records written without one
	if record.InstanceId == "" {
		record.InstanceId = obj.Key
	}
	return &record, nil
}
