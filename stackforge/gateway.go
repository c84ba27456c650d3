package stackforge

import (
	"context"
	"errors"
)

// Names of the remote primitives, used in logs, journal records and error messages.
const (
	callFetchInventory = "FetchInventory"
	callAdjustUses     = "AdjustUses"
	callGrantInstance  = "GrantInstance"
	callRevokeInstance = "RevokeInstance"
	callSetCustomData  = "SetCustomData"
)

var (
	errInstanceNotFound = errors.New("item instance not found")
	errUsesBelowZero    = errors.New("remaining uses cannot go below zero")
)

// InventoryGateway is the remote inventory store. Each call is atomic on its own, but no call is
// transactional with any other.
type InventoryGateway interface {
	// FetchInventory returns every stack the player currently holds. Slots are not resolved.
	FetchInventory(ctx context.Context, playerID string) ([]*Stack, error)

	// AdjustUses adds delta to the stack's remaining uses. A stack brought to zero is removed.
	AdjustUses(ctx context.Context, playerID, instanceID string, delta int64) error

	// GrantInstance creates a new stack of the item type with a single use and returns its instance ID.
	GrantInstance(ctx context.Context, playerID, itemType string) (string, error)

	// RevokeInstance removes the stack from the inventory.
	RevokeInstance(ctx context.Context, playerID, instanceID string) error

	// SetCustomData merges the given entries into the stack's custom data.
	SetCustomData(ctx context.Context, playerID, instanceID string, data map[string]string) error
}

// storedStack is the record both gateway backends keep per instance.
type storedStack struct {
	InstanceId    string            `json:"instance_id"`
	ItemId        string            `json:"item_id"`
	RemainingUses *int64            `json:"remaining_uses,omitempty"`
	CustomData    map[string]string `json:"custom_data,omitempty"`
}

// uses treats a record with no use count as a single use.
func (s *storedStack) uses() int64 {
	if s.RemainingUses == nil {
		return 1
	}
	return *s.RemainingUses
}

func (s *storedStack) setUses(uses int64) {
	s.RemainingUses = &uses
}

func (s *storedStack) toStack() *Stack {
	customData := make(map[string]string, len(s.CustomData))
	for k, v := range s.CustomData {
		customData[k] = v
	}
	return &Stack{
		InstanceId:    s.InstanceId,
		ItemType:      s.ItemId,
		RemainingUses: s.uses(),
		CustomData:    customData,
	}
}

func mergeCustomData(dst, patch map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		dst[k] = v
	}
	return dst
}
