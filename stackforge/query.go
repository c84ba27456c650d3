package stackforge

import (
	"context"
)

// InventoryQuery reads stacks through the gateway and resolves their slots.
type InventoryQuery struct {
	gateway     InventoryGateway
	defaultSlot Slot
}

func NewInventoryQuery(gateway InventoryGateway, defaultSlot Slot) *InventoryQuery {
	return &InventoryQuery{
		gateway:     gateway,
		defaultSlot: defaultSlot,
	}
}

// Snapshot fetches the player's whole inventory once.
func (q *InventoryQuery) Snapshot(ctx context.Context, playerID string) (*Inventory, error) {
	stacks, err := q.gateway.FetchInventory(ctx, playerID)
	if err != nil {
		return nil, gatewayError(callFetchInventory, err)
	}

	inventory := &Inventory{
		PlayerId: playerID,
		Stacks:   make(map[string]*Stack, len(stacks)),
	}
	for _, stack := range stacks {
		if _, seen := inventory.Stacks[stack.InstanceId]; seen {
			continue
		}
		stack.Slot = slotFromCustomData(stack.CustomData, q.defaultSlot)
		inventory.Stacks[stack.InstanceId] = stack
	}
	return inventory, nil
}

// FetchStack returns a single stack, or a NOT_FOUND error naming it.
func (q *InventoryQuery) FetchStack(ctx context.Context, playerID, instanceID string) (*Stack, error) {
	inventory, err := q.Snapshot(ctx, playerID)
	if err != nil {
		return nil, err
	}
	stack, ok := inventory.Get(instanceID)
	if !ok {
		return nil, stackNotFound("source", instanceID)
	}
	return stack, nil
}

// FetchPair returns two stacks read from the same snapshot.
func (q *InventoryQuery) FetchPair(ctx context.Context, playerID, firstID, secondID string) (*Stack, *Stack, error) {
	inventory, err := q.Snapshot(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	first, ok := inventory.Get(firstID)
	if !ok {
		return nil, nil, stackNotFound("first", firstID)
	}
	second, ok := inventory.Get(secondID)
	if !ok {
		return nil, nil, stackNotFound("second", secondID)
	}
	return first, second, nil
}
