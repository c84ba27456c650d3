package stackforge

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	RpcIdSplitStack     = "inventory_split_stack"
	RpcIdTransferStack  = "inventory_transfer_stack"
	RpcIdSwapItems      = "inventory_swap_items"
	RpcIdUpdateItemSlot = "inventory_update_item_slot"
	RpcIdListStacks     = "inventory_list_stacks"
)

type rpcFn func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)

type splitStackRequest struct {
	PlayerId         string `json:"PlayerId"`
	SourceInstanceId string `json:"SourceInstanceId"`
	SplitAmount      int64  `json:"SplitAmount"`
	TargetSlot       int    `json:"TargetSlot"`
}

type splitStackResponse struct {
	Success bool `json:"Success"`
	*SplitResult
}

type transferStackRequest struct {
	PlayerId         string `json:"PlayerId"`
	SourceInstanceId string `json:"SourceInstanceId"`
	TargetInstanceId string `json:"TargetInstanceId"`
	Amount           int64  `json:"Amount,omitempty"`
}

type transferStackResponse struct {
	Success           bool  `json:"Success"`
	TransferredAmount int64 `json:"TransferredAmount"`
	SourceRemaining   int64 `json:"SourceRemaining"`
	TargetTotal       int64 `json:"TargetTotal"`
}

type swapItemsRequest struct {
	PlayerId    string `json:"PlayerId"`
	InstanceId1 string `json:"InstanceId1"`
	InstanceId2 string `json:"InstanceId2"`
}

type swapItemsResponse struct {
	Success bool `json:"Success"`
	Slot1   Slot `json:"Slot1"`
	Slot2   Slot `json:"Slot2"`
}

type updateItemSlotRequest struct {
	PlayerId   string `json:"PlayerId"`
	InstanceId string `json:"InstanceId"`
	NewSlot    int    `json:"NewSlot"`
}

type updateItemSlotResponse struct {
	Success    bool   `json:"Success"`
	InstanceId string `json:"InstanceId"`
	NewSlot    Slot   `json:"NewSlot"`
}

type listStacksRequest struct {
	PlayerId string `json:"PlayerId"`
}

type listStacksResponse struct {
	Success  bool              `json:"Success"`
	PlayerId string            `json:"PlayerId"`
	Stacks   map[string]*Stack `json:"Stacks"`
}

// resolvePlayerID picks the player whose inventory a call targets. Session callers may only touch
// their own inventory; server-to-server calls must name the player.
func resolvePlayerID(ctx context.Context, requested string) (string, error) {
	userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
	switch {
	case requested == "" && userID == "":
		return "", ErrNoSessionUser
	case requested == "":
		return userID, nil
	case userID != "" && requested != userID:
		return "", ErrPlayerMismatch
	}
	return requested, nil
}

func rpcResponse(logger runtime.Logger, response interface{}) (string, error) {
	responseData, err := json.Marshal(response)
	if err != nil {
		logger.Error("Failed to marshal response: %v", err)
		return "", ErrPayloadEncode
	}
	return string(responseData), nil
}

func rpcFailure(logger runtime.Logger, rpcID string, err error) error {
	logger.WithField("rpc_id", rpcID).WithField("status", HTTPStatus(err)).Warn("RPC failed: %v", err)
	return err
}

func rpcSplitStack(p *stackforgeImpl) rpcFn {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		stacksSystem := p.GetStacksSystem()
		if stacksSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request splitStackRequest
		if err := decodePayload(logger, RpcIdSplitStack, payload, &request); err != nil {
			return "", rpcFailure(logger, RpcIdSplitStack, err)
		}
		playerID, err := resolvePlayerID(ctx, request.PlayerId)
		if err != nil {
			return "", rpcFailure(logger, RpcIdSplitStack, err)
		}

		result, err := stacksSystem.Split(ctx, logger, &SplitRequest{
			PlayerId:         playerID,
			SourceInstanceId: request.SourceInstanceId,
			SplitAmount:      request.SplitAmount,
			TargetSlot:       SlotFromInt(request.TargetSlot),
		})
		if err != nil {
			return "", rpcFailure(logger, RpcIdSplitStack, err)
		}

		return rpcResponse(logger, &splitStackResponse{Success: true, SplitResult: result})
	}
}

func rpcTransferStack(p *stackforgeImpl) rpcFn {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		stacksSystem := p.GetStacksSystem()
		if stacksSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request transferStackRequest
		if err := decodePayload(logger, RpcIdTransferStack, payload, &request); err != nil {
			return "", rpcFailure(logger, RpcIdTransferStack, err)
		}
		playerID, err := resolvePlayerID(ctx, request.PlayerId)
		if err != nil {
			return "", rpcFailure(logger, RpcIdTransferStack, err)
		}

		result, err := stacksSystem.Transfer(ctx, logger, &TransferRequest{
			PlayerId:         playerID,
			SourceInstanceId: request.SourceInstanceId,
			TargetInstanceId: request.TargetInstanceId,
			Amount:           request.Amount,
		})
		if err != nil {
			return "", rpcFailure(logger, RpcIdTransferStack, err)
		}

		return rpcResponse(logger, &transferStackResponse{
			Success:           true,
			TransferredAmount: result.TransferredAmount,
			SourceRemaining:   result.SourceRemaining,
			TargetTotal:       result.TargetTotal,
		})
	}
}

func rpcSwapItems(p *stackforgeImpl) rpcFn {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		stacksSystem := p.GetStacksSystem()
		if stacksSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request swapItemsRequest
		if err := decodePayload(logger, RpcIdSwapItems, payload, &request); err != nil {
			return "", rpcFailure(logger, RpcIdSwapItems, err)
		}
		playerID, err := resolvePlayerID(ctx, request.PlayerId)
		if err != nil {
			return "", rpcFailure(logger, RpcIdSwapItems, err)
		}

		result, err := stacksSystem.Swap(ctx, logger, &SwapRequest{
			PlayerId:    playerID,
			InstanceId1: request.InstanceId1,
			InstanceId2: request.InstanceId2,
		})
		if err != nil {
			return "", rpcFailure(logger, RpcIdSwapItems, err)
		}

		return rpcResponse(logger, &swapItemsResponse{Success: true, Slot1: result.Slot1, Slot2: result.Slot2})
	}
}

func rpcUpdateItemSlot(p *stackforgeImpl) rpcFn {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		stacksSystem := p.GetStacksSystem()
		if stacksSystem == nil {
			return "", ErrSystemNotAvailable
		}

		var request updateItemSlotRequest
		if err := decodePayload(logger, RpcIdUpdateItemSlot, payload, &request); err != nil {
			return "", rpcFailure(logger, RpcIdUpdateItemSlot, err)
		}
		playerID, err := resolvePlayerID(ctx, request.PlayerId)
		if err != nil {
			return "", rpcFailure(logger, RpcIdUpdateItemSlot, err)
		}

		result, err := stacksSystem.Relocate(ctx, logger, &RelocateRequest{
			PlayerId:   playerID,
			InstanceId: request.InstanceId,
			NewSlot:    SlotFromInt(request.NewSlot),
		})
		if err != nil {
			return "", rpcFailure(logger, RpcIdUpdateItemSlot, err)
		}

		return rpcResponse(logger, &updateItemSlotResponse{Success: true, InstanceId: result.InstanceId, NewSlot: result.NewSlot})
	}
}

func rpcListStacks(p *stackforgeImpl) rpcFn {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		stacksSystem := p.GetStacksSystem()
		if stacksSystem == nil {
			return "", ErrSystemNotAvailable
		}

		// An empty payload lists the caller's own inventory.
		if payload == "" {
			payload = "{}"
		}
		var request listStacksRequest
		if err := decodePayload(logger, RpcIdListStacks, payload, &request); err != nil {
			return "", rpcFailure(logger, RpcIdListStacks, err)
		}
		playerID, err := resolvePlayerID(ctx, request.PlayerId)
		if err != nil {
			return "", rpcFailure(logger, RpcIdListStacks, err)
		}

		inventory, err := stacksSystem.ListStacks(ctx, logger, playerID)
		if err != nil {
			return "", rpcFailure(logger, RpcIdListStacks, err)
		}

		return rpcResponse(logger, &listStacksResponse{Success: true, PlayerId: inventory.PlayerId, Stacks: inventory.Stacks})
	}
}
